package core

import "errors"

var (
	ErrCredential        = errors.New("credential request failed")
	ErrMediaAcquisition  = errors.New("unable to acquire local media")
	ErrPublish           = errors.New("publish rejected")
	ErrDeviceEnumeration = errors.New("unable to enumerate devices")
	ErrInvalidState      = errors.New("operation invalid in current state")
	ErrConnect           = errors.New("unable to connect session")
	ErrSessionClosed     = errors.New("session closed before operation completed")
	ErrUnknownMainView   = errors.New("main view target not found")
)
