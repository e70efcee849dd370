package app

import "github.com/dkeye/vidcall/internal/core"

type ExceptionAction int

const (
	NoAction ExceptionAction = iota
	Surface
)

// Policy decides what happens to engine exceptions. Exceptions never force
// a session transition.
type Policy interface {
	OnException(ex core.EngineException) ExceptionAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnException(core.EngineException) ExceptionAction {
	return Surface
}
