// Package media captures local camera and microphone through
// pion/mediadevices and enumerates input devices.
package media

import (
	"errors"

	"github.com/google/uuid"
)

var ErrUnsupported = errors.New("local capture is not supported on this platform")

func newStreamID() string {
	return "local_" + uuid.NewString()
}
