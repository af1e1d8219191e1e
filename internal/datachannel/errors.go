package datachannel

import (
	"errors"
	"fmt"
)

var (
	// ErrDropped wraps the cause of every packet dropped on the decrypt path.
	ErrDropped = errors.New("packet dropped")

	// ErrReplay means the packet id was already seen or fell behind the window.
	ErrReplay = errors.New("replayed packet")

	// ErrBadCompression means the compression framing could not be undone.
	ErrBadCompression = errors.New("bad compression")

	// ErrPing means the packet was a keepalive ping. Pings are consumed by
	// the codec and never delivered upward.
	ErrPing = errors.New("keepalive ping")

	// ErrCannotEncrypt is returned when an outbound packet cannot be built.
	ErrCannotEncrypt = errors.New("cannot encrypt")

	// ErrBadOptions means the codec options are invalid.
	ErrBadOptions = errors.New("bad datachannel options")
)

// dropped wraps cause with [ErrDropped].
func dropped(cause error) error {
	return fmt.Errorf("%w: %w", ErrDropped, cause)
}
