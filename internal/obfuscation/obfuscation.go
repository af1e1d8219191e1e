// Package obfuscation implements the "scramble" datagram transforms used by
// patched OpenVPN builds to defeat naive traffic fingerprinting.
//
// None of these transforms provide any security. They are applied to the
// fully encoded wire datagram, below the data-channel crypto.
package obfuscation

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the transform applied to every datagram of a link.
type Mode int

const (
	// ModeNone is the identity transform.
	ModeNone = Mode(iota)

	// ModeXORMask XORs every byte with a repeating mask.
	ModeXORMask

	// ModeXORPtrPos XORs every byte with its 1-based position.
	ModeXORPtrPos

	// ModeReverse keeps the first byte and reverses the rest.
	ModeReverse

	// ModeObfuscate combines the three transforms above.
	ModeObfuscate
)

var (
	// ErrUnknownMode is returned for mode names we do not know.
	ErrUnknownMode = errors.New("unknown obfuscation mode")

	// ErrMissingMask is returned when a mask-based mode has no mask.
	ErrMissingMask = errors.New("obfuscation mode requires a mask")
)

var modeNames = map[Mode]string{
	ModeNone:      "none",
	ModeXORMask:   "xormask",
	ModeXORPtrPos: "xorptrpos",
	ModeReverse:   "reverse",
	ModeObfuscate: "obfuscate",
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMode parses a "scramble" mode name.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeNone, nil
	}
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return ModeNone, fmt.Errorf("%w: %s", ErrUnknownMode, s)
}

// Obfuscator transforms datagrams. It is immutable and safe for concurrent use.
type Obfuscator struct {
	mode Mode
	mask []byte
}

// New returns an [*Obfuscator]. The mask is copied and is required by
// [ModeXORMask] and [ModeObfuscate].
func New(mode Mode, mask []byte) (*Obfuscator, error) {
	if _, ok := modeNames[mode]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
	if (mode == ModeXORMask || mode == ModeObfuscate) && len(mask) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingMask, mode)
	}
	return &Obfuscator{mode: mode, mask: append([]byte{}, mask...)}, nil
}

// Mode returns the configured mode. A nil obfuscator is [ModeNone].
func (o *Obfuscator) Mode() Mode {
	if o == nil {
		return ModeNone
	}
	return o.mode
}

// Encode returns the transformed datagram. The input is never modified.
func (o *Obfuscator) Encode(in []byte) []byte {
	out := append([]byte{}, in...)
	switch o.Mode() {
	case ModeXORMask:
		xorMask(out, o.mask)
	case ModeXORPtrPos:
		xorPtrPos(out)
	case ModeReverse:
		reverse(out)
	case ModeObfuscate:
		xorMask(out, o.mask)
		reverse(out)
		xorPtrPos(out)
	}
	return out
}

// Decode inverts [Obfuscator.Encode]. The input is never modified.
func (o *Obfuscator) Decode(in []byte) []byte {
	out := append([]byte{}, in...)
	switch o.Mode() {
	case ModeXORMask:
		xorMask(out, o.mask)
	case ModeXORPtrPos:
		xorPtrPos(out)
	case ModeReverse:
		reverse(out)
	case ModeObfuscate:
		// inverse steps in inverse order
		xorPtrPos(out)
		reverse(out)
		xorMask(out, o.mask)
	}
	return out
}

// xorMask XORs b in place with the repeating mask.
func xorMask(b, mask []byte) {
	for i := range b {
		b[i] ^= mask[i%len(mask)]
	}
}

// xorPtrPos XORs b in place with (i+1) mod 256.
func xorPtrPos(b []byte) {
	for i := range b {
		b[i] ^= byte(i + 1)
	}
}

// reverse reverses b[1:] in place.
func reverse(b []byte) {
	if len(b) < 3 {
		return
	}
	for i, j := 1, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
