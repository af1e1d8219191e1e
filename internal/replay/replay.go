// Package replay implements packet-id generation and replay protection for
// the data channel.
//
// A [Sender] hands out strictly increasing ids starting at 1. A [Window]
// remembers which ids were received inside a sliding window anchored at the
// highest id seen, and rejects duplicates and ids that fell behind it.
package replay

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"golang.zx2c4.com/wireguard/replay"

	"github.com/ooni/vpndatapath/internal/model"
)

const (
	// MaxWindowSize is the largest supported window, bounded by the ring
	// of the underlying filter.
	MaxWindowSize = 8128

	// DefaultWindowSize matches the openvpn replay-window default.
	DefaultWindowSize = 64

	// counterLimit rejects anything that does not fit a 32-bit packet id.
	counterLimit = math.MaxUint32 + 1
)

var (
	// ErrIDExhausted means the sender used every packet id; the keys
	// must be renegotiated.
	ErrIDExhausted = errors.New("packet id space exhausted")

	// ErrWindowSize means the requested window size is out of range.
	ErrWindowSize = errors.New("invalid replay window size")
)

// Sender generates outgoing packet ids. The zero value is ready to use.
type Sender struct {
	last atomic.Uint32
}

// Next returns the next packet id. It fails with [ErrIDExhausted] once
// math.MaxUint32 has been handed out; 0 is never returned.
func (s *Sender) Next() (model.PacketID, error) {
	for {
		cur := s.last.Load()
		if cur == math.MaxUint32 {
			return 0, ErrIDExhausted
		}
		if s.last.CompareAndSwap(cur, cur+1) {
			return model.PacketID(cur + 1), nil
		}
	}
}

// Last returns the last id handed out, or 0.
func (s *Sender) Last() model.PacketID {
	return model.PacketID(s.last.Load())
}

// Reset starts a new key epoch. The next id is 1 again.
func (s *Sender) Reset() {
	s.last.Store(0)
}

// Status is the outcome of [Window.Check].
type Status int

const (
	// StatusOK means the id may be accepted.
	StatusOK = Status(iota)

	// StatusJump means the id is acceptable but jumps ahead of the highest
	// id by more than the configured threshold.
	StatusJump

	// StatusInvalid means the id is zero.
	StatusInvalid

	// StatusTooOld means the id fell out of the window.
	StatusTooOld
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusJump:
		return "jump"
	case StatusInvalid:
		return "invalid"
	case StatusTooOld:
		return "too-old"
	default:
		return "unknown"
	}
}

// Window is a sliding replay window. It is safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	filter replay.Filter
	size   uint32
	jump   uint32
	high   uint32
}

// NewWindow returns a window tracking size ids. A zero size selects
// [DefaultWindowSize]. A positive jumpThreshold makes [Window.Check] report
// [StatusJump] for ids further ahead than that; zero disables it.
func NewWindow(size, jumpThreshold int) (*Window, error) {
	if size == 0 {
		size = DefaultWindowSize
	}
	if size < 0 || size > MaxWindowSize {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrWindowSize, size, MaxWindowSize)
	}
	if jumpThreshold < 0 {
		return nil, fmt.Errorf("%w: negative jump threshold", ErrWindowSize)
	}
	return &Window{size: uint32(size), jump: uint32(jumpThreshold)}, nil
}

// Size returns the window size.
func (w *Window) Size() int {
	return int(w.size)
}

// tooOld returns whether id fell behind the window. Caller holds mu.
func (w *Window) tooOld(id uint32) bool {
	return id <= w.high && w.high-id >= w.size
}

// Check classifies id without modifying the window. An id reported as
// [StatusOK] may still be a duplicate, which only [Window.Accept] detects.
func (w *Window) Check(id model.PacketID) Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch v := uint32(id); {
	case v == 0:
		return StatusInvalid
	case w.tooOld(v):
		return StatusTooOld
	case w.jump > 0 && v > w.high && v-w.high > w.jump:
		return StatusJump
	default:
		return StatusOK
	}
}

// Accept records id and returns true iff it is non-zero, inside the window
// and never seen before. A rejected id leaves the window untouched.
func (w *Window) Accept(id model.PacketID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := uint32(id)
	if v == 0 || w.tooOld(v) {
		return false
	}
	if !w.filter.ValidateCounter(uint64(v), counterLimit) {
		return false
	}
	if v > w.high {
		w.high = v
	}
	return true
}

// High returns the highest accepted id.
func (w *Window) High() model.PacketID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.PacketID(w.high)
}

// Reset forgets every id, starting a new key epoch.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filter.Reset()
	w.high = 0
}
