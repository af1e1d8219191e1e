// Package keymaterial holds secret key bytes that are wiped when released.
//
// A [*Key] owns a private copy of its bytes. Borrowed views obtained with
// [Key.Bytes] become all-zero once the key is wiped, so callers must not
// retain them past the lifetime of the key.
package keymaterial

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ooni/vpndatapath/internal/bytesx"
)

var (
	// ErrTooShort is returned when a prefix longer than the key is requested.
	ErrTooShort = errors.New("key material too short")

	// ErrRandom is returned when we cannot generate random key material.
	ErrRandom = errors.New("cannot generate key material")
)

// randomFn mocks the function to generate random bytes.
var randomFn = bytesx.GenRandomBytes

// Key is a zero-on-release holder of secret bytes.
type Key struct {
	mu    sync.RWMutex
	buf   []byte
	wiped bool
}

// New returns a key holding a copy of b. The caller keeps ownership of b.
func New(b []byte) *Key {
	buf := make([]byte, len(b))
	copy(buf, b)
	return newKey(buf)
}

// Random returns a key of size bytes read from a CSRNG.
func Random(size int) (*Key, error) {
	buf, err := randomFn(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRandom, err.Error())
	}
	return newKey(buf), nil
}

func newKey(buf []byte) *Key {
	k := &Key{buf: buf}
	runtime.SetFinalizer(k, func(k *Key) { k.Wipe() })
	return k
}

// Bytes returns a borrowed view of the key bytes.
func (k *Key) Bytes() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.buf
}

// Len returns the key length in bytes.
func (k *Key) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.buf)
}

// Prefix returns a new key holding a copy of the first n bytes.
func (k *Key) Prefix(n int) (*Key, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if n < 0 || n > len(k.buf) {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTooShort, n, len(k.buf))
	}
	return New(k.buf[:n]), nil
}

// Clone returns an independent copy of the key.
func (k *Key) Clone() *Key {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return New(k.buf)
}

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	if k == other {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	return subtle.ConstantTimeCompare(k.buf, other.buf) == 1
}

// Wipe overwrites the key bytes with zeros. It is safe to call more than once.
func (k *Key) Wipe() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	bytesx.Zero(k.buf)
	k.wiped = true
}

// IsWiped reports whether [Key.Wipe] has been called.
func (k *Key) IsWiped() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.wiped
}

// String implements fmt.Stringer without revealing the key.
func (k *Key) String() string {
	return fmt.Sprintf("keymaterial.Key{len=%d}", k.Len())
}

// GoString implements fmt.GoStringer without revealing the key.
func (k *Key) GoString() string {
	return k.String()
}
