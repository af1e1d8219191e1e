package cryptosuite

import (
	"fmt"
	"sync"

	"github.com/ooni/vpndatapath/internal/keymaterial"
)

type direction int

const (
	directionNone = direction(iota)
	directionEncrypt
	directionDecrypt
)

// keyState holds the keys of a suite and the direction they serve.
type keyState struct {
	mu        sync.RWMutex
	dir       direction
	cipherKey *keymaterial.Key
	hmacKey   *keymaterial.Key
}

// prefixOrNil copies the first n bytes of k, returning nil for n == 0.
func prefixOrNil(k *keymaterial.Key, n int, what string) (*keymaterial.Key, error) {
	if n == 0 {
		return nil, nil
	}
	if k == nil {
		return nil, fmt.Errorf("%w: missing %s key", ErrInvalidKey, what)
	}
	p, err := k.Prefix(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s key: %s", ErrInvalidKey, what, err.Error())
	}
	return p, nil
}

// configure installs copies of the key prefixes for dir. A zero length means
// the key is not needed. Reconfiguring the same direction wipes the old keys.
func (ks *keyState) configure(dir direction, cipherKey *keymaterial.Key, cipherLen int,
	hmacKey *keymaterial.Key, hmacLen int) error {
	ck, err := prefixOrNil(cipherKey, cipherLen, "cipher")
	if err != nil {
		return err
	}
	hk, err := prefixOrNil(hmacKey, hmacLen, "hmac")
	if err != nil {
		ck.Wipe()
		return err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.dir != directionNone && ks.dir != dir {
		ck.Wipe()
		hk.Wipe()
		return ErrWrongDirection
	}
	ks.cipherKey.Wipe()
	ks.hmacKey.Wipe()
	ks.dir, ks.cipherKey, ks.hmacKey = dir, ck, hk
	return nil
}

// acquire read-locks the state after checking it serves dir. On success the
// caller must call ks.mu.RUnlock.
func (ks *keyState) acquire(dir direction) error {
	ks.mu.RLock()
	switch ks.dir {
	case dir:
		return nil
	case directionNone:
		ks.mu.RUnlock()
		return ErrNotConfigured
	default:
		ks.mu.RUnlock()
		return ErrWrongDirection
	}
}

// keyBytes returns the borrowed bytes of k, or nil.
func keyBytes(k *keymaterial.Key) []byte {
	if k == nil {
		return nil
	}
	return k.Bytes()
}

// Close wipes the keys and returns the state to unconfigured.
func (ks *keyState) Close() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.cipherKey.Wipe()
	ks.hmacKey.Wipe()
	ks.dir, ks.cipherKey, ks.hmacKey = directionNone, nil, nil
}
