package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDataChannelKey is a [DataChannelKey] error.
	ErrDataChannelKey = errors.New("bad data-channel key")
)

// DataChannelKey represents a pair of key sources that have been negotiated
// over the control channel, and from which we will derive local and remote
// keys for encryption and decryption over the data channel. The key id is
// the short key_id that is passed in the lower 3 bits of a packet header.
// The local key source is the client's.
type DataChannelKey struct {
	keyID  byte
	ready  bool
	local  *KeySource
	remote *KeySource
	mu     sync.Mutex
}

// NewDataChannelKey returns an empty key for the given key id.
func NewDataChannelKey(keyID byte) *DataChannelKey {
	return &DataChannelKey{keyID: keyID & 0x07}
}

// KeyID returns the key id.
func (dck *DataChannelKey) KeyID() byte {
	return dck.keyID
}

// Local returns the local [KeySource]
func (dck *DataChannelKey) Local() *KeySource {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	return dck.local
}

// Remote returns the remote [KeySource]
func (dck *DataChannelKey) Remote() *KeySource {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	return dck.remote
}

// AddRemoteKey adds the server keySource to our dataChannelKey. This makes the
// dataChannelKey ready to be used.
func (dck *DataChannelKey) AddRemoteKey(k *KeySource) error {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	if dck.ready {
		return fmt.Errorf("%w: %s", ErrDataChannelKey, "cannot overwrite remote key slot")
	}
	if dck.local == nil {
		return fmt.Errorf("%w: %s", ErrDataChannelKey, "local key must be added first")
	}
	dck.remote = k
	dck.ready = true
	return nil
}

// AddLocalKey adds the local keySource to our dataChannelKey.
func (dck *DataChannelKey) AddLocalKey(k *KeySource) error {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	if dck.ready {
		return fmt.Errorf("%w: %s", ErrDataChannelKey, "cannot overwrite local key slot")
	}
	dck.local = k
	return nil
}

// Ready returns whether the [DataChannelKey] is ready.
func (dck *DataChannelKey) Ready() bool {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	return dck.ready
}

// Keys expands the key sources into data-channel keys for the client.
func (dck *DataChannelKey) Keys(localSID, remoteSID []byte) (*Keys, error) {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	if !dck.ready {
		return nil, fmt.Errorf("%w: %s", ErrDataChannelKey, "key not ready")
	}
	return ExpandKeys(dck.local, dck.remote, localSID, remoteSID)
}
