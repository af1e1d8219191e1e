package session

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ooni/vpndatapath/internal/bytesx"
)

// randomFn mocks the function to generate random bytes.
var randomFn = bytesx.GenRandomBytes

// errRandomBytes is the error returned when we cannot generate random bytes.
var errRandomBytes = errors.New("error generating random bytes")

// KeySource contains the random data each peer contributes to the key
// expansion. Only the client's PreMaster is used.
type KeySource struct {
	R1        [32]byte
	R2        [32]byte
	PreMaster [48]byte
}

// Bytes returns the byte representation of a keySource.
func (k *KeySource) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.Write(k.PreMaster[:])
	buf.Write(k.R1[:])
	buf.Write(k.R2[:])
	return buf.Bytes()
}

// Wipe zeroes the key source.
func (k *KeySource) Wipe() {
	bytesx.Zero(k.R1[:])
	bytesx.Zero(k.R2[:])
	bytesx.Zero(k.PreMaster[:])
}

// NewKeySource constructs a new [KeySource].
func NewKeySource() (*KeySource, error) {
	ks := &KeySource{}
	for _, dst := range [][]byte{ks.R1[:], ks.R2[:], ks.PreMaster[:]} {
		random, err := randomFn(len(dst))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errRandomBytes, err.Error())
		}
		copy(dst, random)
		bytesx.Zero(random)
	}
	return ks, nil
}
