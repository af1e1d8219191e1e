// Package bytesx provides functions operating on bytes.
//
// Specifically we implement these operations:
//
// 1. generating random bytes;
//
// 2. PKCS#7 padding and unpadding;
//
// 3. wiping secrets.
package bytesx

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"

	"github.com/ooni/vpndatapath/internal/runtimex"
)

var (
	// ErrPaddingPKCS7 indicates that a PKCS#7 padding error has occurred.
	ErrPaddingPKCS7 = errors.New("PKCS#7 padding error")

	// ErrUnpaddingPKCS7 indicates that a PKCS#7 unpadding error has occurred.
	ErrUnpaddingPKCS7 = errors.New("PKCS#7 unpadding error")
)

// GenRandomBytes returns an array of bytes with the given size using
// a CSRNG, on success, or an error, in case of failure.
func GenRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	return b, err
}

// BytesUnpadPKCS7 performs the PKCS#7 unpadding of a byte array. Every
// padding byte is checked; the check does not branch on the padding content.
func BytesUnpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	if blockSize <= 0 || blockSize > math.MaxUint8 {
		return nil, fmt.Errorf("%w: invalid blockSize %d", ErrUnpaddingPKCS7, blockSize)
	}
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of the block size", ErrUnpaddingPKCS7, len(b))
	}
	psiz := int(b[len(b)-1])
	if psiz == 0 || psiz > blockSize {
		return nil, fmt.Errorf("%w: bad padding size", ErrUnpaddingPKCS7)
	}
	tail := b[len(b)-blockSize:]
	good := 1
	for i := range tail {
		// positions inside the padding must all equal psiz
		inPad := subtle.ConstantTimeLessOrEq(blockSize-psiz, i)
		eq := subtle.ConstantTimeByteEq(tail[i], byte(psiz))
		good &= subtle.ConstantTimeSelect(inPad, eq, 1)
	}
	if good != 1 {
		return nil, fmt.Errorf("%w: inconsistent padding", ErrUnpaddingPKCS7)
	}
	off := len(b) - psiz
	runtimex.Assert(off >= 0 && off <= len(b), "off is out of bounds")
	return b[:off], nil
}

// BytesPadPKCS7 returns the PKCS#7 padding of a byte array. The input
// slice is never modified.
func BytesPadPKCS7(b []byte, blockSize int) ([]byte, error) {
	runtimex.PanicIfTrue(blockSize <= 0, "blocksize cannot be negative or zero")

	// If lth mod blockSize == 0, then the input gets appended a whole block size
	// See https://datatracker.ietf.org/doc/html/rfc5652#section-6.3
	if blockSize > math.MaxUint8 {
		// This padding method is well defined iff blockSize is less than 256.
		return nil, ErrPaddingPKCS7
	}
	psiz := blockSize - len(b)%blockSize
	out := make([]byte, len(b), len(b)+psiz)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(psiz)}, psiz)...), nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
