package model

import (
	"errors"
	"fmt"
)

// Compression describes the compression framing negotiated for the data
// channel (e.g., stub).
type Compression string

const (
	// CompressionNone disables compression framing entirely.
	CompressionNone = Compression("")

	// CompressionEmpty is the empty compression ("compress" with no argument).
	CompressionEmpty = Compression("empty")

	// CompressionStub adds the (empty) compression stub to the packets.
	CompressionStub = Compression("stub")

	// CompressionStubV2 is the v2 compression stub.
	CompressionStubV2 = Compression("stub-v2")

	// CompressionLZONo is lzo-no (another type of no-compression, older).
	CompressionLZONo = Compression("lzo-no")

	// CompressionLZ4 compresses with LZ4 using the v1 framing.
	CompressionLZ4 = Compression("lz4")

	// CompressionLZ4V2 compresses with LZ4 using the v2 framing.
	CompressionLZ4V2 = Compression("lz4-v2")
)

// ErrUnknownCompression is returned for compression names we do not know.
var ErrUnknownCompression = errors.New("unknown compression")

// ParseCompression validates a compression name.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case CompressionNone, CompressionEmpty, CompressionStub, CompressionStubV2,
		CompressionLZONo, CompressionLZ4, CompressionLZ4V2:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCompression, s)
	}
}
