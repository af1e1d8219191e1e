package datachannel

//
// Compression framing
//
// See http://build.openvpn.net/doxygen/comp_8h_source.html
//

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/ooni/vpndatapath/internal/model"
)

const (
	// noCompressByte is the old "comp-lzo no" marker.
	noCompressByte = 0xfa

	// noCompressByteSwap is the compression stub marker. The first payload
	// byte is moved to the end of the packet.
	noCompressByteSwap = 0xfb

	// lz4CompressByte marks an lz4 block using the v1 swap framing.
	lz4CompressByte = 0x69

	// algV2IndicatorByte introduces a v2 compression header.
	algV2IndicatorByte = 0x50

	// algV2UncompressedByte follows the indicator for escaped payloads.
	algV2UncompressedByte = 0x00

	// algV2LZ4Byte follows the indicator for lz4 blocks.
	algV2LZ4Byte = 0x01

	// lz4MinInput is the smallest payload we try to compress.
	lz4MinInput = 100

	// maxDecompressed bounds the output of lz4 decompression.
	maxDecompressed = 1 << 16
)

// doCompress applies the compression framing to a non-empty payload and
// returns a new buffer.
func doCompress(b []byte, compress model.Compression) []byte {
	switch compress {
	case model.CompressionStub:
		return swapFrame(noCompressByteSwap, b)

	case model.CompressionLZONo:
		return prefixFrame([]byte{noCompressByte}, b)

	case model.CompressionStubV2:
		return escapeV2(b)

	case model.CompressionLZ4:
		if compressed, ok := lz4Compress(b); ok {
			return swapFrame(lz4CompressByte, compressed)
		}
		return swapFrame(noCompressByteSwap, b)

	case model.CompressionLZ4V2:
		if compressed, ok := lz4Compress(b); ok {
			return prefixFrame([]byte{algV2IndicatorByte, algV2LZ4Byte}, compressed)
		}
		return escapeV2(b)

	default:
		return prefixFrame(nil, b)
	}
}

// maybeDecompress undoes the framing applied by [doCompress]. The input is
// never modified.
func maybeDecompress(b []byte, compress model.Compression) ([]byte, error) {
	switch compress {
	case model.CompressionStub, model.CompressionLZ4:
		if len(b) < 1 {
			return nil, fmt.Errorf("%w: empty payload", ErrBadCompression)
		}
		switch b[0] {
		case noCompressByteSwap:
			return unswapFrame(b)
		case noCompressByte:
			return prefixFrame(nil, b[1:]), nil
		case lz4CompressByte:
			if compress != model.CompressionLZ4 {
				break
			}
			block, err := unswapFrame(b)
			if err != nil {
				return nil, err
			}
			return lz4Decompress(block)
		}
		return nil, fmt.Errorf("%w: cannot handle compression: %x", ErrBadCompression, b[0])

	case model.CompressionLZONo:
		if len(b) < 1 || b[0] != noCompressByte {
			return nil, fmt.Errorf("%w: expected lzo-no marker", ErrBadCompression)
		}
		return prefixFrame(nil, b[1:]), nil

	case model.CompressionStubV2, model.CompressionLZ4V2:
		if len(b) < 1 || b[0] != algV2IndicatorByte {
			return prefixFrame(nil, b), nil
		}
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: truncated v2 header", ErrBadCompression)
		}
		switch b[1] {
		case algV2UncompressedByte:
			return prefixFrame(nil, b[2:]), nil
		case algV2LZ4Byte:
			if compress == model.CompressionLZ4V2 {
				return lz4Decompress(b[2:])
			}
		}
		return nil, fmt.Errorf("%w: cannot handle v2 compression: %x", ErrBadCompression, b[1])

	default:
		return prefixFrame(nil, b), nil
	}
}

// swapFrame moves the first byte of b to the end and writes marker in its place.
func swapFrame(marker byte, b []byte) []byte {
	out := make([]byte, 0, len(b)+1)
	out = append(out, marker)
	out = append(out, b[1:]...)
	return append(out, b[0])
}

// unswapFrame reverses [swapFrame].
func unswapFrame(b []byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: truncated swap frame", ErrBadCompression)
	}
	out := make([]byte, 0, len(b)-1)
	out = append(out, b[len(b)-1])
	return append(out, b[1:len(b)-1]...), nil
}

// prefixFrame returns a new buffer containing prefix followed by b.
func prefixFrame(prefix, b []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(b))
	out = append(out, prefix...)
	return append(out, b...)
}

// escapeV2 escapes payloads that would be mistaken for a v2 header.
func escapeV2(b []byte) []byte {
	if b[0] == algV2IndicatorByte {
		return prefixFrame([]byte{algV2IndicatorByte, algV2UncompressedByte}, b)
	}
	return prefixFrame(nil, b)
}

// lz4Compress returns the compressed block and true when compression helps.
func lz4Compress(b []byte) ([]byte, bool) {
	if len(b) < lz4MinInput {
		return nil, false
	}
	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	n, err := lz4.CompressBlock(b, dst, nil)
	if err != nil || n == 0 || n >= len(b) {
		return nil, false
	}
	return dst[:n], true
}

// lz4Buffers holds scratch buffers of [maxDecompressed] bytes.
var lz4Buffers = sync.Pool{
	New: func() any {
		b := make([]byte, maxDecompressed)
		return &b
	},
}

// lz4Decompress decompresses a block of at most [maxDecompressed] bytes.
func lz4Decompress(b []byte) ([]byte, error) {
	scratch := lz4Buffers.Get().(*[]byte)
	defer lz4Buffers.Put(scratch)
	n, err := lz4.UncompressBlock(b, *scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %s", ErrBadCompression, err.Error())
	}
	return append([]byte{}, (*scratch)[:n]...), nil
}
