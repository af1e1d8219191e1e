package datachannel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/vpndatapath/internal/model"
)

func Test_doCompress(t *testing.T) {
	tests := []struct {
		name     string
		compress model.Compression
		in       []byte
		want     []byte
	}{{
		name:     "no compression",
		compress: model.CompressionNone,
		in:       []byte{0x01, 0x02, 0x03},
		want:     []byte{0x01, 0x02, 0x03},
	}, {
		name:     "stub swaps the first byte",
		compress: model.CompressionStub,
		in:       []byte{0x01, 0x02, 0x03},
		want:     []byte{0xfb, 0x02, 0x03, 0x01},
	}, {
		name:     "lzo-no prefix",
		compress: model.CompressionLZONo,
		in:       []byte{0x01, 0x02, 0x03},
		want:     []byte{0xfa, 0x01, 0x02, 0x03},
	}, {
		name:     "stub-v2 leaves ordinary payloads alone",
		compress: model.CompressionStubV2,
		in:       []byte{0x45, 0x00},
		want:     []byte{0x45, 0x00},
	}, {
		name:     "stub-v2 escapes the indicator byte",
		compress: model.CompressionStubV2,
		in:       []byte{0x50, 0x00},
		want:     []byte{0x50, 0x00, 0x50, 0x00},
	}, {
		name:     "lz4 does not compress short payloads",
		compress: model.CompressionLZ4,
		in:       []byte{0x01, 0x02, 0x03},
		want:     []byte{0xfb, 0x02, 0x03, 0x01},
	}, {
		name:     "lz4-v2 does not compress short payloads",
		compress: model.CompressionLZ4V2,
		in:       []byte{0x50, 0x01},
		want:     []byte{0x50, 0x00, 0x50, 0x01},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]byte{}, tt.in...)
			got := doCompress(in, tt.compress)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff(tt.in, in); diff != "" {
				t.Fatalf("input modified: %s", diff)
			}
		})
	}
}

func Test_lz4Framing(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 50)

	t.Run("v1 uses the swap framing", func(t *testing.T) {
		framed := doCompress(payload, model.CompressionLZ4)
		if framed[0] != lz4CompressByte || len(framed) >= len(payload) {
			t.Fatalf("expected a compressed frame, got %d bytes starting with %x", len(framed), framed[0])
		}
		got, err := maybeDecompress(framed, model.CompressionLZ4)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(payload, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("v2 uses the indicator framing", func(t *testing.T) {
		framed := doCompress(payload, model.CompressionLZ4V2)
		if framed[0] != algV2IndicatorByte || framed[1] != algV2LZ4Byte {
			t.Fatalf("unexpected v2 header %x", framed[:2])
		}
		got, err := maybeDecompress(framed, model.CompressionLZ4V2)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(payload, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("incompressible payloads are sent as is", func(t *testing.T) {
		random := make([]byte, 200)
		for i := range random {
			random[i] = byte(i*167 + i*i*13)
		}
		framed := doCompress(random, model.CompressionLZ4V2)
		got, err := maybeDecompress(framed, model.CompressionLZ4V2)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(random, got); diff != "" {
			t.Fatal(diff)
		}
	})
}

func Test_maybeDecompress_Errors(t *testing.T) {
	tests := []struct {
		name     string
		compress model.Compression
		in       []byte
	}{
		{"stub with empty payload", model.CompressionStub, []byte{}},
		{"stub with unknown marker", model.CompressionStub, []byte{0x66, 0x01}},
		{"stub does not accept lz4 blocks", model.CompressionStub, []byte{lz4CompressByte, 0x00, 0x01}},
		{"stub with a truncated swap frame", model.CompressionStub, []byte{noCompressByteSwap}},
		{"lzo-no without marker", model.CompressionLZONo, []byte{0x01, 0x02}},
		{"v2 truncated header", model.CompressionStubV2, []byte{algV2IndicatorByte}},
		{"v2 unknown algorithm", model.CompressionStubV2, []byte{algV2IndicatorByte, 0x07, 0x00}},
		{"stub-v2 does not accept lz4 blocks", model.CompressionStubV2, []byte{algV2IndicatorByte, algV2LZ4Byte, 0x00}},
		{"lz4-v2 with a corrupt block", model.CompressionLZ4V2, []byte{algV2IndicatorByte, algV2LZ4Byte, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := maybeDecompress(tt.in, tt.compress); !errors.Is(err, ErrBadCompression) {
				t.Fatalf("expected ErrBadCompression, got %v", err)
			}
		})
	}
}

func Test_maybeDecompress_LegacyMarkerInStubMode(t *testing.T) {
	got, err := maybeDecompress([]byte{noCompressByte, 0x01, 0x02}, model.CompressionStub)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x01, 0x02}, got); diff != "" {
		t.Fatal(diff)
	}
}

func Test_isPing(t *testing.T) {
	if !isPing(pingPayload[:]) {
		t.Fatal("ping not recognized")
	}
	if isPing(pingPayload[:15]) {
		t.Fatal("truncated ping recognized")
	}
}

func Test_lz4Decompress_DoesNotRetainScratch(t *testing.T) {
	first := bytes.Repeat([]byte("first-"), 100)
	second := bytes.Repeat([]byte("second"), 100)
	gotFirst, err := maybeDecompress(doCompress(first, model.CompressionLZ4V2), model.CompressionLZ4V2)
	if err != nil {
		t.Fatal(err)
	}
	gotSecond, err := maybeDecompress(doCompress(second, model.CompressionLZ4V2), model.CompressionLZ4V2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, gotFirst); diff != "" {
		t.Fatalf("first packet changed by the second one: %s", diff)
	}
	if diff := cmp.Diff(second, gotSecond); diff != "" {
		t.Fatal(diff)
	}
	if cap(gotFirst) >= maxDecompressed {
		t.Fatalf("decompressed packet holds a %d bytes buffer", cap(gotFirst))
	}
}
