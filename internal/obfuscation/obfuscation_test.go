package obfuscation

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr error
	}{
		{"", ModeNone, nil},
		{"none", ModeNone, nil},
		{"xormask", ModeXORMask, nil},
		{"XorPtrPos", ModeXORPtrPos, nil},
		{"reverse", ModeReverse, nil},
		{" obfuscate ", ModeObfuscate, nil},
		{"rot13", ModeNone, ErrUnknownMode},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseMode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	if _, err := New(ModeXORMask, nil); !errors.Is(err, ErrMissingMask) {
		t.Fatalf("expected ErrMissingMask, got %v", err)
	}
	if _, err := New(ModeObfuscate, []byte{}); !errors.Is(err, ErrMissingMask) {
		t.Fatalf("expected ErrMissingMask, got %v", err)
	}
	if _, err := New(Mode(42), nil); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if _, err := New(ModeReverse, nil); err != nil {
		t.Fatal(err)
	}

	t.Run("the mask is copied", func(t *testing.T) {
		mask := []byte{0x0f}
		o, err := New(ModeXORMask, mask)
		if err != nil {
			t.Fatal(err)
		}
		mask[0] = 0xf0
		if diff := cmp.Diff([]byte{0x0f}, o.Encode([]byte{0x00})); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestEncode(t *testing.T) {
	in := []byte{0x10, 0x20, 0x30, 0x40}
	tests := []struct {
		name string
		mode Mode
		mask []byte
		want []byte
	}{{
		name: "none",
		mode: ModeNone,
		want: []byte{0x10, 0x20, 0x30, 0x40},
	}, {
		name: "xormask",
		mode: ModeXORMask,
		mask: []byte{0xff, 0x01},
		want: []byte{0xef, 0x21, 0xcf, 0x41},
	}, {
		name: "xorptrpos",
		mode: ModeXORPtrPos,
		want: []byte{0x11, 0x22, 0x33, 0x44},
	}, {
		name: "reverse",
		mode: ModeReverse,
		want: []byte{0x10, 0x40, 0x30, 0x20},
	}, {
		// xormask: ef 21 cf 41; reverse: ef 41 cf 21; xorptrpos: ee 43 cc 25
		name: "obfuscate",
		mode: ModeObfuscate,
		mask: []byte{0xff, 0x01},
		want: []byte{0xee, 0x43, 0xcc, 0x25},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(tt.mode, tt.mask)
			if err != nil {
				t.Fatal(err)
			}
			got := o.Encode(in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff(in, o.Decode(got)); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestEncode_DoesNotModifyInput(t *testing.T) {
	o, err := New(ModeObfuscate, []byte("mask"))
	if err != nil {
		t.Fatal(err)
	}
	in := []byte("datagram")
	o.Encode(in)
	o.Decode(in)
	if string(in) != "datagram" {
		t.Fatal("input was modified")
	}
}

func TestXORPtrPos_WrapsAt256(t *testing.T) {
	o, err := New(ModeXORPtrPos, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := o.Encode(make([]byte, 300))
	if out[254] != 0xff || out[255] != 0x00 || out[256] != 0x01 {
		t.Fatalf("unexpected bytes around the wrap: %x", out[253:258])
	}
}

func TestRoundTrip(t *testing.T) {
	datagrams := [][]byte{
		{},
		{0x42},
		{0x01, 0x02},
		bytes.Repeat([]byte{0xa5, 0x5a, 0x00}, 700),
	}
	for mode := range modeNames {
		for _, mask := range [][]byte{{0x37}, []byte("a longer mask of several bytes")} {
			o, err := New(mode, mask)
			if err != nil {
				t.Fatal(err)
			}
			for _, d := range datagrams {
				got := o.Decode(o.Encode(d))
				if !bytes.Equal(got, d) {
					t.Fatalf("%s: round trip failed for %d bytes", mode, len(d))
				}
			}
		}
	}
}

func TestSingleStepsAreInvolutions(t *testing.T) {
	d := []byte("an arbitrary datagram payload")
	steps := map[string]func([]byte){
		"xormask":   func(b []byte) { xorMask(b, []byte{0x9c, 0x01, 0x77}) },
		"xorptrpos": xorPtrPos,
		"reverse":   reverse,
	}
	for name, step := range steps {
		b := append([]byte{}, d...)
		step(b)
		if bytes.Equal(b, d) {
			t.Fatalf("%s: expected a change", name)
		}
		step(b)
		if !bytes.Equal(b, d) {
			t.Fatalf("%s: applying twice must restore the input", name)
		}
	}
}

func TestNilObfuscator(t *testing.T) {
	var o *Obfuscator
	if o.Mode() != ModeNone {
		t.Fatal("nil obfuscator must be ModeNone")
	}
	if diff := cmp.Diff([]byte{1, 2}, o.Encode([]byte{1, 2})); diff != "" {
		t.Fatal(diff)
	}
}
