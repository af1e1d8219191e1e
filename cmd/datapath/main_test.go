package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"go/parser"
	"go/token"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ooni/vpndatapath/internal/cryptocontainer"
	"github.com/ooni/vpndatapath/internal/cryptosuite"
	"github.com/ooni/vpndatapath/internal/model"
)

var (
	testCipherKey = hex.EncodeToString([]byte("aabbccddeeffaabbccddeeffaabbccddeeffaabbccddeeffaabbccddeeff"))
	testHMACKey   = hex.EncodeToString([]byte("0011223344556677001122334455667700112233445566770011223344556677"))
)

func Test_runOneShot(t *testing.T) {
	tests := []struct {
		name string
		op   *oneShot
		want string
	}{{
		name: "aes-256-gcm seal",
		op: &oneShot{
			cipher:    "AES-256-GCM",
			cipherKey: testCipherKey,
			hmacKey:   testHMACKey,
			packetID:  0x56341200,
			ad:        "00123456",
			input:     "00112233ffddaa",
		},
		want: "11740b84b2d7897b1ccfd6504444535ee347bb1001666e",
	}, {
		name: "aes-256-gcm open",
		op: &oneShot{
			open:      true,
			cipher:    "AES-256-GCM",
			cipherKey: testCipherKey,
			hmacKey:   testHMACKey,
			packetID:  0x56341200,
			ad:        "00123456",
			input:     "11740b84b2d7897b1ccfd6504444535ee347bb1001666e",
		},
		want: "00112233ffddaa",
	}, {
		name: "aes-128-cbc seal with a zero iv",
		op: &oneShot{
			cipher:    "aes-128-cbc",
			auth:      "sha256",
			cipherKey: testCipherKey,
			hmacKey:   testHMACKey,
			input:     "00112233ffddaa",
			zeroIV:    true,
		},
		want: "24be983962e4b4aeacb5734522e37f90f6669e0cfd7f8ab962587dc97d1f600e" +
			"00000000000000000000000000000000" +
			"3c76480bad5e953ca1211ef83f5594c6",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &bytes.Buffer{}
			if err := runOneShot(w, tt.op); err != nil {
				t.Fatal(err)
			}
			if got := strings.TrimSpace(w.String()); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func Test_runOneShot_Errors(t *testing.T) {
	tests := []struct {
		name    string
		op      *oneShot
		wantErr error
	}{{
		name:    "unknown cipher",
		op:      &oneShot{cipher: "rot13", cipherKey: testCipherKey},
		wantErr: cryptosuite.ErrUnsupportedAlgorithm,
	}, {
		name:    "no keys",
		op:      &oneShot{cipher: "aes-256-gcm"},
		wantErr: errMissingArgument,
	}, {
		name: "tampered input",
		op: &oneShot{
			open:      true,
			cipher:    "AES-256-GCM",
			cipherKey: testCipherKey,
			hmacKey:   testHMACKey,
			packetID:  0x56341200,
			ad:        "00123456",
			input:     "01740b84b2d7897b1ccfd6504444535ee347bb1001666e",
		},
	}, {
		name: "bad hex",
		op:   &oneShot{cipher: "aes-256-gcm", cipherKey: "zz"},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runOneShot(&bytes.Buffer{}, tt.op)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func writeEncryptedKey(t *testing.T, path, passphrase string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	//nolint:staticcheck // legacy encryption is what we are testing
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", der, []byte(passphrase), x509.PEMCipherAES256)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
}

func Test_runDecryptKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	writeEncryptedKey(t, keyPath, "foobar")

	t.Run("writes to stdout", func(t *testing.T) {
		w := &bytes.Buffer{}
		if err := runDecryptKey(w, keyPath, "foobar", ""); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(w.String(), "BEGIN EC PRIVATE KEY") {
			t.Fatalf("unexpected output: %q", w.String())
		}
		if cryptocontainer.FromRawText(w.String()).IsEncrypted() {
			t.Fatal("key is still encrypted")
		}
	})

	t.Run("writes to a file", func(t *testing.T) {
		out := filepath.Join(dir, "plain.pem")
		w := &bytes.Buffer{}
		if err := runDecryptKey(w, keyPath, "foobar", out); err != nil {
			t.Fatal(err)
		}
		if w.Len() != 0 {
			t.Fatalf("unexpected output: %q", w.String())
		}
		got, err := cryptocontainer.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if got.IsEmpty() || got.IsEncrypted() {
			t.Fatal("expected a decrypted key")
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		err := runDecryptKey(&bytes.Buffer{}, keyPath, "wrong", "")
		if !errors.Is(err, cryptocontainer.ErrDecryptionFailed) {
			t.Fatalf("expected ErrDecryptionFailed, got %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		err := runDecryptKey(&bytes.Buffer{}, "", "foobar", "")
		if !errors.Is(err, errMissingArgument) {
			t.Fatalf("expected errMissingArgument, got %v", err)
		}
	})
}

func skipWithoutLoopback(t *testing.T) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skip("cannot listen on loopback:", err)
	}
	conn.Close()
}

func Test_runLoopback(t *testing.T) {
	skipWithoutLoopback(t)

	dir := t.TempDir()
	cbcConfig := filepath.Join(dir, "cbc.ovpn")
	content := "cipher AES-128-CBC\nauth SHA1\nscramble xormask secret\ncompress stub-v2\n"
	if err := os.WriteFile(cbcConfig, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	for _, configPath := range []string{"", cbcConfig} {
		t.Run(filepath.Base(configPath), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			w := &bytes.Buffer{}
			if err := runLoopback(ctx, model.NewTestLogger(), w, configPath, 3); err != nil {
				t.Fatal(err)
			}
			out := w.String()
			if got := strings.Count(out, "icmp_seq="); got != 3 {
				t.Fatalf("expected 3 replies, got %d in %q", got, out)
			}
			if !strings.Contains(out, "client: out=3/") || !strings.Contains(out, "server: out=3/") {
				t.Fatalf("unexpected stats: %q", out)
			}
		})
	}
}

func Test_runLoopback_BadConfig(t *testing.T) {
	err := runLoopback(context.Background(), model.NewTestLogger(), &bytes.Buffer{},
		filepath.Join(t.TempDir(), "missing.ovpn"), 1)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCommandDoesNotImportMocks(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatal(err)
		}
		for _, imp := range f.Imports {
			if strings.HasSuffix(imp.Path.Value, `/internal/vpntest"`) {
				t.Fatalf("%s imports the test mocks", name)
			}
		}
	}
}
