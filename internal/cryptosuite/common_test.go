package cryptosuite

import (
	"encoding/hex"
	"testing"

	"github.com/ooni/vpndatapath/internal/keymaterial"
)

// The keys are the ASCII bytes of hex-looking strings; every algorithm
// uses the prefix it needs.
const (
	testCipherKeyText = "aabbccddeeffaabbccddeeffaabbccddeeffaabbccddeeffaabbccddeeff"
	testHMACKeyText   = "0011223344556677001122334455667700112233445566770011223344556677"
)

func testCipherKey() *keymaterial.Key {
	return keymaterial.New([]byte(testCipherKeyText))
}

func testHMACKey() *keymaterial.Key {
	return keymaterial.New([]byte(testHMACKeyText))
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// newPair returns a sealing and an opening suite sharing the same keys.
func newPair(t *testing.T, cipherName, digestName string) (Suite, Suite) {
	t.Helper()
	enc, err := New(cipherName, digestName)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := New(cipherName, digestName)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.ConfigureEncryption(testCipherKey(), testHMACKey()); err != nil {
		t.Fatal(err)
	}
	if err := dec.ConfigureDecryption(testCipherKey(), testHMACKey()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		enc.Close()
		dec.Close()
	})
	return enc, dec
}
