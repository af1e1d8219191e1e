package cryptosuite

import (
	"crypto/sha1" //#nosec G505
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/ooni/vpndatapath/internal/keymaterial"
	"github.com/ooni/vpndatapath/internal/model"
)

// We know that sha1 is weak, but we do not control the openvpn protocol.

// cipherMode describes a cipher mode (e.g., GCM).
type cipherMode string

const (
	cipherModeCBC    = cipherMode("cbc")
	cipherModeCTR    = cipherMode("ctr")
	cipherModeGCM    = cipherMode("gcm")
	cipherModeChaCha = cipherMode("chacha20-poly1305")
)

// cipherSpec describes a cipher from the table below.
type cipherSpec struct {
	name    string
	keySize int
	mode    cipherMode
}

// digestSpec describes an HMAC digest.
type digestSpec struct {
	name string
	size int
	new  func() hash.Hash
}

var supportedCiphers = map[string]*cipherSpec{
	"aes-128-cbc":       {"aes-128-cbc", 16, cipherModeCBC},
	"aes-192-cbc":       {"aes-192-cbc", 24, cipherModeCBC},
	"aes-256-cbc":       {"aes-256-cbc", 32, cipherModeCBC},
	"aes-128-ctr":       {"aes-128-ctr", 16, cipherModeCTR},
	"aes-192-ctr":       {"aes-192-ctr", 24, cipherModeCTR},
	"aes-256-ctr":       {"aes-256-ctr", 32, cipherModeCTR},
	"aes-128-gcm":       {"aes-128-gcm", 16, cipherModeGCM},
	"aes-192-gcm":       {"aes-192-gcm", 24, cipherModeGCM},
	"aes-256-gcm":       {"aes-256-gcm", 32, cipherModeGCM},
	"chacha20-poly1305": {"chacha20-poly1305", 32, cipherModeChaCha},
}

var supportedDigests = map[string]*digestSpec{
	"sha1":   {"sha1", sha1.Size, sha1.New},
	"sha224": {"sha224", sha256.Size224, sha256.New224},
	"sha256": {"sha256", sha256.Size, sha256.New},
	"sha384": {"sha384", sha512.Size384, sha512.New384},
	"sha512": {"sha512", sha512.Size, sha512.New},
}

// Variant tags the construction chosen by [New].
type Variant int

const (
	// VariantCBC is CBC with HMAC, or HMAC only.
	VariantCBC = Variant(iota + 1)

	// VariantCTR is the CTR synthetic-IV construction.
	VariantCTR

	// VariantAEAD is AES-GCM or ChaCha20-Poly1305.
	VariantAEAD
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case VariantCBC:
		return "cbc"
	case VariantCTR:
		return "ctr"
	case VariantAEAD:
		return "aead"
	default:
		return "unknown"
	}
}

// Flags carries the per-packet parameters of Seal and Open.
type Flags struct {
	// PacketID is serialized big-endian into the AEAD nonce.
	PacketID model.PacketID

	// AD is authenticated but not encrypted.
	AD []byte

	// ForTesting makes CBC use an all-zero IV.
	ForTesting bool
}

// Suite encrypts or decrypts data-channel payloads in one direction.
type Suite interface {
	// Variant returns the construction in use.
	Variant() Variant

	// ConfigureEncryption installs the keys used by Seal. Only the prefix
	// each algorithm needs is copied; the caller keeps ownership of the keys.
	ConfigureEncryption(cipherKey, hmacKey *keymaterial.Key) error

	// ConfigureDecryption installs the keys used by Open.
	ConfigureDecryption(cipherKey, hmacKey *keymaterial.Key) error

	// Seal encrypts and authenticates plaintext.
	Seal(plaintext []byte, flags *Flags) ([]byte, error)

	// Open verifies and decrypts ciphertext. No plaintext is ever returned
	// for input that fails verification.
	Open(ciphertext []byte, flags *Flags) ([]byte, error)

	// Overhead returns the maximum number of bytes Seal adds.
	Overhead() int

	// MinLength returns the length of the shortest input Open accepts.
	MinLength() int

	// Close wipes the configured keys.
	Close()
}

// New returns the [Suite] for the given cipher and digest names. Names are
// case insensitive. An empty cipher (or "none") selects HMAC-only CBC. The
// digest is ignored for AEAD ciphers.
func New(cipherName, digestName string) (Suite, error) {
	cipherName = strings.ToLower(strings.TrimSpace(cipherName))
	digestName = strings.ToLower(strings.TrimSpace(digestName))

	var cs *cipherSpec
	if cipherName != "" && cipherName != "none" {
		var ok bool
		if cs, ok = supportedCiphers[cipherName]; !ok {
			return nil, fmt.Errorf("%w: cipher %q", ErrUnsupportedAlgorithm, cipherName)
		}
	}
	if cs != nil && (cs.mode == cipherModeGCM || cs.mode == cipherModeChaCha) {
		return newAEAD(cs), nil
	}
	ds, ok := supportedDigests[digestName]
	if !ok {
		return nil, fmt.Errorf("%w: digest %q", ErrUnsupportedAlgorithm, digestName)
	}
	if cs != nil && cs.mode == cipherModeCTR {
		return newCTR(cs, ds), nil
	}
	return newCBC(cs, ds), nil
}

// SupportedCiphers returns the cipher names accepted by [New].
func SupportedCiphers() []string {
	out := make([]string, 0, len(supportedCiphers))
	for name := range supportedCiphers {
		out = append(out, name)
	}
	return out
}

// SupportedDigests returns the digest names accepted by [New].
func SupportedDigests() []string {
	out := make([]string, 0, len(supportedDigests))
	for name := range supportedDigests {
		out = append(out, name)
	}
	return out
}

func flagsOrZero(f *Flags) *Flags {
	if f == nil {
		return &Flags{}
	}
	return f
}
