package cryptosuite

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ooni/vpndatapath/internal/keymaterial"
)

// aeadTagSize is the tag size of every supported AEAD.
const aeadTagSize = 16

// implicitIVSize is the part of the nonce taken from the HMAC key.
const implicitIVSize = 8

// AEAD is AES-GCM or ChaCha20-Poly1305 with nonce = packetID | implicit IV,
// where the implicit IV is the head of the (otherwise unused) HMAC key. The
// wire form is tag | ciphertext.
type AEAD struct {
	keyState
	cipher *cipherSpec
}

var _ Suite = &AEAD{}

func newAEAD(cs *cipherSpec) *AEAD {
	return &AEAD{cipher: cs}
}

// Variant implements Suite.
func (a *AEAD) Variant() Variant {
	return VariantAEAD
}

// ConfigureEncryption implements Suite. The hmacKey may be nil, in which case
// the implicit IV is all zeros.
func (a *AEAD) ConfigureEncryption(cipherKey, hmacKey *keymaterial.Key) error {
	return a.configure(directionEncrypt, cipherKey, a.cipher.keySize, hmacKey, a.implicitIVLen(hmacKey))
}

// ConfigureDecryption implements Suite.
func (a *AEAD) ConfigureDecryption(cipherKey, hmacKey *keymaterial.Key) error {
	return a.configure(directionDecrypt, cipherKey, a.cipher.keySize, hmacKey, a.implicitIVLen(hmacKey))
}

func (a *AEAD) implicitIVLen(hmacKey *keymaterial.Key) int {
	if hmacKey == nil {
		return 0
	}
	return implicitIVSize
}

// Overhead implements Suite.
func (a *AEAD) Overhead() int {
	return aeadTagSize
}

// MinLength implements Suite.
func (a *AEAD) MinLength() int {
	return aeadTagSize
}

func (a *AEAD) newAEAD() (cipher.AEAD, error) {
	key := keyBytes(a.cipherKey)
	if a.cipher.mode == cipherModeChaCha {
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
		}
		return aead, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	return cipher.NewGCM(block)
}

func (a *AEAD) nonce(id uint32, size int) []byte {
	nonce := make([]byte, size)
	binary.BigEndian.PutUint32(nonce, id)
	copy(nonce[4:], keyBytes(a.hmacKey))
	return nonce
}

// Seal implements Suite.
func (a *AEAD) Seal(plaintext []byte, flags *Flags) ([]byte, error) {
	flags = flagsOrZero(flags)
	if err := a.acquire(directionEncrypt); err != nil {
		return nil, err
	}
	defer a.mu.RUnlock()

	aead, err := a.newAEAD()
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, a.nonce(uint32(flags.PacketID), aead.NonceSize()), plaintext, flags.AD)

	// openvpn uses tag | payload
	boundary := len(sealed) - aeadTagSize
	out := make([]byte, 0, len(sealed))
	out = append(out, sealed[boundary:]...)
	out = append(out, sealed[:boundary]...)
	return out, nil
}

// Open implements Suite.
func (a *AEAD) Open(ciphertext []byte, flags *Flags) ([]byte, error) {
	flags = flagsOrZero(flags)
	if err := a.acquire(directionDecrypt); err != nil {
		return nil, err
	}
	defer a.mu.RUnlock()

	if len(ciphertext) < a.MinLength() {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrMalformedPacket, len(ciphertext))
	}
	aead, err := a.newAEAD()
	if err != nil {
		return nil, err
	}

	// we need to swap because decryption expects payload | tag
	swapped := make([]byte, 0, len(ciphertext))
	swapped = append(swapped, ciphertext[aeadTagSize:]...)
	swapped = append(swapped, ciphertext[:aeadTagSize]...)

	plaintext, err := aead.Open(swapped[:0], a.nonce(uint32(flags.PacketID), aead.NonceSize()), swapped, flags.AD)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAuthenticationFailed, err.Error())
	}
	return plaintext, nil
}
