package cryptosuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"fmt"

	"github.com/ooni/vpndatapath/internal/bytesx"
	"github.com/ooni/vpndatapath/internal/keymaterial"
)

// CTR is AES-CTR with a synthetic IV: tag = HMAC(AD | plaintext), the
// counter starts at tag[:16], and the wire form is tag | ciphertext.
//
// The packet id is expected inside AD, so that two packets never share a
// counter block under the same key.
type CTR struct {
	keyState
	cipher *cipherSpec
	digest *digestSpec
}

var _ Suite = &CTR{}

func newCTR(cs *cipherSpec, ds *digestSpec) *CTR {
	return &CTR{cipher: cs, digest: ds}
}

// Variant implements Suite.
func (c *CTR) Variant() Variant {
	return VariantCTR
}

// ConfigureEncryption implements Suite.
func (c *CTR) ConfigureEncryption(cipherKey, hmacKey *keymaterial.Key) error {
	return c.configure(directionEncrypt, cipherKey, c.cipher.keySize, hmacKey, c.digest.size)
}

// ConfigureDecryption implements Suite.
func (c *CTR) ConfigureDecryption(cipherKey, hmacKey *keymaterial.Key) error {
	return c.configure(directionDecrypt, cipherKey, c.cipher.keySize, hmacKey, c.digest.size)
}

// Overhead implements Suite.
func (c *CTR) Overhead() int {
	return c.digest.size
}

// MinLength implements Suite.
func (c *CTR) MinLength() int {
	return c.digest.size
}

func (c *CTR) tag(ad, plaintext []byte) []byte {
	mac := hmac.New(c.digest.new, keyBytes(c.hmacKey))
	mac.Write(ad)
	mac.Write(plaintext)
	return mac.Sum(nil)
}

func (c *CTR) xor(dst, src, tag []byte) error {
	block, err := aes.NewCipher(keyBytes(c.cipherKey))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	cipher.NewCTR(block, tag[:aes.BlockSize]).XORKeyStream(dst, src)
	return nil
}

// Seal implements Suite.
func (c *CTR) Seal(plaintext []byte, flags *Flags) ([]byte, error) {
	flags = flagsOrZero(flags)
	if err := c.acquire(directionEncrypt); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	tag := c.tag(flags.AD, plaintext)
	out := make([]byte, len(tag)+len(plaintext))
	copy(out, tag)
	if err := c.xor(out[len(tag):], plaintext, tag); err != nil {
		return nil, err
	}
	return out, nil
}

// Open implements Suite.
func (c *CTR) Open(ciphertext []byte, flags *Flags) ([]byte, error) {
	flags = flagsOrZero(flags)
	if err := c.acquire(directionDecrypt); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	if len(ciphertext) < c.MinLength() {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrMalformedPacket, len(ciphertext))
	}
	receivedTag := ciphertext[:c.digest.size]
	plaintext := make([]byte, len(ciphertext)-c.digest.size)
	if err := c.xor(plaintext, ciphertext[c.digest.size:], receivedTag); err != nil {
		return nil, err
	}
	if !hmac.Equal(c.tag(flags.AD, plaintext), receivedTag) {
		bytesx.Zero(plaintext)
		return nil, fmt.Errorf("%w: bad tag", ErrAuthenticationFailed)
	}
	return plaintext, nil
}
