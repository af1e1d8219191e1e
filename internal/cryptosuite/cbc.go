package cryptosuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"fmt"

	"github.com/ooni/vpndatapath/internal/bytesx"
	"github.com/ooni/vpndatapath/internal/keymaterial"
)

// genRandomFn generates CBC IVs; tests may replace it.
var genRandomFn = bytesx.GenRandomBytes

// CBC is AES-CBC with HMAC in encrypt-then-MAC order. With a nil cipher it
// only authenticates.
type CBC struct {
	keyState
	cipher *cipherSpec
	digest *digestSpec
}

var _ Suite = &CBC{}

func newCBC(cs *cipherSpec, ds *digestSpec) *CBC {
	return &CBC{cipher: cs, digest: ds}
}

// Variant implements Suite.
func (c *CBC) Variant() Variant {
	return VariantCBC
}

func (c *CBC) cipherKeyLen() int {
	if c.cipher == nil {
		return 0
	}
	return c.cipher.keySize
}

// ConfigureEncryption implements Suite.
func (c *CBC) ConfigureEncryption(cipherKey, hmacKey *keymaterial.Key) error {
	return c.configure(directionEncrypt, cipherKey, c.cipherKeyLen(), hmacKey, c.digest.size)
}

// ConfigureDecryption implements Suite.
func (c *CBC) ConfigureDecryption(cipherKey, hmacKey *keymaterial.Key) error {
	return c.configure(directionDecrypt, cipherKey, c.cipherKeyLen(), hmacKey, c.digest.size)
}

// Overhead implements Suite.
func (c *CBC) Overhead() int {
	if c.cipher == nil {
		return c.digest.size
	}
	// IV plus up to a full block of padding
	return c.digest.size + 2*aes.BlockSize
}

// MinLength implements Suite.
func (c *CBC) MinLength() int {
	if c.cipher == nil {
		return c.digest.size
	}
	return c.digest.size + 2*aes.BlockSize
}

// Seal implements Suite.
func (c *CBC) Seal(plaintext []byte, flags *Flags) ([]byte, error) {
	flags = flagsOrZero(flags)
	if err := c.acquire(directionEncrypt); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	mac := hmac.New(c.digest.new, keyBytes(c.hmacKey))
	if c.cipher == nil {
		mac.Write(plaintext)
		out := mac.Sum(make([]byte, 0, c.digest.size+len(plaintext)))
		return append(out, plaintext...), nil
	}

	block, err := aes.NewCipher(keyBytes(c.cipherKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	padded, err := bytesx.BytesPadPKCS7(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	defer bytesx.Zero(padded)

	var iv []byte
	if flags.ForTesting {
		iv = make([]byte, aes.BlockSize)
	} else if iv, err = genRandomFn(aes.BlockSize); err != nil {
		return nil, fmt.Errorf("cannot generate iv: %w", err)
	}

	out := make([]byte, c.digest.size+aes.BlockSize+len(padded))
	copy(out[c.digest.size:], iv)
	ciphertext := out[c.digest.size+aes.BlockSize:]
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac.Write(out[c.digest.size:])
	copy(out, mac.Sum(nil))
	return out, nil
}

// Open implements Suite.
func (c *CBC) Open(ciphertext []byte, flags *Flags) ([]byte, error) {
	if err := c.acquire(directionDecrypt); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	if len(ciphertext) < c.MinLength() {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrMalformedPacket, len(ciphertext))
	}
	receivedMAC := ciphertext[:c.digest.size]
	body := ciphertext[c.digest.size:]

	mac := hmac.New(c.digest.new, keyBytes(c.hmacKey))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), receivedMAC) {
		return nil, fmt.Errorf("%w: bad hmac", ErrAuthenticationFailed)
	}

	if c.cipher == nil {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	iv := body[:aes.BlockSize]
	encrypted := body[aes.BlockSize:]
	if len(encrypted)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: misaligned ciphertext", ErrAuthenticationFailed)
	}
	block, err := aes.NewCipher(keyBytes(c.cipherKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	plaintext := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, encrypted)
	unpadded, err := bytesx.BytesUnpadPKCS7(plaintext, aes.BlockSize)
	if err != nil {
		bytesx.Zero(plaintext)
		return nil, fmt.Errorf("%w: bad padding", ErrAuthenticationFailed)
	}
	return unpadded, nil
}
