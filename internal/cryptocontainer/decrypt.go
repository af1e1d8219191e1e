package cryptocontainer

//
// Private key decryption.
//

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"

	"github.com/ooni/vpndatapath/internal/bytesx"
)

// Decrypted returns a new container holding the decrypted private key. An
// unencrypted container is returned unchanged. The receiver is never modified.
func (c Container) Decrypted(passphrase string) (Container, error) {
	if !c.IsEncrypted() {
		return c, nil
	}
	rest := []byte(c.pem)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return Container{}, fmt.Errorf("%w: no encrypted private key block", ErrDecryptionFailed)
		}
		switch {
		case block.Type == "ENCRYPTED PRIVATE KEY":
			der, err := decryptPKCS8(block.Bytes, []byte(passphrase))
			if err != nil {
				return Container{}, err
			}
			defer bytesx.Zero(der)
			return encodeKey("PRIVATE KEY", der)

		case x509.IsEncryptedPEMBlock(block): //nolint:staticcheck // legacy OpenSSL keys
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
			if err != nil {
				return Container{}, fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
			}
			defer bytesx.Zero(der)
			return encodeKey(block.Type, der)
		}
	}
}

// encodeKey validates der by parsing it and returns it as a PEM container.
func encodeKey(blockType string, der []byte) (Container, error) {
	var err error
	switch blockType {
	case "RSA PRIVATE KEY":
		_, err = x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		_, err = x509.ParseECPrivateKey(der)
	default:
		_, err = x509.ParsePKCS8PrivateKey(der)
	}
	if err != nil {
		return Container{}, fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	out := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return FromRawText(string(out)), nil
}

// decryptPKCS8 decrypts an EncryptedPrivateKeyInfo and returns the plain
// PKCS#8 DER of the key.
func decryptPKCS8(data, passphrase []byte) ([]byte, error) {
	key, err := pkcs8.ParsePKCS8PrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	return der, nil
}
