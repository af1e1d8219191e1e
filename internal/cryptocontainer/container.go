// Package cryptocontainer holds PEM-encoded credentials (certificates and
// private keys) and decrypts passphrase-protected private keys.
package cryptocontainer

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	beginMarker     = "-----BEGIN "
	encryptedMarker = "ENCRYPTED"
)

var (
	// ErrDecryptionFailed means the passphrase is wrong or the PEM is malformed.
	ErrDecryptionFailed = errors.New("cannot decrypt private key")

	// ErrNoCertificate means the container holds no parseable certificate.
	ErrNoCertificate = errors.New("no certificate found")
)

// Container is an immutable PEM envelope. The zero value is empty.
type Container struct {
	pem string
}

// FromRawText retains text from the first PEM BEGIN marker onward. Text
// without a marker yields an empty container.
func FromRawText(text string) Container {
	idx := strings.Index(text, beginMarker)
	if idx < 0 {
		return Container{}
	}
	return Container{pem: text[idx:]}
}

// ReadFile reads a container from path.
func ReadFile(path string) (Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Container{}, err
	}
	return FromRawText(string(data)), nil
}

// PEM returns the PEM text.
func (c Container) PEM() string {
	return c.pem
}

// IsEmpty returns true when the container holds no PEM.
func (c Container) IsEmpty() bool {
	return c.pem == ""
}

// IsEncrypted returns true when the PEM carries an encryption marker, which
// covers both PKCS#8 "ENCRYPTED PRIVATE KEY" and legacy "Proc-Type: 4,ENCRYPTED".
func (c Container) IsEncrypted() bool {
	return strings.Contains(c.pem, encryptedMarker)
}

// Equal compares two containers.
func (c Container) Equal(other Container) bool {
	return c.pem == other.pem
}

// String implements fmt.Stringer without revealing key material.
func (c Container) String() string {
	if c.IsEmpty() {
		return "cryptocontainer.Container{empty}"
	}
	return fmt.Sprintf("cryptocontainer.Container{%d bytes, encrypted=%v}", len(c.pem), c.IsEncrypted())
}

// Certificates parses every CERTIFICATE block.
func (c Container) Certificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(c.pem)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificate, err.Error())
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificate
	}
	return certs, nil
}

// WriteFile writes the PEM to path with owner-only permissions.
func (c Container) WriteFile(path string) error {
	return os.WriteFile(path, []byte(c.pem), 0600)
}

// MarshalJSON implements json.Marshaler.
func (c Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.pem)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Container) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	*c = FromRawText(text)
	return nil
}
