package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ooni/vpndatapath/internal/cryptocontainer"
	"github.com/ooni/vpndatapath/internal/cryptosuite"
	"github.com/ooni/vpndatapath/internal/keymaterial"
	"github.com/ooni/vpndatapath/internal/model"
)

// errMissingArgument is returned when a required flag is empty.
var errMissingArgument = errors.New("datapath: missing argument")

// oneShot describes a single seal or open operation.
type oneShot struct {
	open      bool
	cipher    string
	auth      string
	cipherKey string
	hmacKey   string
	packetID  uint32
	ad        string
	input     string
	zeroIV    bool
}

// decodeKey returns nil for an empty hex string.
func decodeKey(name, s string) (*keymaterial.Key, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return keymaterial.New(b), nil
}

// runOneShot seals or opens a hex input and prints the hex result.
func runOneShot(w io.Writer, op *oneShot) error {
	suite, err := cryptosuite.New(op.cipher, op.auth)
	if err != nil {
		return err
	}
	defer suite.Close()

	cipherKey, err := decodeKey("cipher-key", op.cipherKey)
	if err != nil {
		return err
	}
	hmacKey, err := decodeKey("hmac-key", op.hmacKey)
	if err != nil {
		return err
	}
	if cipherKey == nil && hmacKey == nil {
		return fmt.Errorf("%w: cipher-key or hmac-key", errMissingArgument)
	}
	if cipherKey != nil {
		defer cipherKey.Wipe()
	}
	if hmacKey != nil {
		defer hmacKey.Wipe()
	}

	ad, err := hex.DecodeString(op.ad)
	if err != nil {
		return fmt.Errorf("ad: %w", err)
	}
	input, err := hex.DecodeString(op.input)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	flags := &cryptosuite.Flags{
		PacketID:   model.PacketID(op.packetID),
		AD:         ad,
		ForTesting: op.zeroIV,
	}

	var out []byte
	if op.open {
		if err := suite.ConfigureDecryption(cipherKey, hmacKey); err != nil {
			return err
		}
		out, err = suite.Open(input, flags)
	} else {
		if err := suite.ConfigureEncryption(cipherKey, hmacKey); err != nil {
			return err
		}
		out, err = suite.Seal(input, flags)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hex.EncodeToString(out))
	return err
}

// runDecryptKey removes the passphrase from a PEM private key and writes the
// result to out, or to w when out is empty.
func runDecryptKey(w io.Writer, keyPath, passphrase, out string) error {
	if keyPath == "" {
		return fmt.Errorf("%w: key", errMissingArgument)
	}
	key, err := cryptocontainer.ReadFile(keyPath)
	if err != nil {
		return err
	}
	plain, err := key.Decrypted(passphrase)
	if err != nil {
		return err
	}
	if out != "" {
		return plain.WriteFile(out)
	}
	_, err = io.WriteString(w, plain.PEM())
	return err
}
