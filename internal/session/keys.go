package session

import (
	"errors"
	"fmt"

	"github.com/ooni/vpndatapath/internal/bytesx"
	"github.com/ooni/vpndatapath/internal/keymaterial"
)

const (
	// SessionIDLength is the length of an OpenVPN session id.
	SessionIDLength = 8

	// keySlotLength is the size of each of the four expanded key slots.
	keySlotLength = 64

	masterSecretLength = 48
	keyExpansionLength = 4 * keySlotLength
)

var (
	labelMasterSecret = []byte("OpenVPN master secret")
	labelKeyExpansion = []byte("OpenVPN key expansion")
)

// ErrBadSessionID is returned for session ids of the wrong length.
var ErrBadSessionID = errors.New("bad session id")

// Keys holds the four 64-byte key slots derived for one key epoch. Local
// keys encrypt, remote keys decrypt.
type Keys struct {
	CipherLocal  *keymaterial.Key
	HMACLocal    *keymaterial.Key
	CipherRemote *keymaterial.Key
	HMACRemote   *keymaterial.Key
}

// ExpandKeys derives the data-channel keys from the client and server key
// sources and session ids. The result is the client's view; use
// [Keys.Swapped] on the server.
func ExpandKeys(client, server *KeySource, clientSID, serverSID []byte) (*Keys, error) {
	if len(clientSID) != SessionIDLength || len(serverSID) != SessionIDLength {
		return nil, fmt.Errorf("%w: expected %d bytes", ErrBadSessionID, SessionIDLength)
	}
	master := prf(
		client.PreMaster[:],
		labelMasterSecret,
		client.R1[:],
		server.R1[:],
		nil, nil,
		masterSecretLength)
	defer bytesx.Zero(master)

	expanded := prf(
		master,
		labelKeyExpansion,
		client.R2[:],
		server.R2[:],
		clientSID,
		serverSID,
		keyExpansionLength)
	defer bytesx.Zero(expanded)

	slot := func(i int) *keymaterial.Key {
		return keymaterial.New(expanded[i*keySlotLength : (i+1)*keySlotLength])
	}
	return &Keys{
		CipherLocal:  slot(0),
		HMACLocal:    slot(1),
		CipherRemote: slot(2),
		HMACRemote:   slot(3),
	}, nil
}

// Swapped returns an independent copy with local and remote exchanged.
func (k *Keys) Swapped() *Keys {
	return &Keys{
		CipherLocal:  k.CipherRemote.Clone(),
		HMACLocal:    k.HMACRemote.Clone(),
		CipherRemote: k.CipherLocal.Clone(),
		HMACRemote:   k.HMACLocal.Clone(),
	}
}

// Wipe zeroes every slot.
func (k *Keys) Wipe() {
	k.CipherLocal.Wipe()
	k.HMACLocal.Wipe()
	k.CipherRemote.Wipe()
	k.HMACRemote.Wipe()
}
