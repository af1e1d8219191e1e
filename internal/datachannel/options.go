package datachannel

import (
	"fmt"

	"github.com/ooni/vpndatapath/internal/model"
)

// maxPeerID is the largest value that fits the 3-byte peer-id field.
const maxPeerID = 1<<24 - 1

// Options contains the data-channel parameters negotiated with the server.
type Options struct {
	// Cipher is the cipher name (e.g., AES-256-GCM).
	Cipher string

	// Auth is the HMAC digest name (e.g., SHA256). It is ignored by
	// AEAD ciphers.
	Auth string

	// Compress selects the compression framing.
	Compress model.Compression

	// PeerID, when set, makes the codec emit P_DATA_V2 packets.
	PeerID *uint32

	// KeyID is the initial key id.
	KeyID byte

	// ReplayWindow is the replay window size. Zero selects the default.
	ReplayWindow int

	// JumpThreshold makes the codec count packet ids that jump ahead of
	// the window by more than this amount. Zero disables it.
	JumpThreshold int
}

// validate checks the options that do not depend on the cipher suite.
func (o *Options) validate() error {
	if _, err := model.ParseCompression(string(o.Compress)); err != nil {
		return fmt.Errorf("%w: %s", ErrBadOptions, err.Error())
	}
	if o.PeerID != nil && *o.PeerID > maxPeerID {
		return fmt.Errorf("%w: peer-id %d does not fit 24 bits", ErrBadOptions, *o.PeerID)
	}
	if o.KeyID > 7 {
		return fmt.Errorf("%w: key id %d does not fit 3 bits", ErrBadOptions, o.KeyID)
	}
	return nil
}

// opcode returns the data opcode these options select.
func (o *Options) opcode() model.Opcode {
	if o.PeerID != nil {
		return model.P_DATA_V2
	}
	return model.P_DATA_V1
}
