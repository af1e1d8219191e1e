package datachannel

import (
	"fmt"
	"sync"

	"github.com/ooni/vpndatapath/internal/cryptosuite"
	"github.com/ooni/vpndatapath/internal/keymaterial"
	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/replay"
	"github.com/ooni/vpndatapath/internal/runtimex"
	"github.com/ooni/vpndatapath/internal/session"
)

// Codec encrypts outbound and decrypts inbound data-channel packets. All
// methods are safe for concurrent use.
type Codec struct {
	logger  model.Logger
	options Options
	opcode  model.Opcode
	peerID  model.PeerID

	// mu guards keyID and key (re)configuration; packet processing holds
	// it for reading.
	mu      sync.RWMutex
	keyID   byte
	encrypt cryptosuite.Suite
	decrypt cryptosuite.Suite

	sender replay.Sender
	window *replay.Window
	stats  counters

	// forTesting makes CBC use a zero IV.
	forTesting bool
}

// New returns a [Codec] for the given options. Keys must be installed with
// [Codec.SetupKeys] or the Configure methods before packets flow.
func New(logger model.Logger, options *Options) (*Codec, error) {
	runtimex.Assert(logger != nil, "datachannel: logger cannot be nil")
	runtimex.Assert(options != nil, "datachannel: options cannot be nil")
	if err := options.validate(); err != nil {
		return nil, err
	}
	encrypt, err := cryptosuite.New(options.Cipher, options.Auth)
	if err != nil {
		return nil, err
	}
	decrypt, err := cryptosuite.New(options.Cipher, options.Auth)
	if err != nil {
		return nil, err
	}
	window, err := replay.NewWindow(options.ReplayWindow, options.JumpThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadOptions, err.Error())
	}
	c := &Codec{
		logger:  logger,
		options: *options,
		opcode:  options.opcode(),
		keyID:   options.KeyID,
		encrypt: encrypt,
		decrypt: decrypt,
		window:  window,
	}
	if options.PeerID != nil {
		c.peerID = model.NewPeerID(*options.PeerID)
	}
	logger.Infof("datachannel: cipher: %s (%s)", options.Cipher, encrypt.Variant())
	logger.Infof("datachannel: auth: %s", options.Auth)
	logger.Debugf("datachannel: opcode=%s compress=%q window=%d", c.opcode, options.Compress, window.Size())
	return c, nil
}

// ConfigureEncryption installs the keys for outbound packets and restarts
// the packet id sequence.
func (c *Codec) ConfigureEncryption(cipherKey, hmacKey *keymaterial.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configureEncryption(cipherKey, hmacKey)
}

func (c *Codec) configureEncryption(cipherKey, hmacKey *keymaterial.Key) error {
	if err := c.encrypt.ConfigureEncryption(cipherKey, hmacKey); err != nil {
		return err
	}
	c.sender.Reset()
	return nil
}

// ConfigureDecryption installs the keys for inbound packets and starts a
// new replay window.
func (c *Codec) ConfigureDecryption(cipherKey, hmacKey *keymaterial.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configureDecryption(cipherKey, hmacKey)
}

func (c *Codec) configureDecryption(cipherKey, hmacKey *keymaterial.Key) error {
	if err := c.decrypt.ConfigureDecryption(cipherKey, hmacKey); err != nil {
		return err
	}
	c.window.Reset()
	return nil
}

// SetupKeys installs both directions from expanded session keys.
func (c *Codec) SetupKeys(keys *session.Keys) error {
	runtimex.Assert(keys != nil, "datachannel: keys cannot be nil")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setupKeys(keys); err != nil {
		return err
	}
	c.logger.Info("datachannel: key derivation OK")
	return nil
}

func (c *Codec) setupKeys(keys *session.Keys) error {
	if err := c.configureEncryption(keys.CipherLocal, keys.HMACLocal); err != nil {
		return err
	}
	return c.configureDecryption(keys.CipherRemote, keys.HMACRemote)
}

// Rekey installs the keys of a renegotiated session together with its key
// id, so that no packet mixes the old id with the new keys.
func (c *Codec) Rekey(id byte, keys *session.Keys) error {
	runtimex.Assert(keys != nil, "datachannel: keys cannot be nil")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setupKeys(keys); err != nil {
		return err
	}
	c.keyID = id & 0x07
	c.logger.Infof("datachannel: switched to key id %d", c.keyID)
	return nil
}

// SetKeyID sets the key id used for outbound packets and expected on
// inbound ones. Only the low 3 bits are used.
func (c *Codec) SetKeyID(id byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyID = id & 0x07
}

// KeyID returns the current key id.
func (c *Codec) KeyID() byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keyID
}

// Overhead returns the maximum number of bytes a packet grows by.
func (c *Codec) Overhead() int {
	// header + packet id + two bytes of compression framing
	return 4 + 4 + 2 + c.encrypt.Overhead()
}

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	return c.stats.snapshot()
}

// Close wipes the keys. The codec cannot be used afterwards.
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encrypt.Close()
	c.decrypt.Close()
	return nil
}

// header returns the serialized packet header. Caller holds mu.
func (c *Codec) header() *model.DataHeader {
	return &model.DataHeader{
		Opcode: c.opcode,
		KeyID:  c.keyID,
		PeerID: c.peerID,
	}
}

// additionalData returns the authenticated data of CTR and AEAD packets:
// the header for P_DATA_V2 followed by the packet id.
func additionalData(header, packetID []byte, opcode model.Opcode) []byte {
	ad := make([]byte, 0, len(header)+len(packetID))
	if opcode == model.P_DATA_V2 {
		ad = append(ad, header...)
	}
	return append(ad, packetID...)
}
