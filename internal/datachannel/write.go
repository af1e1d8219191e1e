package datachannel

//
// Functions for encoding outbound packets
//

import (
	"encoding/binary"
	"fmt"

	"github.com/ooni/vpndatapath/internal/cryptosuite"
)

// EncryptOutbound frames, encrypts and encodes a tun-side payload.
func (c *Codec) EncryptOutbound(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: nothing to encrypt", ErrCannotEncrypt)
	}
	out, err := c.seal(doCompress(payload, c.options.Compress))
	if err != nil {
		return nil, err
	}
	c.stats.packetsOut.Add(1)
	c.stats.bytesOut.Add(uint64(len(payload)))
	return out, nil
}

// EncryptPing returns an encrypted keepalive ping.
func (c *Codec) EncryptPing() ([]byte, error) {
	out, err := c.seal(doCompress(pingPayload[:], c.options.Compress))
	if err != nil {
		return nil, err
	}
	c.stats.pingsOut.Add(1)
	return out, nil
}

// seal assigns the next packet id and encrypts the framed payload.
func (c *Codec) seal(framed []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	packetID, err := c.sender.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotEncrypt, err)
	}
	var pid [4]byte
	binary.BigEndian.PutUint32(pid[:], uint32(packetID))
	header := c.header().Bytes()

	switch c.encrypt.Variant() {
	case cryptosuite.VariantCBC:
		//   [ - header - ] [ HMAC ] [ IV ] [ * packet ID | payload * ]
		plaintext := make([]byte, 0, len(pid)+len(framed))
		plaintext = append(plaintext, pid[:]...)
		plaintext = append(plaintext, framed...)
		sealed, err := c.encrypt.Seal(plaintext, &cryptosuite.Flags{ForTesting: c.forTesting})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCannotEncrypt, err)
		}
		out := make([]byte, 0, len(header)+len(sealed))
		out = append(out, header...)
		return append(out, sealed...), nil

	default:
		//   [ - header - ] [ - packet ID - ] [ TAG ] [ * packet payload * ]
		flags := &cryptosuite.Flags{
			PacketID: packetID,
			AD:       additionalData(header, pid[:], c.opcode),
		}
		sealed, err := c.encrypt.Seal(framed, flags)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCannotEncrypt, err)
		}
		out := make([]byte, 0, len(header)+len(pid)+len(sealed))
		out = append(out, header...)
		out = append(out, pid[:]...)
		return append(out, sealed...), nil
	}
}
