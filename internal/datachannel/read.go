package datachannel

//
// Functions for decoding inbound packets
//

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ooni/vpndatapath/internal/cryptosuite"
	"github.com/ooni/vpndatapath/internal/model"
	"github.com/ooni/vpndatapath/internal/replay"
)

// DecryptInbound decodes, verifies and decrypts a data packet. Failures
// wrap [ErrDropped]; inbound pings return [ErrPing].
func (c *Codec) DecryptInbound(packet []byte) ([]byte, error) {
	framed, err := c.open(packet)
	if err != nil {
		return nil, c.drop(err)
	}
	payload, err := maybeDecompress(framed, c.options.Compress)
	if err != nil {
		return nil, c.drop(err)
	}
	if isPing(payload) {
		c.stats.pingsIn.Add(1)
		return nil, ErrPing
	}
	c.stats.packetsIn.Add(1)
	c.stats.bytesIn.Add(uint64(len(payload)))
	return payload, nil
}

// open authenticates packet and returns the framed payload. The replay
// window is only updated for authenticated packets.
func (c *Codec) open(packet []byte) ([]byte, error) {
	header, body, err := model.ParseDataHeader(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", cryptosuite.ErrMalformedPacket, err.Error())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if header.KeyID != c.keyID {
		return nil, fmt.Errorf("%w: unexpected key id %d", cryptosuite.ErrMalformedPacket, header.KeyID)
	}

	switch c.decrypt.Variant() {
	case cryptosuite.VariantCBC:
		plaintext, err := c.decrypt.Open(body, &cryptosuite.Flags{})
		if err != nil {
			return nil, err
		}
		if len(plaintext) < 4 {
			return nil, fmt.Errorf("%w: missing packet id", cryptosuite.ErrMalformedPacket)
		}
		packetID := model.PacketID(binary.BigEndian.Uint32(plaintext[:4]))
		if err := c.checkPacketID(packetID); err != nil {
			return nil, err
		}
		if err := c.acceptPacketID(packetID); err != nil {
			return nil, err
		}
		return plaintext[4:], nil

	default:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: missing packet id", cryptosuite.ErrMalformedPacket)
		}
		pid := body[:4]
		packetID := model.PacketID(binary.BigEndian.Uint32(pid))
		if err := c.checkPacketID(packetID); err != nil {
			return nil, err
		}
		flags := &cryptosuite.Flags{
			PacketID: packetID,
			AD:       additionalData(packet[:header.Len()], pid, header.Opcode),
		}
		framed, err := c.decrypt.Open(body[4:], flags)
		if err != nil {
			return nil, err
		}
		if err := c.acceptPacketID(packetID); err != nil {
			return nil, err
		}
		return framed, nil
	}
}

// checkPacketID rejects ids the window already knows to be stale.
func (c *Codec) checkPacketID(packetID model.PacketID) error {
	switch status := c.window.Check(packetID); status {
	case replay.StatusOK:
		return nil
	case replay.StatusJump:
		c.stats.jumps.Add(1)
		c.logger.Debugf("datachannel: packet id jump to %d (high %d)", packetID, c.window.High())
		return nil
	default:
		return fmt.Errorf("%w: packet id %d: %s", ErrReplay, packetID, status)
	}
}

// acceptPacketID commits an authenticated packet id to the window.
func (c *Codec) acceptPacketID(packetID model.PacketID) error {
	if !c.window.Accept(packetID) {
		return fmt.Errorf("%w: packet id %d", ErrReplay, packetID)
	}
	return nil
}

// drop counts the dropped packet and wraps cause.
func (c *Codec) drop(cause error) error {
	switch {
	case errors.Is(cause, ErrReplay):
		c.stats.droppedReplay.Add(1)
	case errors.Is(cause, cryptosuite.ErrAuthenticationFailed):
		c.stats.droppedAuth.Add(1)
	case errors.Is(cause, ErrBadCompression):
		c.stats.droppedCompression.Add(1)
	default:
		c.stats.droppedMalformed.Add(1)
	}
	return dropped(cause)
}
