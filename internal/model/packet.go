package model

//
// Packet
//
// Parsing and serializing OpenVPN data-channel packet headers.
//

import (
	"errors"
	"fmt"
)

// Opcode is an OpenVPN packet opcode.
type Opcode byte

// OpenVPN packets opcodes.
const (
	P_CONTROL_HARD_RESET_CLIENT_V1 = Opcode(iota + 1) // 1
	P_CONTROL_HARD_RESET_SERVER_V1                    // 2
	P_CONTROL_SOFT_RESET_V1                           // 3
	P_CONTROL_V1                                      // 4
	P_ACK_V1                                          // 5
	P_DATA_V1                                         // 6
	P_CONTROL_HARD_RESET_CLIENT_V2                    // 7
	P_CONTROL_HARD_RESET_SERVER_V2                    // 8
	P_DATA_V2                                         // 9
)

// String returns the opcode string representation
func (op Opcode) String() string {
	switch op {
	case P_CONTROL_HARD_RESET_CLIENT_V1:
		return "P_CONTROL_HARD_RESET_CLIENT_V1"
	case P_CONTROL_HARD_RESET_SERVER_V1:
		return "P_CONTROL_HARD_RESET_SERVER_V1"
	case P_CONTROL_SOFT_RESET_V1:
		return "P_CONTROL_SOFT_RESET_V1"
	case P_CONTROL_V1:
		return "P_CONTROL_V1"
	case P_ACK_V1:
		return "P_ACK_V1"
	case P_DATA_V1:
		return "P_DATA_V1"
	case P_CONTROL_HARD_RESET_CLIENT_V2:
		return "P_CONTROL_HARD_RESET_CLIENT_V2"
	case P_CONTROL_HARD_RESET_SERVER_V2:
		return "P_CONTROL_HARD_RESET_SERVER_V2"
	case P_DATA_V2:
		return "P_DATA_V2"
	default:
		return "P_UNKNOWN"
	}
}

// PacketID is a packet identifier. Data-channel packet ids start at 1 for
// every key epoch and are serialized as 4 big-endian bytes.
type PacketID uint32

// PeerID is the type of the P_DATA_V2 peer ID.
type PeerID [3]byte

// NewPeerID returns the 3-byte big-endian encoding of id.
func NewPeerID(id uint32) PeerID {
	return PeerID{byte(id >> 16), byte(id >> 8), byte(id)}
}

// Uint32 returns the numeric value of the peer id.
func (p PeerID) Uint32() uint32 {
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// DataHeader is the unencrypted header of a data-channel packet.
type DataHeader struct {
	// Opcode is either P_DATA_V1 or P_DATA_V2.
	Opcode Opcode

	// KeyID is the low 3 bits of the first byte.
	KeyID byte

	// PeerID is only serialized for P_DATA_V2.
	PeerID PeerID
}

// ErrPacketTooShort indicates that a packet is too short.
var ErrPacketTooShort = errors.New("openvpn: packet too short")

// ErrParsePacket is a generic packet parse error which may be further qualified.
var ErrParsePacket = errors.New("openvpn: packet parse error")

// Len returns the serialized header length.
func (h *DataHeader) Len() int {
	if h.Opcode == P_DATA_V2 {
		return 4
	}
	return 1
}

// Bytes returns the serialized header.
func (h *DataHeader) Bytes() []byte {
	first := (byte(h.Opcode) << 3) | (h.KeyID & 0x07)
	if h.Opcode == P_DATA_V2 {
		return []byte{first, h.PeerID[0], h.PeerID[1], h.PeerID[2]}
	}
	return []byte{first}
}

// ParseDataHeader parses the header of a data packet and returns it along with
// the remaining payload.
func ParseDataHeader(buf []byte) (*DataHeader, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, ErrPacketTooShort
	}
	h := &DataHeader{
		Opcode: Opcode(buf[0] >> 3),
		KeyID:  buf[0] & 0x07,
	}
	switch h.Opcode {
	case P_DATA_V1:
		return h, buf[1:], nil
	case P_DATA_V2:
		if len(buf) < 4 {
			return nil, nil, ErrPacketTooShort
		}
		copy(h.PeerID[:], buf[1:4])
		return h, buf[4:], nil
	default:
		return nil, nil, fmt.Errorf("%w: not a data opcode: %s", ErrParsePacket, h.Opcode)
	}
}
