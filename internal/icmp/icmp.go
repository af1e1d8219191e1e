// Package icmp builds and parses the IPv4 ICMP echo packets carried
// through the tunnel.
package icmp

import (
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotEcho means a packet is not an ICMPv4 echo.
var ErrNotEcho = errors.New("icmp: not an echo packet")

// Echo is an ICMPv4 echo request or reply inside an IPv4 packet.
type Echo struct {
	Src     net.IP
	Dst     net.IP
	ID      uint16
	Seq     uint16
	Reply   bool
	Payload []byte
}

// Serialize returns the IPv4 packet carrying e.
func (e *Echo) Serialize() ([]byte, error) {
	typ := uint8(layers.ICMPv4TypeEchoRequest)
	if e.Reply {
		typ = layers.ICMPv4TypeEchoReply
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    e.Src.To4(),
		DstIP:    e.Dst.To4(),
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, 0),
		Id:       e.ID,
		Seq:      e.Seq,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, icmp, gopacket.Payload(e.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseEcho decodes an IPv4 packet carrying an ICMPv4 echo.
func ParseEcho(data []byte) (*Echo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, errLayer.Error()
	}
	ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return nil, ErrNotEcho
	}
	icmp, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok {
		return nil, ErrNotEcho
	}
	e := &Echo{
		Src:     ip.SrcIP,
		Dst:     ip.DstIP,
		ID:      icmp.Id,
		Seq:     icmp.Seq,
		Payload: append([]byte{}, icmp.Payload...),
	}
	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest:
	case layers.ICMPv4TypeEchoReply:
		e.Reply = true
	default:
		return nil, ErrNotEcho
	}
	return e, nil
}

// ReplyTo returns the echo reply for e.
func (e *Echo) ReplyTo() *Echo {
	return &Echo{
		Src:     e.Dst,
		Dst:     e.Src,
		ID:      e.ID,
		Seq:     e.Seq,
		Reply:   true,
		Payload: append([]byte{}, e.Payload...),
	}
}
