package datachannel

import "bytes"

// pingPayload is the payload of OpenVPN keepalive pings.
var pingPayload = [16]byte{
	0x2a, 0x18, 0x7b, 0xf3, 0x64, 0x1e, 0xb4, 0xcb,
	0x07, 0xed, 0x2d, 0x0a, 0x98, 0x1f, 0xc7, 0x48,
}

// isPing returns whether payload is a keepalive ping.
func isPing(payload []byte) bool {
	return bytes.Equal(payload, pingPayload[:])
}
