// Package datachannel implements packet encryption and decryption over the
// OpenVPN data channel.
//
// A [Codec] turns tun-side payloads into P_DATA_V1 or P_DATA_V2 packets and
// back. Keys are derived after a successful TLS handshake (see the session
// package) and installed with [Codec.SetupKeys]. Packets that fail
// verification are dropped: [Codec.DecryptInbound] returns an error wrapping
// [ErrDropped] and the caller moves on to the next packet.
package datachannel
