// Package link moves data-channel packets over the network.
//
// A [Link] reads and writes whole packets: UDP datagrams map one to one,
// while TCP streams carry each packet behind a 2-byte big-endian length
// as OpenVPN does. Every packet is run through the configured
// [obfuscation.Obfuscator] on its way in and out.
package link
