// Package cryptosuite implements the per-packet ciphers of the OpenVPN
// data channel.
//
// Three constructions are supported, selected once from the negotiated
// cipher and digest names:
//
// 1. [*CBC]: HMAC(IV | ciphertext) | IV | ciphertext, or HMAC(plaintext) |
// plaintext when no cipher is configured;
//
// 2. [*CTR]: a synthetic-IV construction where tag = HMAC(AD | plaintext)
// and the first 16 bytes of the tag seed the counter;
//
// 3. [*AEAD]: AES-GCM or ChaCha20-Poly1305 with nonce = packetID | implicit IV,
// serialized as tag | ciphertext.
//
// A [Suite] is configured for exactly one direction. Keep one instance for
// sealing and one for opening.
package cryptosuite
