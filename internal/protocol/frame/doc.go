// Package frame implements the on-socket framing.
//
// Every unit on the wire is
//
//	[4-byte big-endian length][1-byte tag][ciphertext]
//
// where length counts the tag and ciphertext. Tags:
//
//	0x01 handshake start
//	0x02 handshake confirm
//	0x03 text
//	0x04 typing
//	0x05 file chunk
//
// The ciphertext is opaque at this layer; see package envelope.
package frame
