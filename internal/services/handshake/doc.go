// Package handshake runs the request/confirm exchange that turns a public key
// and onion address into a confirmed contact.
//
// Initiator:
//  1. Request seals a handshake start to the peer's key; the contact becomes
//     requested and the session request_sent.
//  2. An inbound confirm pins the peer's signing and encryption keys; the
//     contact becomes confirmed and the session established.
//
// Responder:
//  1. An inbound start creates a requested contact with the session at
//     request_received and emits EventRequestReceived.
//  2. Confirm answers with a handshake confirm; Cancel drops the request
//     without sending anything.
//
// When both sides request at once, the smaller public key is the initiator:
// the larger side adopts the inbound request and confirms it.
package handshake
