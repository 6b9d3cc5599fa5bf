// Package envelope seals application bodies into frame payloads.
//
// # Overview
//
// A frame payload is crypto.Seal(recipient, json(Envelope)). The envelope
// names the sender (X25519 identity, Ed25519 signing key, onion address),
// carries the JSON body for the frame's tag and is signed by the sender.
//
// # Flows
//
// Sending:
//  1. Marshal the body.
//  2. Sign tag || header || body with the identity Ed25519 key.
//  3. Seal the envelope to the recipient's X25519 key.
//
// Receiving:
//  1. Open with the local X25519 key; failure is a CryptoError.
//  2. Parse the envelope; failure is a ProtocolError.
//  3. Verify the signature against the embedded signing key. Callers pin that
//     key on first contact and compare it on every later frame.
package envelope
