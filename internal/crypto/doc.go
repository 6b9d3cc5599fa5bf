// Package crypto exposes the minimal primitives used by ochat.
//
// Contents
//
//   - ECIES sealing to an X25519 public key (Seal, Open) built on NaCl
//     anonymous boxes: ephemeral key || XSalsa20-Poly1305 ciphertext
//   - X25519 key generation, import, parsing and Diffie–Hellman
//     (GenerateX25519, ImportX25519, ParsePublicKey, DH)
//   - Ed25519 key generation, signing and verification
//   - v3 onion address derivation and tor key rendering (OnionAddress,
//     OnionPublicKey, TorPrivateKey)
//   - Short fingerprints and per-contact safety codes (Fingerprint, SafetyCode)
//   - Best-effort memory wiping (Wipe)
//
// # Notes
//
// Open never distinguishes between a wrong key and a corrupted ciphertext;
// both return domain.ErrDecrypt so callers can drop the frame uniformly.
package crypto
