package interfaces

import (
	"context"

	domaintypes "ochat/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity(passphrase string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	ImportIdentity(passphrase string, xpriv domaintypes.X25519Private, edSeed []byte) (
		domaintypes.Identity,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// Transport moves framed ciphertext between onion addresses.
type Transport interface {
	Send(ctx context.Context, to domaintypes.OnionAddress, tag byte, ciphertext []byte) error
	Bind(conn domaintypes.ConnID, onion domaintypes.OnionAddress)
	Probe(ctx context.Context, onion domaintypes.OnionAddress) bool
	OnionAddress() (domaintypes.OnionAddress, error)
}
