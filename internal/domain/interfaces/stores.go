package interfaces

import (
	"context"

	domaintypes "ochat/internal/domain/types"
)

// KeyValueStore is the minimal persistence capability the core needs.
// Keys are opaque; Read reports ok=false for a missing key.
type KeyValueStore interface {
	Save(ctx context.Context, key string, value []byte) error
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// IdentityStore persists your long-term identity keys.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	HasIdentity() (bool, error)
}

// ContactStore persists the contact list.
type ContactStore interface {
	SaveContact(ctx context.Context, contact domaintypes.Contact) error
	LoadContact(ctx context.Context, peer domaintypes.PeerID) (domaintypes.Contact, bool, error)
	ListContacts(ctx context.Context) ([]domaintypes.Contact, error)
	DeleteContact(ctx context.Context, peer domaintypes.PeerID) error
}

// MessageStore persists per-contact message history in insertion order.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg domaintypes.Message) error
	UpdateMessage(ctx context.Context, msg domaintypes.Message) error
	LoadMessage(ctx context.Context, id domaintypes.MessageID) (domaintypes.Message, bool, error)
	ListMessages(ctx context.Context, peer domaintypes.PeerID) ([]domaintypes.Message, error)
	DeleteMessage(ctx context.Context, peer domaintypes.PeerID, id domaintypes.MessageID) error
	DeleteHistory(ctx context.Context, peer domaintypes.PeerID) error
}

// BlobStore keeps received file contents.
type BlobStore interface {
	SaveBlob(ctx context.Context, id domaintypes.TransferID, data []byte) error
	LoadBlob(ctx context.Context, id domaintypes.TransferID) ([]byte, bool, error)
	DeleteBlob(ctx context.Context, id domaintypes.TransferID) error
}
