// Package store provides persistence for ochat's core data.
//
// Everything sits on a domain.KeyValueStore, with two backends:
//   - SQLiteKV: one "kv" table in a pure-Go SQLite database (default)
//   - FileKV: one file per key under the home directory, written atomically
//
// On top of the key-value layer the package offers:
//   - IdentityStore: the identity sealed with scrypt + XChaCha20-Poly1305
//   - ContactStore: one JSON record per contact ("contact/<peer>")
//   - MessageStore: ordered history per contact ("history/<peer>") plus a
//     message-id index ("msgref/<id>")
//   - BlobStore: received files ("blob/<transfer>")
//
// All types are safe for concurrent use.
package store
