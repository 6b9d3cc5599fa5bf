// Package identity creates, imports and loads the local identity.
//
// Passphrases must pass a basic strength policy before anything is written.
package identity
