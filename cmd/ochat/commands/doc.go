// Package commands defines the ochat CLI.
//
// Commands
//
//   - init         Create the local identity
//   - fingerprint  Print the public key, onion address and fingerprint
//   - serve        Run the onion service and the local API
//   - request      Ask a peer to chat
//   - confirm      Accept a chat request
//   - cancel       Drop an open request
//   - block        Block a contact
//   - send         Send a text, reply or reaction
//   - send-file    Send a file
//   - retry        Re-send a failed message
//   - rm           Remove a message or a contact
//   - contacts     List contacts
//   - history      Print the messages exchanged with a contact
//   - watch        Stream notifications
//
// # Implementation
//
// The root command loads the configuration (flags, OCHAT_* environment,
// ochat.yaml) before any subcommand runs. init and fingerprint open the
// stores directly; serve owns the network, and every other command talks to
// the running serve process through its loopback API.
package commands
