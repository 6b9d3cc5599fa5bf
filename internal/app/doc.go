// Package app wires application dependencies for the CLI and the local API.
//
// NewWire opens the stores selected by Config. New unlocks the identity and
// builds the transport, session registry, handshake protocol, delivery
// tracker and message channel around it, returning an App whose methods are
// the operations a user interface calls. Events, ServerStates and
// SessionStates expose the three notification streams.
package app
