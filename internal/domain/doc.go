// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (wire/state) and contracts (interfaces) only.
//
// The types subpackage holds identities, contacts, sessions, messages, the
// transport and chat event streams and the error taxonomy. The interfaces
// subpackage holds the storage and transport contracts. Both are re-exported
// here so callers import a single package.
package domain
