// Package transport owns the onion-service lifecycle and the sockets to peers.
//
// A Service hosts one onion service through a Network backend:
//   - TorNetwork runs an embedded tor process (github.com/cretz/bine)
//   - ExternalNetwork uses a system tor through its SOCKS port and a
//     HiddenServiceDir configured in torrc
//   - MemoryHub/MemoryNetwork connect services in-process for tests
//
// Inbound and outbound sockets are read by one goroutine each; every complete
// frame is handed to the registered Handler in arrival order. Outbound sends
// reuse one pooled socket per onion address so frames to a peer keep their
// order. Lifecycle and socket notifications are published on States.
package transport
