// Package session keeps one live Session per contact and routes inbound frames.
//
// Flow of an inbound frame:
//  1. The transport hands the frame to Registry.Dispatch.
//  2. Dispatch opens the sealed envelope with the local identity. Frames that
//     do not decrypt or verify are dropped.
//  3. Handshake tags go straight to their handler. Other tags need an
//     established session whose pinned signing key matches the sender.
//  4. The handler registered for the tag runs on the socket's read goroutine.
//
// Outbound work for a peer runs on its Session's FIFO worker, so messages
// leave in the order they were queued.
package session
