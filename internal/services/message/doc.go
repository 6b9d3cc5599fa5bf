// Package message sends and receives chat messages over established sessions.
//
// High-level flow:
//   - Send: seal the payload once to the contact's encryption key, register
//     the message with the delivery tracker, then queue the attempt on the
//     session FIFO so messages to a peer leave in order.
//   - Receive: decode the verified envelope body, store the message as
//     received and publish EventMessageReceived. File chunks are collected
//     until the transfer is complete.
//
// Typing indicators are best-effort: throttled per peer, never tracked, and
// failures are only logged.
package message
