// Package delivery tracks the send state of outbound messages.
//
// Each message moves in_progress → delivered or in_progress → failed; a
// failed message returns to in_progress only through Retry. Every change is
// written to the MessageStore and published as an EventMessageStatus.
package delivery
