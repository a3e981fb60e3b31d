// Package machines holds the pure lifecycle state machines for tickets,
// shows and wallets. A machine is rebuilt from the persisted state snapshot,
// applies one event at a time in memory, and reports side effects as queued
// commands; it never touches storage or the network itself.
package machines

import (
	"time"
)

// Queue names consumed by the job orchestrator.
const (
	QueueShow    = "SHOW"
	QueueTicket  = "TICKET"
	QueuePayout  = "PAYOUT"
	QueueInvoice = "INVOICE"
)

// Command is a message a machine wants delivered through the job queue.
// Machines communicate exclusively through these; a ticket machine never
// mutates a show document and vice versa.
type Command struct {
	Queue   string
	Type    string
	Payload map[string]any
	Delay   time.Duration
}
