// Package webhooks delivers signed ledger events to configured HTTP endpoints.
package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the system.
const (
	EventBlockAppended = "block.appended"
	EventBatchDeleted  = "batch.deleted"
	EventChainTampered = "chain.tampered"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-GreenLedger-Signature"

// Event is the JSON body POSTed to every endpoint.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
