// ABOUTME: Ledger types and the interface implemented by SQLiteLedger.
// ABOUTME: Entries are immutable records of operation outcomes and connection lifecycle.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrLedgerClosed indicates a write to a ledger that has been closed.
var ErrLedgerClosed = errors.New("ledger closed")

// Entry is one recorded gateway event.
type Entry struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Operation string        `json:"operation,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	ClientID  string        `json:"clientId,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Filter narrows Recent queries. Zero fields are ignored.
type Filter struct {
	Kind      string
	Operation string
	ClientID  string
	Since     time.Time
	Limit     int
}

// OperationStats aggregates ledger entries for one operation.
type OperationStats struct {
	Operation       string        `json:"operation"`
	Calls           int64         `json:"calls"`
	Errors          int64         `json:"errors"`
	AverageDuration time.Duration `json:"averageDuration"`
	LastCalledAt    time.Time     `json:"lastCalledAt"`
}

// Ledger records and queries gateway events.
type Ledger interface {
	Record(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, f Filter) ([]*Entry, error)
	Stats(ctx context.Context) ([]*OperationStats, error)
	Close() error
}

// DefaultRecentLimit caps Recent when Filter.Limit is unset.
const DefaultRecentLimit = 100
