// Package store provides the invocation ledger for the gateway using SQLite.
//
// # Architecture
//
// The ledger is an append-only record of what the gateway did: one entry per
// operation outcome and per client connect or disconnect. It is written
// asynchronously from the event bus, so a slow or failing disk never delays
// or fails a call.
//
//   - Ledger: the interface callers depend on
//   - SQLiteLedger: the modernc.org/sqlite implementation
//   - Subscriber: bridges events.Bus to a Ledger through a bounded queue
//
// # Data Model
//
//   - Entry: one recorded event (kind, operation, request, client, duration, error)
//   - OperationStats: per-operation call and error counts aggregated from entries
//
// # Usage
//
//	ledger, err := store.NewSQLiteLedger("./toolgate.db", logger)
//	sub := store.NewSubscriber(ledger, 1024, logger)
//	unsubscribe := bus.Subscribe(sub.Listener())
//	go sub.Run(ctx)
//
// # Queries
//
//	entries, err := ledger.Recent(ctx, store.Filter{Operation: "echo", Limit: 50})
//	stats, err := ledger.Stats(ctx)
//
// Timestamps are stored as fixed-width RFC 3339 text in UTC.
package store
