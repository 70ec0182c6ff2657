// Package events is the in-process lifecycle notification bus.
//
// Components emit typed Events (tool:executed, error:occurred,
// client:connected, client:disconnected) and any number of listeners observe
// them. Listeners run synchronously in subscription order. A listener that
// returns an error or panics is logged and skipped; the remaining listeners
// still run.
//
// Listeners that do slow work (the SQLite ledger, for instance) should hand
// the event off to their own goroutine.
package events
