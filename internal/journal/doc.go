// Package journal keeps a bounded, append-only history of safety events in
// SQLite.
//
// Store is the repository over the relay_events table. Writer wraps a Store
// as an event.Sink: Record queues the event on a buffered channel and one
// goroutine inserts it, so relay switching never waits on disk I/O. When
// the buffer is full the event is dropped with a warning. The Writer also
// prunes rows older than the configured retention once an hour.
package journal
