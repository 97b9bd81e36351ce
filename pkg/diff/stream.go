package diff

import (
	"context"
)

// Diff is a lazy stream of events, consumed sql.Rows-style:
//
//	d, err := differ.Diff(ctx, left, right)
//	...
//	for d.Next() {
//	    ev := d.Event()
//	    ...
//	}
//	err = d.Err()
//
// Close abandons the stream early; in-flight queries are cancelled.
type Diff struct {
	events chan Event
	cancel context.CancelFunc
	stats  *Stats

	cur    Event
	err    error // written by the producer before closing events
	closed bool
}

// Next advances the stream. It returns false when the stream is
// exhausted or failed; check Err afterwards.
func (d *Diff) Next() bool {
	ev, ok := <-d.events
	if !ok {
		return false
	}
	d.cur = ev
	return true
}

// Event returns the event Next advanced to.
func (d *Diff) Event() Event { return d.cur }

// Err returns the error that terminated the stream, if any. Valid after
// Next returns false.
func (d *Diff) Err() error {
	if d.closed {
		return nil
	}
	return d.err
}

// Stats returns a snapshot of the run's counters. Counters settle once
// the stream is exhausted.
func (d *Diff) Stats() StatsSnapshot { return d.stats.snapshot() }

// Close abandons the stream: the producer is cancelled and drained.
// Events already consumed remain valid.
func (d *Diff) Close() error {
	d.closed = true
	d.cancel()
	for range d.events {
	}
	return nil
}

// finish records the terminal error. Called by the producer exactly
// once, before closing the events channel.
func (d *Diff) finish(err error) {
	d.err = err
	close(d.events)
}
