package streamclient

import "time"

// Backoff yields reconnect delays that double from Initial up to Max
type Backoff struct {
	Initial time.Duration // e.g., 1s
	Max     time.Duration // e.g., 15s

	next time.Duration
}

// Next returns the delay before the next attempt and advances the schedule
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max <= 0 {
		b.Max = 15 * time.Second
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.next == 0 {
		b.next = b.Initial
	}

	d := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	return d
}

// Reset restarts the schedule; called once a connection opens
func (b *Backoff) Reset() {
	b.next = 0
}
