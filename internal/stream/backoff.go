package stream

import "time"

// backoff produces an exponential delay sequence: base, 2*base, 4*base, ...
// capped at max. Reset returns it to the start of the sequence.
type backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, next: base}
}

// Next returns the current delay and advances the sequence.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset returns the sequence to the base delay.
func (b *backoff) Reset() {
	b.next = b.base
}
