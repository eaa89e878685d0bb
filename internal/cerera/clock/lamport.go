// Package clock implements the two logical-clock flavours the mutex processor can run
// over: a plain scalar Lamport clock and a verifiable quorum clock whose value is
// certified by a (f+1)-quorum of peer signatures (spec.md §3, §4.3).
package clock

// LamportClock is the plain scalar clock: spec.md's "LamportClock ≡ u64 (scalar)".
type LamportClock uint64

// Tick advances the clock by one, as on every local send event.
func (c LamportClock) Tick() LamportClock {
	return c + 1
}

// Merge implements the Lamport receive rule: max(local, received) + 1.
func (c LamportClock) Merge(received LamportClock) LamportClock {
	if received > c {
		c = received
	}
	return c.Tick()
}

// Less orders two (clock, id) pairs lexicographically, spec.md's tiebreak for the
// plain mutex variant: lower clock first, lower id breaks a tie.
func Less(aClock LamportClock, aID int, bClock LamportClock, bID int) bool {
	if aClock != bClock {
		return aClock < bClock
	}
	return aID < bID
}
