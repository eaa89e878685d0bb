// Package cops implements spec.md §4.5-4.7's COPS-style causally-consistent key-value
// replica: an asynchronous version service assigns each write a dependency vector, an
// ordinary (map-based) Version is the reference implementation of the causal order, and
// a replica/client pair exchange Get/Put/SyncKey traffic honoring those dependencies.
package cops

// KeyID names a key in the store. A Version's components are indexed by KeyID, not by
// replica: the Rust original's version_deps lives in per-key KeyState and is stamped by
// the key a write touches (events::Update{id: put.key, ...}), so "the nearest dependency
// on key K" is K's own counter, never a replica-wide one.
type KeyID string

// ReplicaTag names the replica that assigned or originated a write (SyncKey.Origin, a
// Replica's own identity) — a separate concept from the per-key counters a Version
// tracks, and never itself a Version component.
type ReplicaTag uint8

// Ordering is the result of comparing two Versions: they may agree, one may dominate
// the other, or they may be causally concurrent (neither dominates).
type Ordering int

const (
	OrderEqual Ordering = iota
	OrderLess
	OrderGreater
	OrderConcurrent
)

// Version is spec.md's causal version abstraction: PartialCmp gives the full causal
// order across every tracked key's counter, DepCmp restricts that comparison to one
// key's own counter — the check a Recv<Put>/Recv<SyncKey> dependency test actually
// needs, since a key's "nearest dependency" is just that key's own counter, not a merge
// across the whole keyspace. Keys enumerates which keys a Version has an opinion about,
// so a per-key dependency walk can iterate just the dependency's own components instead
// of every key in the store (mirrors the Rust original's DepOrd::deps).
type Version interface {
	PartialCmp(other Version) Ordering
	DepCmp(other Version, key KeyID) Ordering
	Get(key KeyID) uint32
	Keys() []KeyID
	Merge(other Version) Version
	Increment(key KeyID) Version
}

// OrdinaryVersion is the reference Version: a plain per-key counter vector with "absent
// counts as zero" semantics, spec.md §4.6's default implementation. The ivc package
// provides an alternative Version built against the same interface, for deployments
// that want a chained proof over a key's write history.
type OrdinaryVersion map[KeyID]uint32

// NewOrdinaryVersion returns the zero version (no writes observed for any key).
func NewOrdinaryVersion() OrdinaryVersion {
	return OrdinaryVersion{}
}

func (v OrdinaryVersion) Get(key KeyID) uint32 {
	return v[key]
}

// Keys lists the keys this version vector has an entry for, explicit zero entries
// included.
func (v OrdinaryVersion) Keys() []KeyID {
	out := make([]KeyID, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	return out
}

// clone returns a shallow copy so Merge/Increment never mutate a shared version.
func (v OrdinaryVersion) clone() OrdinaryVersion {
	out := make(OrdinaryVersion, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge computes the componentwise max, spec.md's "prev.merge(d1)...merge(dn)".
func (v OrdinaryVersion) Merge(other Version) Version {
	out := v.clone()
	o, ok := other.(OrdinaryVersion)
	if !ok {
		return out
	}
	for k, val := range o {
		if val > out[k] {
			out[k] = val
		}
	}
	return out
}

// Increment bumps key's own counter by one, used by the version service when it
// assigns a new version to a write to that key.
func (v OrdinaryVersion) Increment(key KeyID) Version {
	out := v.clone()
	out[key] = out[key] + 1
	return out
}

// PartialCmp compares every tracked component. Equal if all match; Less/Greater if one
// side dominates every component; Concurrent if neither dominates (some components
// favor each side).
func (v OrdinaryVersion) PartialCmp(other Version) Ordering {
	o, ok := other.(OrdinaryVersion)
	if !ok {
		return OrderConcurrent
	}
	keys := make(map[KeyID]struct{}, len(v)+len(o))
	for k := range v {
		keys[k] = struct{}{}
	}
	for k := range o {
		keys[k] = struct{}{}
	}
	lessSeen, greaterSeen := false, false
	for k := range keys {
		a, b := v[k], o[k]
		switch {
		case a < b:
			lessSeen = true
		case a > b:
			greaterSeen = true
		}
	}
	switch {
	case !lessSeen && !greaterSeen:
		return OrderEqual
	case lessSeen && !greaterSeen:
		return OrderLess
	case greaterSeen && !lessSeen:
		return OrderGreater
	default:
		return OrderConcurrent
	}
}

// DepCmp restricts PartialCmp to a single key's component, the comparison a dependency
// check on one key's nearest write actually performs.
func (v OrdinaryVersion) DepCmp(other Version, key KeyID) Ordering {
	o, ok := other.(OrdinaryVersion)
	if !ok {
		return OrderConcurrent
	}
	a, b := v[key], o[key]
	switch {
	case a == b:
		return OrderEqual
	case a < b:
		return OrderLess
	default:
		return OrderGreater
	}
}

// Satisfies reports whether every component of dep is already reflected in v — i.e.
// v happened causally at-or-after dep. Kept for callers that genuinely need the full
// causal order (e.g. applySync's stale-write check against one key's own prior
// version); per-key dependency gating uses DepSatisfied instead, since a write to one
// key must never block on another key's unrelated state.
func Satisfies(v, dep Version) bool {
	ord := dep.PartialCmp(v)
	return ord == OrderEqual || ord == OrderLess
}

// DepSatisfied reports whether every key dep has an opinion about is already reflected,
// at-or-after that key's component, in that key's own locally installed version (as
// reported by lookup; a missing key is treated as the zero version). This is the Rust
// original's can_sync/Recv<Put> check: each dependency component is compared only
// against its own key's state, so a pending write to key A never blocks on key B's
// causal history.
func DepSatisfied(dep Version, lookup func(KeyID) (Version, bool)) bool {
	for _, key := range dep.Keys() {
		local, ok := lookup(key)
		if !ok || local == nil {
			local = OrdinaryVersion{}
		}
		switch dep.DepCmp(local, key) {
		case OrderEqual, OrderLess:
		default:
			return false
		}
	}
	return true
}
