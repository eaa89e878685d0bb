package cops

// VersionService is the external collaborator spec.md §4.5 keeps abstract: assigning a
// write its version happens off the replica's own critical path, asynchronously, so a
// replica must be able to juggle several in-flight assignments without blocking.
type VersionService interface {
	// Assign computes the version a write to key should carry given prev (that key's
	// last known version) and the dependency versions (d1..dn) the write causally
	// depends on, then delivers the result to done. A real deployment would dispatch
	// this over the network; OrdinaryVersionService below answers in-process.
	Assign(key KeyID, prev Version, deps []Version, done func(Version))
}

// OrdinaryVersionService is the reference VersionService: it merges prev with every
// dependency and increments the written key's own counter, spec.md's
// "prev.merge(d1)...merge(dn); version_deps[id] += 1" where id is the key being
// written (the Rust original's events::Update{id: put.key, ...}), not the replica
// performing the write. It answers synchronously but through the same done-callback
// shape a networked implementation would use, so replicas built against VersionService
// don't need to change to use a real one.
type OrdinaryVersionService struct{}

func (OrdinaryVersionService) Assign(key KeyID, prev Version, deps []Version, done func(Version)) {
	merged := prev
	for _, d := range deps {
		merged = merged.Merge(d)
	}
	done(merged.Increment(key))
}
