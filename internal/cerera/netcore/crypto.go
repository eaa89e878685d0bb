package netcore

import (
	"crypto/hmac"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Digest is the 32-byte content hash spec.md's PrePrepare/Prepare/Commit carry.
type Digest [32]byte

// Hash computes the reference digest over the concatenation of parts, grounded on the
// teacher's blake2b-based content hashing (core/crypto.INRISeq).
func Hash(parts ...[]byte) Digest {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Signature is an opaque signature blob produced by KeyRing.Sign and checked by
// KeyRing.Verify. spec.md §1 treats signing/verification as a pluggable contract the
// core only consumes; KeyRing is the reference deployment used by tests and examples.
type Signature []byte

func newMAC(key []byte) hash.Hash {
	h := hmac.New(func() hash.Hash {
		d, _ := blake2b.New256(nil)
		return d
	}, key)
	return h
}

// KeyRing is the reference crypto contract: every participant holds the full symmetric
// keyset (a test/reference deployment only) and signs/verifies via a keyed MAC over the
// digest. A production deployment would plug asymmetric signatures in behind the same
// Sign/Verify shape.
type KeyRing struct {
	Self ReplicaID
	Keys map[ReplicaID][]byte
}

// NewKeyRing builds a KeyRing for participant self out of the shared per-replica
// keyset.
func NewKeyRing(self ReplicaID, keys map[ReplicaID][]byte) *KeyRing {
	return &KeyRing{Self: self, Keys: keys}
}

// Sign signs digest as Self.
func (k *KeyRing) Sign(digest Digest) Signature {
	mac := newMAC(k.Keys[k.Self])
	mac.Write(digest[:])
	return mac.Sum(nil)
}

// Verify checks that sig is a valid signature over digest from signer.
func (k *KeyRing) Verify(digest Digest, sig Signature, signer ReplicaID) bool {
	key, ok := k.Keys[signer]
	if !ok {
		return false
	}
	mac := newMAC(key)
	mac.Write(digest[:])
	return hmac.Equal(mac.Sum(nil), sig)
}

// Verifiable wraps a plaintext value with the signature over its digest and the
// identity of the signer, matching spec.md's "Verifiable<T> envelope containing the
// plaintext plus a signature".
type Verifiable[T any] struct {
	Plain  T
	Digest Digest
	Signer ReplicaID
	Sig    Signature
}

// Sign produces a Verifiable envelope for plain, whose digest is computed by digestOf.
func Sign[T any](ring *KeyRing, plain T, digestOf func(T) Digest) Verifiable[T] {
	d := digestOf(plain)
	return Verifiable[T]{
		Plain:  plain,
		Digest: d,
		Signer: ring.Self,
		Sig:    ring.Sign(d),
	}
}

// Verify checks v's signature and, if digestOf is non-nil, that v.Digest matches the
// recomputed digest of v.Plain (guards against a tampered plaintext riding along with a
// valid signature over a different digest).
func (v Verifiable[T]) Verify(ring *KeyRing, digestOf func(T) Digest) bool {
	if digestOf != nil && digestOf(v.Plain) != v.Digest {
		return false
	}
	return ring.Verify(v.Digest, v.Sig, v.Signer)
}
