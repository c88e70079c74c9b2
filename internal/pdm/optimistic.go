package pdm

// Optimistic is a two-phase value: a committed value confirmed by the
// server plus at most one pending proposal. Every proposal bumps the
// version; a confirmation or rejection only clears the pending value if it
// answers the latest proposal, so a slow reply cannot clobber a newer edit.
type Optimistic[T comparable] struct {
	committed  T
	pending    T
	hasPending bool
	version    uint64
}

// NewOptimistic returns a value committed to v.
func NewOptimistic[T comparable](v T) Optimistic[T] {
	return Optimistic[T]{committed: v}
}

// Value returns the pending value if one exists, else the committed one.
func (o *Optimistic[T]) Value() T {
	if o.hasPending {
		return o.pending
	}
	return o.committed
}

// Committed returns the last server-confirmed value.
func (o *Optimistic[T]) Committed() T { return o.committed }

// Pending reports whether a proposal awaits confirmation.
func (o *Optimistic[T]) Pending() bool { return o.hasPending }

// Version returns the number of proposals made so far.
func (o *Optimistic[T]) Version() uint64 { return o.version }

// Propose records v as pending and returns its version.
func (o *Optimistic[T]) Propose(v T) uint64 {
	o.version++
	o.pending = v
	o.hasPending = true
	return o.version
}

// Confirm commits the server's answer v. The pending value collapses only
// when version is the latest proposal; it reports whether that happened.
func (o *Optimistic[T]) Confirm(version uint64, v T) bool {
	o.committed = v
	if o.hasPending && version == o.version {
		o.hasPending = false
		var zero T
		o.pending = zero
		return true
	}
	return false
}

// Reject drops the pending value if version is the latest proposal.
func (o *Optimistic[T]) Reject(version uint64) bool {
	if o.hasPending && version == o.version {
		o.hasPending = false
		var zero T
		o.pending = zero
		return true
	}
	return false
}

// Reset replaces the committed value from an unsolicited server refresh,
// leaving any in-flight proposal untouched.
func (o *Optimistic[T]) Reset(v T) { o.committed = v }

func (o Optimistic[T]) clone() Optimistic[T] { return o }
