package signature

import "time"

// DefaultTolerance is the freshness window applied to request timestamps,
// in both directions to absorb client clock skew.
const DefaultTolerance = 5 * time.Minute

// ReplayGuard rejects requests whose timestamp falls outside the tolerance
// window around the current time. It keeps no per-request state: a request
// replayed inside the window passes, which is an accepted limitation of the
// wire protocol (see the package comment).
type ReplayGuard struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewReplayGuard returns a guard with the given tolerance. A zero or
// negative tolerance falls back to DefaultTolerance.
func NewReplayGuard(tolerance time.Duration) *ReplayGuard {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &ReplayGuard{tolerance: tolerance, now: time.Now}
}

// IsFresh reports whether the unix-seconds timestamp is strictly inside the
// tolerance window. A skew of exactly the tolerance is stale.
func (g *ReplayGuard) IsFresh(timestamp int64) bool {
	delta := g.now().Unix() - timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta < int64(g.tolerance/time.Second)
}
