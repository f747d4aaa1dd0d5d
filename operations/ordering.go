package operations

import "cmp"

// Compare orders operations for processing and returns -1 if a should run before b, +1 if after
// and 0 only when both have the same id.
//
// Operations that can run now come before scheduled ones, scheduled ones run earliest first.
// Ready operations from the same origin run in priority order. Ready operations from different
// origins are ordered by origin domain id, so that the relation stays transitive: ordering them
// by id alone would let two origins form a cycle through their priorities. Remaining ties are
// broken by id.
func Compare(a, b Operation) int {
	if a.ID() == b.ID() {
		return 0
	}

	aAfter, aScheduled := a.NextAttemptAfter()
	bAfter, bScheduled := b.NextAttemptAfter()

	switch {
	case aScheduled && bScheduled:
		if c := aAfter.Compare(bAfter); c != 0 {
			return c
		}
	case !aScheduled && bScheduled:
		return -1
	case aScheduled && !bScheduled:
		return 1
	default:
		if c := cmp.Compare(a.OriginDomainID(), b.OriginDomainID()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Priority(), b.Priority()); c != 0 {
			return c
		}
	}

	return compareIDs(a, b)
}

// Less reports whether a should run before b.
func Less(a, b Operation) bool {
	return Compare(a, b) < 0
}

// Equal reports whether a and b are the same operation.
func Equal(a, b Operation) bool {
	return a.ID() == b.ID()
}

func compareIDs(a, b Operation) int {
	return a.ID().Cmp(b.ID())
}
