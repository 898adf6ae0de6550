package blockprec

import "errors"

var (
	// ErrInconsistentMapping marks a DOF-type assignment that is not a
	// bijection between the global index set and the union of block index
	// sets.
	ErrInconsistentMapping = errors.New("block mapping is not a bijection")

	// ErrFactorization marks a diagonal block whose exact solver failed to
	// factorize (singular or ill-posed block).
	ErrFactorization = errors.New("block factorization failed")
)
