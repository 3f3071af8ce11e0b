//go:build linux || darwin

package builder

import "syscall"

// applyAddressSpaceLimit caps the process address space while a build runs
// and returns a restore func for the previous limit. Callers must defer the
// restore so the limit is reinstated on every exit path, panics included.
func applyAddressSpaceLimit(limit uint64) (func(), error) {
	var prev syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_AS, &prev); err != nil {
		return nil, err
	}
	// Cur may not exceed Max. Infinity is stored as a huge Max value on both
	// platforms, so a plain comparison covers it.
	next := syscall.Rlimit{Cur: limit, Max: prev.Max}
	if prev.Max < limit {
		next.Cur = prev.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_AS, &next); err != nil {
		return nil, err
	}
	return func() {
		_ = syscall.Setrlimit(syscall.RLIMIT_AS, &prev)
	}, nil
}
