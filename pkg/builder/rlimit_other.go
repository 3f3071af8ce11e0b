//go:build !linux && !darwin

package builder

// applyAddressSpaceLimit is a no-op on platforms without RLIMIT_AS.
func applyAddressSpaceLimit(limit uint64) (func(), error) {
	return func() {}, nil
}
