//go:build linux

package toolrun

import "golang.org/x/sys/unix"

// limitAddressSpace caps an already-started child's address space.
// Applied after start rather than between fork and exec; a tool that
// allocates its limit within the first few milliseconds would slip
// through, which is acceptable for a CI resource fence.
func limitAddressSpace(pid int, bytes uint64) error {
	limit := unix.Rlimit{Cur: bytes, Max: bytes}
	return unix.Prlimit(pid, unix.RLIMIT_AS, &limit, nil)
}
