//go:build !linux

package toolrun

import "errors"

func limitAddressSpace(int, uint64) error {
	return errors.New("memory limits are only supported on linux")
}
