//go:build !linux

package runner

import "errors"

func enableCoreDumps(string) error {
	return errors.New("core dump capture is only supported on linux")
}
