//go:build linux

package device

import "golang.org/x/sys/unix"

func systemFreeMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Freeram) * uint64(si.Unit), nil
}
