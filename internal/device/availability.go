package device

import "strings"

// Available returns a comma-separated list of usable devices.
func Available() string {
	entries := []string{Host}
	if Has(CUDA) {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}

// Has reports whether the named device can be opened in this process.
func Has(name string) bool {
	switch name {
	case Host:
		return true
	case CUDA:
		if !cudaEnabled {
			return false
		}
		_, err := ProbeCUDA()
		return err == nil
	default:
		return false
	}
}
