//go:build windows

package checkout

import "os"

// IsWritable reports whether path lacks the read-only attribute.
func IsWritable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0200 != 0
}
