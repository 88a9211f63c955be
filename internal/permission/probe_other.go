//go:build !unix

package permission

import (
	"fmt"
	"os"
)

// DeviceProbe grants access when the device path exists.
func DeviceProbe(path string) Probe {
	return func() error {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	}
}

// DirProbe grants access when dir exists or can be created.
func DirProbe(dir string) Probe {
	return func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		return nil
	}
}
