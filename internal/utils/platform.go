package utils

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/host"
)

var (
	platformOnce sync.Once
	platformStr  string
)

// Platform returns a human-readable platform identifier, e.g.
// "linux ubuntu-24.04" or "darwin 15.1". Falls back to GOOS/GOARCH when
// host info is unavailable.
func Platform() string {
	platformOnce.Do(func() {
		info, err := host.Info()
		if err != nil || info.Platform == "" {
			platformStr = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
			return
		}
		platformStr = fmt.Sprintf("%s %s-%s", info.OS, info.Platform, info.PlatformVersion)
	})
	return platformStr
}
