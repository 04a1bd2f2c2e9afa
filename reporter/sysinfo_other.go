//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package reporter

import "github.com/perfgo/flakiness/model"

func systemData() *model.SystemData {
	return fallbackSystemData()
}
