//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package reporter

import (
	"runtime"

	"github.com/perfgo/flakiness/model"
	"golang.org/x/sys/unix"
)

func systemData() *model.SystemData {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return fallbackSystemData()
	}
	data := &model.SystemData{
		OSName:    unix.ByteSliceToString(u.Sysname[:]),
		OSVersion: unix.ByteSliceToString(u.Release[:]),
		OSArch:    unix.ByteSliceToString(u.Machine[:]),
	}
	if data.OSName == "" {
		data.OSName = runtime.GOOS
	}
	if data.OSArch == "" {
		data.OSArch = runtime.GOARCH
	}
	return data
}
