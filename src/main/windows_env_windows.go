//go:build windows

package main

import (
	"log"

	"golang.org/x/sys/windows"
)

var (
	shcore = windows.NewLazySystemDLL("Shcore.dll")
	user32 = windows.NewLazySystemDLL("user32.dll")
)

// enableDPIAwareness keeps the overlay position and capture bounds in
// physical pixels on scaled displays.
func enableDPIAwareness() {
	setProcessDpiAwareness := shcore.NewProc("SetProcessDpiAwareness")
	const processPerMonitorDPIAware = 2
	if err := setProcessDpiAwareness.Find(); err == nil {
		ret, _, _ := setProcessDpiAwareness.Call(uintptr(processPerMonitorDPIAware))
		if ret == 0 {
			log.Printf("DPI: per-monitor awareness enabled")
		} else {
			log.Printf("DPI: SetProcessDpiAwareness failed, HRESULT 0x%x", ret)
		}
		return
	}

	setProcessDPIAware := user32.NewProc("SetProcessDPIAware")
	if err := setProcessDPIAware.Find(); err != nil {
		log.Printf("DPI: no DPI awareness API available")
		return
	}
	if ret, _, _ := setProcessDPIAware.Call(); ret != 0 {
		log.Printf("DPI: system awareness enabled (fallback)")
	}
}

func logMonitorConfiguration() {
	getSystemMetrics := user32.NewProc("GetSystemMetrics")
	metric := func(index int) int {
		ret, _, _ := getSystemMetrics.Call(uintptr(index))
		return int(int32(ret))
	}
	const (
		smCXScreen        = 0
		smCYScreen        = 1
		smXVirtualScreen  = 76
		smYVirtualScreen  = 77
		smCXVirtualScreen = 78
		smCYVirtualScreen = 79
		smCMonitors       = 80
	)
	log.Printf("MONITOR: %d monitors, primary %dx%d, virtual x:%d y:%d w:%d h:%d",
		metric(smCMonitors), metric(smCXScreen), metric(smCYScreen),
		metric(smXVirtualScreen), metric(smYVirtualScreen),
		metric(smCXVirtualScreen), metric(smCYVirtualScreen))
}
