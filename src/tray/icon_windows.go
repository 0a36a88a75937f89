//go:build windows

package tray

func iconBytes() []byte { return icoWrap(pngIcon()) }
