package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 16

var (
	iconOnce sync.Once
	iconPNG  []byte
)

// iconImage draws a lime question mark on a black rounded tile.
func iconImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	bg := color.NRGBA{A: 255}
	fg := color.NRGBA{G: 255, A: 255}
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			corner := (x == 0 || x == iconSize-1) && (y == 0 || y == iconSize-1)
			if !corner {
				img.SetNRGBA(x, y, bg)
			}
		}
	}
	glyph := []string{
		"..####..",
		".##..##.",
		".....##.",
		"....##..",
		"...##...",
		"...##...",
		"........",
		"...##...",
	}
	for gy, row := range glyph {
		for gx, c := range row {
			if c == '#' {
				x, y := 4+gx, 3+gy
				img.SetNRGBA(x, y, fg)
			}
		}
	}
	return img
}

func pngIcon() []byte {
	iconOnce.Do(func() {
		var buf bytes.Buffer
		if err := png.Encode(&buf, iconImage()); err == nil {
			iconPNG = buf.Bytes()
		}
	})
	return iconPNG
}

// icoWrap embeds a PNG in a single-image ICO container, which is what the
// Windows tray expects.
func icoWrap(pngData []byte) []byte {
	var buf bytes.Buffer
	header := struct {
		Reserved, Type, Count uint16
	}{0, 1, 1}
	entry := struct {
		Width, Height, Colors, Reserved uint8
		Planes, BitCount                uint16
		Size, Offset                    uint32
	}{iconSize, iconSize, 0, 0, 1, 32, uint32(len(pngData)), 6 + 16}
	_ = binary.Write(&buf, binary.LittleEndian, header)
	_ = binary.Write(&buf, binary.LittleEndian, entry)
	buf.Write(pngData)
	return buf.Bytes()
}
