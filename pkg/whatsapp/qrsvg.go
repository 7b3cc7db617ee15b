package whatsapp

import (
	"errors"
	"fmt"
	"strings"

	"rsc.io/qr"
)

// QRSVG renders a pairing code as a standalone SVG of size x size pixels. Dark modules
// on the same row are merged into one rect each run, with a four module quiet zone.
func QRSVG(code string, size int) (string, error) {
	if code == "" {
		return "", errors.New("empty pairing code")
	}
	enc, err := qr.Encode(code, qr.L)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR: %w", err)
	}
	if enc.Size == 0 {
		return "", errors.New("empty QR code")
	}

	const quiet = 4
	n := enc.Size + 2*quiet

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d" shape-rendering="crispEdges">`, n, n, size, size)
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="#fff"/>`, n, n)
	for y := 0; y < enc.Size; y++ {
		for x := 0; x < enc.Size; {
			if !enc.Black(x, y) {
				x++
				continue
			}
			start := x
			for x < enc.Size && enc.Black(x, y) {
				x++
			}
			fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="%d" height="1" fill="#000"/>`, start+quiet, y+quiet, x-start)
		}
	}
	sb.WriteString(`</svg>`)
	return sb.String(), nil
}
