// Package qrshare renders share links as QR codes so a map view on a
// wall display can be picked up on a phone without typing the URL.
package qrshare

import (
	"fmt"
	"io"

	qrcode "github.com/skip2/go-qrcode"
)

// EncodePNG writes a PNG QR code for the given link.  ECC level M is
// enough for a clean screen-to-camera scan; sizePx below 64 is bumped
// to a scannable minimum.
func EncodePNG(w io.Writer, link string, sizePx int) error {
	if link == "" {
		return fmt.Errorf("empty share link")
	}
	if sizePx < 64 {
		sizePx = 256
	}
	code, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("building QR for %q: %w", link, err)
	}
	png, err := code.PNG(sizePx)
	if err != nil {
		return fmt.Errorf("rendering QR for %q: %w", link, err)
	}
	if _, err := w.Write(png); err != nil {
		return fmt.Errorf("writing QR PNG: %w", err)
	}
	return nil
}
