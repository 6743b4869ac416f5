// Package receiptimg draws printable receipt cards and CODE128 barcodes.
package receiptimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Card dimensions in pixels.
const (
	Width  = 640
	Height = 440

	lineHeight = 20
	margin     = 32
	glyphWidth = 7
)

// Card is the content of one receipt. Code, when set, is printed as a
// barcode along the bottom edge.
type Card struct {
	Title    string
	Subtitle string
	Lines    []string
	Code     string
	Stamp    string
}

// BarcodeImage encodes code as CODE128 scaled to at least width x height.
func BarcodeImage(code string, width, height int) (image.Image, error) {
	bc, err := code128.Encode(code)
	if err != nil {
		return nil, fmt.Errorf("encode barcode: %w", err)
	}
	if minW := bc.Bounds().Dx() * 2; width < minW {
		width = minW
	}
	if height <= 0 {
		height = 80
	}
	scaled, err := barcode.Scale(bc, width, height)
	if err != nil {
		return nil, fmt.Errorf("scale barcode: %w", err)
	}
	return scaled, nil
}

// BarcodePNG renders code as a CODE128 PNG.
func BarcodePNG(code string, width, height int) ([]byte, error) {
	img, err := BarcodeImage(code, width, height)
	if err != nil {
		return nil, err
	}
	return encode(img)
}

// Render draws c onto a white card and returns it as PNG.
func Render(c Card) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	ink := color.Black
	muted := color.RGBA{R: 90, G: 90, B: 90, A: 255}

	y := margin + 10
	drawString(img, margin, y, c.Title, ink)
	y += lineHeight
	if c.Subtitle != "" {
		drawString(img, margin, y, c.Subtitle, muted)
		y += lineHeight
	}
	y += lineHeight
	for _, line := range c.Lines {
		drawString(img, margin, y, line, ink)
		y += lineHeight
	}

	if c.Stamp != "" {
		drawString(img, Width-margin-len(c.Stamp)*glyphWidth, margin+10, c.Stamp, color.RGBA{R: 180, A: 255})
	}

	if c.Code != "" {
		bc, err := BarcodeImage(c.Code, Width-2*margin, 90)
		if err != nil {
			return nil, err
		}
		top := Height - margin - bc.Bounds().Dy() - lineHeight
		left := (Width - bc.Bounds().Dx()) / 2
		if left < 0 {
			left = 0
		}
		dst := image.Rect(left, top, left+bc.Bounds().Dx(), top+bc.Bounds().Dy())
		draw.Draw(img, dst, bc, bc.Bounds().Min, draw.Src)
		drawString(img, (Width-len(c.Code)*glyphWidth)/2, top+bc.Bounds().Dy()+lineHeight-4, c.Code, ink)
	}

	return encode(img)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawString draws text with its baseline at (x, y).
func drawString(img *image.RGBA, x, y int, text string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
