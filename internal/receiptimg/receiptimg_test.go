package receiptimg

import (
	"bytes"
	"image/png"
	"testing"
)

func TestBarcodePNG(t *testing.T) {
	data, err := BarcodePNG("ABCD234567", 300, 80)
	if err != nil {
		t.Fatalf("barcode: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() < 300 || img.Bounds().Dy() != 80 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
}

func TestRender(t *testing.T) {
	cases := []Card{
		{Title: "Portal", Subtitle: "Registration receipt", Lines: []string{"Name: Asha"}, Code: "ABCD234567", Stamp: "CHECKED IN"},
		{Title: "Portal", Lines: []string{"Amount: INR 100"}},
	}
	for _, c := range cases {
		data, err := Render(c)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode png: %v", err)
		}
		if img.Bounds().Dx() != Width || img.Bounds().Dy() != Height {
			t.Fatalf("unexpected size %v", img.Bounds())
		}
	}
}
