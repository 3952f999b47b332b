package imaging

import (
	"bytes"
	"image/png"
	"testing"
)

func TestRGBAToBGRA(t *testing.T) {
	got, err := RGBAToBGRA([]byte{10, 20, 30, 40, 1, 2, 3, 255})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{30, 20, 10, 40, 3, 2, 1, 255}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := RGBAToBGRA([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected length error")
	}
}

func TestTextureValidityAndRelease(t *testing.T) {
	tex, err := NewTextureFromRGBA(1, 1, []byte{10, 20, 30, 40}, FormatBGRA8)
	if err != nil {
		t.Fatal(err)
	}
	if !tex.Valid() || !bytes.Equal(tex.Pix, []byte{30, 20, 10, 40}) {
		t.Fatalf("unexpected texture %+v", tex.Pix)
	}
	if c := tex.At(0, 0); c.R != 10 || c.B != 30 || c.A != 40 {
		t.Fatalf("unexpected pixel %+v", c)
	}
	tex.Release()
	if tex.Valid() {
		t.Fatal("released texture still valid")
	}
	var nilTex *Texture
	if nilTex.Valid() {
		t.Fatal("nil texture valid")
	}
	if _, err := NewTextureFromRGBA(2, 2, []byte{1, 2, 3, 4}, FormatRGBA8); err == nil {
		t.Fatal("expected size mismatch")
	}
}

func TestEncodePNGRoundTripsColours(t *testing.T) {
	rgba := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 9, 8, 7, 255,
	}
	tex, err := NewTextureFromRGBA(2, 2, rgba, FormatBGRA8)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := tex.EncodePNG(&buf); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r>>8 != 9 || g>>8 != 8 || b>>8 != 7 {
		t.Fatalf("got %d %d %d", r>>8, g>>8, b>>8)
	}
	r, _, _, _ = img.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Fatalf("red channel lost: %d", r>>8)
	}
}
