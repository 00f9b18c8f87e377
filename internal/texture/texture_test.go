package texture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestMipLevels(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{1, 1, 1},
		{2, 1, 2},
		{512, 512, 10},
		{1024, 300, 11},
		{300, 1024, 11},
		{1000, 1000, 10},
		{0, 0, 1},
	}

	for _, tt := range tests {
		if got := MipLevels(tt.width, tt.height); got != tt.want {
			t.Errorf("MipLevels(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestDecodePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(2, 1, color.NRGBA{B: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	img, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if img.Width != 3 || img.Height != 2 {
		t.Fatalf("size %dx%d, want 3x2", img.Width, img.Height)
	}
	if len(img.Pixels) != img.Size() {
		t.Fatalf("pixel buffer %d bytes, want %d", len(img.Pixels), img.Size())
	}
	if img.MipLevels != 2 {
		t.Errorf("MipLevels = %d, want 2", img.MipLevels)
	}

	if got := img.Pixels[0:4]; !bytes.Equal(got, []byte{255, 0, 0, 255}) {
		t.Errorf("top-left pixel = %v", got)
	}
	last := (1*3 + 2) * BytesPerPixel
	if got := img.Pixels[last : last+4]; !bytes.Equal(got, []byte{0, 0, 255, 255}) {
		t.Errorf("bottom-right pixel = %v", got)
	}
}

func TestFromImageOffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 7, 7))
	src.Set(5, 5, color.RGBA{G: 200, A: 255})

	img, err := FromImage(src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img.Pixels[0:4], []byte{0, 200, 0, 255}) {
		t.Errorf("origin pixel = %v", img.Pixels[0:4])
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatal("expected error")
	}
}
