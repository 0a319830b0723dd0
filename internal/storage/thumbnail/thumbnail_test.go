package thumbnail

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func TestFitInside(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{1200, 800, 300, 300, 300, 200},
		{800, 1200, 300, 300, 200, 300},
		{600, 600, 300, 300, 300, 300},
		{100, 50, 300, 300, 100, 50},
		{3000, 10, 300, 300, 300, 1},
		{640, 480, 300, 200, 266, 200},
	}

	for _, tt := range tests {
		w, h := FitInside(tt.w, tt.h, tt.maxW, tt.maxH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitInside(%d, %d, %d, %d) = %dx%d, ожидается %dx%d",
				tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
		}
	}
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 200})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("ошибка кодирования PNG: %v", err)
	}
	return buf.Bytes()
}

func TestRender_PNGToJPEG(t *testing.T) {
	out, err := Render(bytes.NewReader(pngImage(t, 640, 320)), Options{MaxWidth: 300, MaxHeight: 300, Quality: 85})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("результат должен быть JPEG: %v", err)
	}
	if cfg.Width != 300 || cfg.Height != 150 {
		t.Errorf("размер миниатюры %dx%d, ожидается 300x150", cfg.Width, cfg.Height)
	}
}

func TestRender_NotAnImage(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"/>`
	if _, err := Render(strings.NewReader(svg), Options{MaxWidth: 10, MaxHeight: 10, Quality: 80}); err == nil {
		t.Error("SVG не декодируется растровыми декодерами")
	}
}

// forgedPNG возвращает корректный PNG 4x4, в заголовке IHDR которого
// объявлены размеры w×h.
func forgedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := pngImage(t, 4, 4)
	// сигнатура(8) + длина(4) + "IHDR"(4), затем ширина и высота
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestRender_RejectsOversizedHeader(t *testing.T) {
	data := forgedPNG(t, 60000, 60000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width != 60000 {
		t.Fatalf("заголовок подделан неверно: %+v, %v", cfg, err)
	}

	_, err = Render(bytes.NewReader(data), Options{MaxWidth: 32, MaxHeight: 32, Quality: 80})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидалась ErrTooLarge, получено %v", err)
	}
}

func TestRender_MaxPixels(t *testing.T) {
	data := pngImage(t, 100, 100)
	opts := Options{MaxWidth: 32, MaxHeight: 32, Quality: 80, MaxPixels: 9999}
	if _, err := Render(bytes.NewReader(data), opts); !errors.Is(err, ErrTooLarge) {
		t.Errorf("10000 пикселей при пределе 9999: %v", err)
	}
	opts.MaxPixels = 10000
	if _, err := Render(bytes.NewReader(data), opts); err != nil {
		t.Errorf("10000 пикселей при пределе 10000: %v", err)
	}
}
