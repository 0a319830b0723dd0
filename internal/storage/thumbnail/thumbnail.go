// Пакет thumbnail — построение миниатюр растровых изображений:
// декодирование (JPEG, PNG, GIF, WebP), масштабирование с сохранением
// пропорций «вписать в рамку» и кодирование в JPEG.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // регистрация декодера GIF
	"image/jpeg"
	_ "image/png" // регистрация декодера PNG
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // регистрация декодера WebP
)

// DefaultMaxPixels — предел площади исходного изображения по умолчанию.
const DefaultMaxPixels = 40_000_000

var (
	// ErrEmptyImage — изображение нулевого размера.
	ErrEmptyImage = errors.New("изображение нулевого размера")
	// ErrTooLarge — заявленные размеры превышают предел площади.
	ErrTooLarge = errors.New("изображение слишком велико")
)

// Options — параметры миниатюры.
type Options struct {
	MaxWidth  int
	MaxHeight int
	// Quality — качество JPEG (1-100)
	Quality int
	// MaxPixels — предел ширина×высота исходника; 0 — DefaultMaxPixels
	MaxPixels int64
}

// FitInside возвращает размеры w×h, вписанные в рамку maxW×maxH
// с сохранением пропорций. Изображение не увеличивается.
func FitInside(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	// Сравнение через перекрёстное умножение без потери точности
	if w*maxH >= h*maxW {
		nh := max(h*maxW/w, 1)
		return maxW, nh
	}
	nw := max(w*maxH/h, 1)
	return nw, maxH
}

// Render декодирует изображение из r и возвращает миниатюру в JPEG.
// Размеры читаются из заголовка до декодирования: изображение больше
// opts.MaxPixels отклоняется без выделения памяти под растр.
func Render(r io.Reader, opts Options) ([]byte, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения заголовка изображения: %w", err)
	}
	limit := opts.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, fmt.Errorf("%w: %dx%d, предел %d пикселей", ErrTooLarge, cfg.Width, cfg.Height, limit)
	}

	src, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования изображения: %w", err)
	}

	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	w, h := FitInside(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	// JPEG не поддерживает прозрачность: подкладываем белый фон
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("ошибка кодирования %s → jpeg: %w", format, err)
	}
	return buf.Bytes(), nil
}
