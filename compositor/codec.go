package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

var (
	ErrUnsupportedFormat = errors.New("compositor: unsupported image format")
	ErrInvalidImage      = errors.New("compositor: invalid image data")
)

// Format is an output encoding. Both are lossless.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// Extension returns the file extension including the dot.
func (f Format) Extension() string { return "." + string(f) }

// ContentType returns the MIME type for HTTP responses.
func (f Format) ContentType() string { return "image/" + string(f) }

// ParseFormat accepts "png" or "webp", case-insensitively. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Encode serialises img losslessly.
func Encode(img image.Image, f Format) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	var buf bytes.Buffer
	switch f {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("compositor: encode png: %w", err)
		}
	case FormatWebP:
		opts, err := encoder.NewLosslessEncoderOptions(encoder.PresetDefault, 6)
		if err != nil {
			return nil, fmt.Errorf("compositor: webp options: %w", err)
		}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("compositor: encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	return buf.Bytes(), nil
}

// Decode reads an uploaded image. Only PNG and JPEG are accepted.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// DecodeAs reads bytes produced by Encode with the same format.
func DecodeAs(data []byte, f Format) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	var (
		img image.Image
		err error
	)
	switch f {
	case FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data), &decoder.Options{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// DownloadName is the file name offered for a result, e.g.
// "texttoimage_refine.png".
func DownloadName(style, mode string) string {
	return DownloadNameFor(style, mode, FormatPNG)
}

// DownloadNameFor is DownloadName with an explicit format.
func DownloadNameFor(style, mode string, f Format) string {
	clean := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			case r == ' ' || r == '/' || r == '.':
				return '_'
			}
			return -1
		}, s)
	}
	return clean(style) + "_" + clean(mode) + f.Extension()
}
