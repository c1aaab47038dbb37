package services

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/bbrks/go-blurhash"
	"github.com/dsoprea/go-exif/v3"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrAvatarTooLarge = errors.New("image too large")
	ErrAvatarFormat   = errors.New("unsupported image format")
)

// ProcessedAvatar is a square JPEG profile image ready for storage.
type ProcessedAvatar struct {
	Data     []byte
	Size     int
	Blurhash string
	// Format of the uploaded image as reported by image.Decode.
	SourceFormat string
}

type AvatarProcessor struct {
	size         int
	maxBytes     int64
	maxDimension int
	maxPixels    int64
	quality      int
}

func NewAvatarProcessor(cfg AvatarConfig) *AvatarProcessor {
	p := &AvatarProcessor{
		size:         cfg.Size,
		maxBytes:     cfg.MaxBytes,
		maxDimension: cfg.MaxDimension,
		maxPixels:    cfg.MaxPixels,
		quality:      cfg.Quality,
	}
	if p.size <= 0 {
		p.size = 512
	}
	if p.maxBytes <= 0 {
		p.maxBytes = 5 * 1024 * 1024
	}
	if p.maxDimension <= 0 {
		p.maxDimension = 4096
	}
	if p.maxPixels <= 0 {
		p.maxPixels = 4096 * 4096
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = 90
	}
	return p
}

func (p *AvatarProcessor) MaxBytes() int64 { return p.maxBytes }

// Process decodes a JPEG, PNG or WebP upload, applies its EXIF orientation,
// crops it to a centered square no larger than the configured size and
// re-encodes it as JPEG.
func (p *AvatarProcessor) Process(data []byte) (*ProcessedAvatar, error) {
	if int64(len(data)) > p.maxBytes {
		return nil, ErrAvatarTooLarge
	}
	// A few KB of PNG can declare gigapixels; check the header before decoding.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarFormat, err)
	}
	if err := p.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarFormat, err)
	}
	switch format {
	case "jpeg":
		img = ApplyOrientation(img, ExifOrientation(data))
	case "png", "webp":
	default:
		return nil, ErrAvatarFormat
	}

	img = FlattenIfAlpha(img, color.White)
	img = ResizeIfNeeded(CropSquare(img), p.size)

	out := &ProcessedAvatar{Size: img.Bounds().Dx(), SourceFormat: format}
	if hash, err := blurhash.Encode(4, 4, img); err == nil {
		out.Blurhash = hash
	} else {
		Log.WithError(err).Warn("avatar blurhash failed")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	out.Data = buf.Bytes()
	return out, nil
}

func (p *AvatarProcessor) checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image", ErrAvatarFormat)
	}
	if width > p.maxDimension || height > p.maxDimension {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrAvatarTooLarge, width, height, p.maxDimension, p.maxDimension)
	}
	if pixels := int64(width) * int64(height); pixels > p.maxPixels {
		return fmt.Errorf("%w: %d pixels exceeds %d", ErrAvatarTooLarge, pixels, p.maxPixels)
	}
	return nil
}

// ExifOrientation returns the EXIF orientation tag (1-8) of a JPEG, or 1 when
// absent or unreadable.
func ExifOrientation(data []byte) int {
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return 1
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return 1
	}
	for _, entry := range entries {
		if entry.TagName != "Orientation" {
			continue
		}
		if o, err := strconv.Atoi(entry.FormattedFirst); err == nil && o >= 1 && o <= 8 {
			return o
		}
	}
	return 1
}

// ApplyOrientation rotates and mirrors img so that it displays upright for
// the given EXIF orientation.
func ApplyOrientation(img image.Image, orientation int) image.Image {
	if orientation < 2 || orientation > 8 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 cw
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 ccw
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// CropSquare returns the centered square of img.
func CropSquare(img image.Image) image.Image {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	rect := image.Rect(x0, y0, x0+side, y0+side)
	if s, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return s.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// ResizeIfNeeded scales the image down to max dimension while preserving aspect ratio.
// If max <= 0 or the image already fits, returns the original image.
func ResizeIfNeeded(src image.Image, max int) image.Image {
	if max <= 0 {
		return src
	}
	b := src.Bounds()
	w := b.Dx()
	h := b.Dy()
	if w <= max && h <= max {
		return src
	}
	scale := float64(max) / float64(w)
	if h > w {
		scale = float64(max) / float64(h)
	}
	tw := int(float64(w) * scale)
	th := int(float64(h) * scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// FlattenIfAlpha composites images with an alpha channel against the provided background color.
// If the source is already opaque, it returns the source unchanged.
func FlattenIfAlpha(src image.Image, bg color.Color) image.Image {
	if IsOpaque(src) {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// IsOpaque returns true if the image has no transparency.
func IsOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	// Sample a grid to avoid scanning all pixels
	b := img.Bounds()
	stepX := (b.Dx() / 20) + 1
	stepY := (b.Dy() / 20) + 1
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xFFFF {
				return false
			}
		}
	}
	return true
}
