package validation

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

// sanitized image output
type imageOutput struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
	Resized     bool
}

const reasonTooManyPixels = "image dimensions too large"

// decodeDimensions parses only the image header. It rejects unusable
// dimensions and any image whose decoded size would exceed maxPixels.
func (v *Validator) decodeDimensions(data []byte) (int, int, string) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, reasonDecodeFailure
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, "invalid image dimensions"
	}
	if int64(cfg.Width)*int64(cfg.Height) > v.maxPixels {
		v.logger.Warn("validation.structure.too_many_pixels", "width", cfg.Width, "height", cfg.Height)
		return 0, 0, reasonTooManyPixels
	}
	return cfg.Width, cfg.Height, ""
}

// decodeBestEffort applies EXIF orientation while decoding. A JPEG that stops
// short of its end marker gets one retry with the marker appended.
func decodeBestEffort(data []byte, mime string) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil || mime != constants.MimeJPEG {
		return img, err
	}
	if bytes.HasSuffix(data, []byte{0xFF, 0xD9}) {
		return nil, err
	}
	patched := make([]byte, 0, len(data)+2)
	patched = append(patched, data...)
	patched = append(patched, 0xFF, 0xD9)
	if img, rerr := imaging.Decode(bytes.NewReader(patched), imaging.AutoOrientation(true)); rerr == nil {
		return img, nil
	}
	return nil, err
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// targetSize returns the dimensions after clamping the longest edge into
// [minEdge, maxEdge], preserving aspect ratio.
func targetSize(w, h, minEdge, maxEdge int) (int, int, bool) {
	long := max(w, h)
	var edge int
	switch {
	case long > maxEdge:
		edge = maxEdge
	case long < minEdge:
		edge = minEdge
	default:
		return w, h, false
	}
	if w >= h {
		return edge, 0, true
	}
	return 0, edge, true
}

func (v *Validator) sanitizeImage(data []byte, mime string) (*imageOutput, string) {
	img, err := decodeBestEffort(data, mime)
	if err != nil {
		v.logger.Warn("validation.sanitize.decode_failed", "mime", mime, "error", err)
		return nil, "image could not be decoded"
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, "invalid image dimensions"
	}

	_, paletted := img.(*image.Paletted)
	lossless := paletted || mime == constants.MimeGIF || hasAlpha(img) ||
		float64(max(w, h))/float64(min(w, h)) > 2.0

	// flatten onto white; also detaches the pixels from any source metadata
	flat := imaging.Overlay(imaging.New(w, h, color.White), img, image.Pt(0, 0), 1.0)

	var out image.Image = flat
	tw, th, resized := targetSize(w, h, v.minEdge, v.maxEdge)
	if resized {
		out = imaging.Resize(flat, tw, th, imaging.Lanczos)
	}

	var buf bytes.Buffer
	contentType := constants.MimeJPEG
	if lossless {
		contentType = constants.MimePNG
		err = imaging.Encode(&buf, out, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	} else {
		err = imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(v.jpegQuality))
	}
	if err != nil {
		v.logger.Warn("validation.sanitize.encode_failed", "mime", mime, "error", err)
		return nil, "image could not be re-encoded"
	}

	ob := out.Bounds()
	return &imageOutput{
		Bytes:       buf.Bytes(),
		ContentType: contentType,
		Width:       ob.Dx(),
		Height:      ob.Dy(),
		Resized:     resized,
	}, ""
}
