package constants

import "strings"

const (
	MinUploadBytes = 100
	MaxUploadBytes = 50 << 20

	// longest image edge bounds applied by the sanitizer
	MaxImageEdge = 2048
	MinImageEdge = 200
	// decoded pixel ceiling, checked from the header before any full decode
	MaxImagePixels = 89_478_485

	MaxPDFPages   = 10
	MinPDFTextLen = 10

	JPEGQuality = 85
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWEBP = "image/webp"
	MimeTIFF = "image/tiff"
	MimeBMP  = "image/bmp"
	MimeGIF  = "image/gif"
	MimePDF  = "application/pdf"
)

// AllowedMIMEs is the accepted content-sniffed set.
var AllowedMIMEs = map[string]struct{}{
	MimeJPEG: {},
	MimePNG:  {},
	MimeWEBP: {},
	MimeTIFF: {},
	MimeBMP:  {},
	MimeGIF:  {},
	MimePDF:  {},
}

// AllowedExtensions holds the file extensions accepted for ingestion, keyed by normalized extension.
var AllowedExtensions = map[string]string{
	"jpg":  MimeJPEG,
	"jpeg": MimeJPEG,
	"png":  MimePNG,
	"webp": MimeWEBP,
	"tif":  MimeTIFF,
	"tiff": MimeTIFF,
	"bmp":  MimeBMP,
	"gif":  MimeGIF,
	"pdf":  MimePDF,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MimeForExt returns the MIME type implied by an extension, or "" when unknown.
func MimeForExt(ext string) string {
	return AllowedExtensions[NormalizeExt(ext)]
}

// ExtForMime returns the canonical extension used when repairing filenames.
func ExtForMime(mime string) string {
	switch mime {
	case MimeJPEG:
		return "jpg"
	case MimePNG:
		return "png"
	case MimeWEBP:
		return "webp"
	case MimeTIFF:
		return "tiff"
	case MimeBMP:
		return "bmp"
	case MimeGIF:
		return "gif"
	case MimePDF:
		return "pdf"
	}
	return ""
}

func IsImageMime(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
