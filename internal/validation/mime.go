package validation

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

type signature struct {
	offset int
	magic  []byte
	mime   string
}

var signatures = []signature{
	{0, []byte{0xFF, 0xD8, 0xFF}, constants.MimeJPEG},
	{0, []byte("\x89PNG\r\n\x1a\n"), constants.MimePNG},
	{0, []byte("GIF87a"), constants.MimeGIF},
	{0, []byte("GIF89a"), constants.MimeGIF},
	{0, []byte("II*\x00"), constants.MimeTIFF},
	{0, []byte("MM\x00*"), constants.MimeTIFF},
	{0, []byte("BM"), constants.MimeBMP},
}

// pdf readers accept a header anywhere in the first KiB
const pdfHeaderWindow = 1024

// SniffMIME derives the MIME type from magic numbers. It returns "" for
// content outside the accepted set.
func SniffMIME(data []byte) string {
	for _, s := range signatures {
		if len(data) >= s.offset+len(s.magic) && bytes.Equal(data[s.offset:s.offset+len(s.magic)], s.magic) {
			return s.mime
		}
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return constants.MimeWEBP
	}
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return constants.MimePDF
	}
	return ""
}

// reconcileFilename repairs missing or unknown extensions from the sniffed
// type and rejects a known extension that names a different family.
func reconcileFilename(filename, mime string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, base)
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}

	canonical := constants.ExtForMime(mime)
	ext := constants.NormalizeExt(path.Ext(base))
	if ext == "" {
		return strings.TrimSuffix(base, ".") + "." + canonical, nil
	}
	implied, known := constants.AllowedExtensions[ext]
	if !known {
		return base + "." + canonical, nil
	}
	if implied != mime {
		return "", fmt.Errorf("file type mismatch: .%s extension but content is %s", ext, mime)
	}
	return base, nil
}

func replaceExt(name, ext string) string {
	if ext == "" {
		return name
	}
	cur := path.Ext(name)
	if constants.MimeForExt(cur) == constants.MimeForExt(ext) {
		return name
	}
	return strings.TrimSuffix(name, cur) + "." + ext
}
