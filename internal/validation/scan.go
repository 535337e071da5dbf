package validation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

const scanHeaderBytes = 1024

var injectionPatterns = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"onload=",
	"onerror=",
	"onclick=",
	"onmouseover=",
	"onfocus=",
	"eval(",
	"document.write",
	"<iframe",
	"<object",
	"<embed",
}

// scan returns a rejection reason, or "" when nothing suspicious is found.
func scan(data []byte, doc *pdfInfo, texts []string) string {
	if doc != nil {
		if doc.Encrypted {
			return "encrypted PDF not allowed"
		}
		if doc.HasJavaScript {
			return "PDF contains embedded JavaScript"
		}
	}

	head := data
	if len(head) > scanHeaderBytes {
		head = head[:scanHeaderBytes]
	}
	if p := matchInjection(string(bytes.ToLower(head))); p != "" {
		return fmt.Sprintf("suspicious content pattern %q in file header", p)
	}

	if doc != nil {
		texts = append(texts, doc.PageTexts...)
	}
	for _, t := range texts {
		if p := matchInjection(strings.ToLower(t)); p != "" {
			return fmt.Sprintf("suspicious content pattern %q in embedded text", p)
		}
	}
	return ""
}

func matchInjection(s string) string {
	// attribute spacing like `onload = ...` is folded before matching
	compact := strings.NewReplacer(" =", "=", "\t=", "=").Replace(s)
	for _, p := range injectionPatterns {
		if strings.Contains(compact, p) {
			return p
		}
	}
	return ""
}

// textChunks returns the payloads of PNG text chunks. Other formats carry no
// decoded text worth scanning beyond the header window.
func textChunks(data []byte, mime string) []string {
	if mime != constants.MimePNG || len(data) < 8 {
		return nil
	}
	var out []string
	pos := 8
	for pos+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		start := pos + 8
		end := start + n
		if n < 0 || end+4 > len(data) {
			break
		}
		switch typ {
		case "tEXt", "iTXt":
			out = append(out, string(data[start:end]))
		case "IEND":
			return out
		}
		pos = end + 4
	}
	return out
}
