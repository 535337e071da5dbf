package validation

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/ledongthuc/pdf"
)

var (
	// an /Encrypt entry in any trailer marks the document as password protected
	reEncrypt = regexp.MustCompile(`/Encrypt\s*(\d+\s+\d+\s+R|<<)`)
	reJSName  = regexp.MustCompile(`/(JavaScript|JS)\b`)
)

type pdfInfo struct {
	Encrypted      bool
	HasJavaScript  bool
	Pages          int
	Text           string // first page, used for the low-text signal
	PageTexts      []string
	LowText        bool
	TextConfidence float32
}

// inspectPDF parses the document structure. Encrypted documents are not parsed;
// the scan layer rejects them.
func (v *Validator) inspectPDF(data []byte) (*pdfInfo, string) {
	info := &pdfInfo{
		Encrypted:     reEncrypt.Match(data),
		HasJavaScript: reJSName.Match(data),
	}
	if info.Encrypted {
		return info, ""
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		v.logger.Debug("validation.pdf.open_failed", "error", err)
		return nil, "corrupt or unreadable PDF"
	}

	info.Pages = r.NumPage()
	if info.Pages < 1 || info.Pages > v.maxPages {
		return nil, fmt.Sprintf("PDF must have between 1 and %d pages, found %d", v.maxPages, info.Pages)
	}

	if catalogHasJS(r.Trailer().Key("Root")) {
		info.HasJavaScript = true
	}
	for i := 1; i <= info.Pages && !info.HasJavaScript; i++ {
		if pageHasJS(r.Page(i)) {
			info.HasJavaScript = true
		}
	}

	// every page is decoded for the scan layer; image-only PDFs are allowed
	// through and low text is only a signal
	for i := 1; i <= info.Pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, terr := p.GetPlainText(nil)
		if terr != nil {
			v.logger.Debug("validation.pdf.text_failed", "page", i, "error", terr)
		}
		txt = normalizeText(txt)
		if i == 1 {
			info.Text = txt
		}
		if txt != "" {
			info.PageTexts = append(info.PageTexts, txt)
		}
	}
	info.LowText = len([]rune(info.Text)) < v.minText
	info.TextConfidence = textConfidence(info.Text)
	return info, ""
}

func isJSAction(action pdf.Value) bool {
	return action.Key("S").Name() == "JavaScript" || !action.Key("JS").IsNull()
}

func catalogHasJS(root pdf.Value) bool {
	if isJSAction(root.Key("OpenAction")) {
		return true
	}
	if !root.Key("Names").Key("JavaScript").IsNull() {
		return true
	}
	aa := root.Key("AA")
	for _, k := range aa.Keys() {
		if isJSAction(aa.Key(k)) {
			return true
		}
	}
	return false
}

func pageHasJS(p pdf.Page) bool {
	if p.V.IsNull() {
		return false
	}
	aa := p.V.Key("AA")
	for _, k := range aa.Keys() {
		if isJSAction(aa.Key(k)) {
			return true
		}
	}
	annots := p.V.Key("Annots")
	for i := 0; i < annots.Len(); i++ {
		a := annots.Index(i)
		if isJSAction(a.Key("A")) {
			return true
		}
		aaa := a.Key("AA")
		for _, k := range aaa.Keys() {
			if isJSAction(aaa.Key(k)) {
				return true
			}
		}
	}
	return false
}
