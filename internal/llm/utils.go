package llm

import (
	"encoding/base64"
	"strings"
)

// DataURL encodes content as a base64 data URL, the form vision models accept
// for inline images and files.
func DataURL(content []byte, contentType string) string {
	mt := strings.TrimSpace(contentType)
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(content)
}
