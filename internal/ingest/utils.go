package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

// partialSuffixes mark files a browser or sync client is still writing.
var partialSuffixes = []string{".part", ".crdownload", ".tmp", ".download"}

// AllowedExt reports whether ext is one the validator accepts.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden reports a dot-prefixed file or directory name.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// isCandidate reports whether path names a finished, supported receipt file.
// Office lock files (~$name) and in-progress downloads are skipped.
func isCandidate(path string) bool {
	base := filepath.Base(path)
	if IsHidden(base) || strings.HasPrefix(base, "~$") {
		return false
	}
	lower := strings.ToLower(base)
	for _, suf := range partialSuffixes {
		if strings.HasSuffix(lower, suf) {
			return false
		}
	}
	return AllowedExt(filepath.Ext(base))
}
