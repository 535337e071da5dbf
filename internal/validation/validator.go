package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

const reasonDecodeFailure = "unexpected decode failure"

// Report is the outcome of Validate. Exactly one of the two shapes is
// populated: Rejected (Accepted=false, Stage, Reason) or Accepted.
type Report struct {
	Accepted bool   `json:"accepted"`
	Stage    string `json:"stage,omitempty"`
	Reason   string `json:"reason,omitempty"`

	Sanitized      []byte  `json:"-"`
	Filename       string  `json:"filename,omitempty"`
	DetectedMIME   string  `json:"detected_mime,omitempty"`
	ContentType    string  `json:"content_type,omitempty"`
	ContentHash    string  `json:"content_hash,omitempty"`
	IsImage        bool    `json:"is_image"`
	IsPDF          bool    `json:"is_pdf"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Resized        bool    `json:"resized,omitempty"`
	PageCount      int     `json:"page_count,omitempty"`
	LowText        bool    `json:"low_text,omitempty"`
	Text           string  `json:"-"` // first-page PDF text
	TextConfidence float32 `json:"text_confidence,omitempty"`
}

// Rejected builds a stage-tagged rejection.
func Rejected(stage, reason string) Report {
	return Report{Stage: stage, Reason: reason}
}

// Option configures a Validator.
type Option func(*Validator)

// WithSizeLimits overrides the accepted upload size range in bytes.
func WithSizeLimits(minBytes, maxBytes int) Option {
	return func(v *Validator) {
		if minBytes > 0 {
			v.minBytes = minBytes
		}
		if maxBytes > 0 {
			v.maxBytes = maxBytes
		}
	}
}

// WithEdgeBounds overrides the longest-edge bounds used when resizing images.
func WithEdgeBounds(minEdge, maxEdge int) Option {
	return func(v *Validator) {
		if minEdge > 0 {
			v.minEdge = minEdge
		}
		if maxEdge > 0 {
			v.maxEdge = maxEdge
		}
	}
}

// WithMaxPixels overrides the decoded pixel ceiling for images.
func WithMaxPixels(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPixels = n
		}
	}
}

// WithMaxPDFPages overrides the page ceiling for PDFs.
func WithMaxPDFPages(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPages = n
		}
	}
}

// WithJPEGQuality sets the re-encode quality for lossy output.
func WithJPEGQuality(q int) Option {
	return func(v *Validator) {
		if q > 0 && q <= 100 {
			v.jpegQuality = q
		}
	}
}

// Validator inspects untrusted uploads and produces sanitized, canonical bytes.
// It performs no I/O and is safe for concurrent use.
type Validator struct {
	logger      *slog.Logger
	minBytes    int
	maxBytes    int
	minEdge     int
	maxEdge     int
	maxPixels   int64
	maxPages    int
	minText     int
	jpegQuality int
}

func NewValidator(logger *slog.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		logger:      logger,
		minBytes:    constants.MinUploadBytes,
		maxBytes:    constants.MaxUploadBytes,
		minEdge:     constants.MinImageEdge,
		maxEdge:     constants.MaxImageEdge,
		maxPixels:   constants.MaxImagePixels,
		maxPages:    constants.MaxPDFPages,
		minText:     constants.MinPDFTextLen,
		jpegQuality: constants.JPEGQuality,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the size, mime, structure, sanitize and scan layers in order.
// The first failing layer short-circuits. Decoder panics are converted into a
// rejection tagged with the layer that was running.
func (v *Validator) Validate(data []byte, filename string) (report Report) {
	start := time.Now()
	stage := constants.StageSize
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation.panic", "stage", stage, "filename", filename, "panic", fmt.Sprint(r))
			report = Rejected(stage, reasonDecodeFailure)
		}
		if !report.Accepted {
			v.logger.Info("validation.rejected",
				"stage", report.Stage,
				"reason", report.Reason,
				"filename", filename,
				"size", len(data),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	// size
	if len(data) < v.minBytes {
		return Rejected(stage, "file too small or empty")
	}
	if len(data) > v.maxBytes {
		return Rejected(stage, fmt.Sprintf("file too large (max %d MB)", v.maxBytes>>20))
	}

	// mime
	stage = constants.StageMIME
	mime := SniffMIME(data)
	if mime == "" {
		return Rejected(stage, "unsupported file type")
	}
	if _, ok := constants.AllowedMIMEs[mime]; !ok {
		return Rejected(stage, fmt.Sprintf("unsupported file type %s", mime))
	}
	name, err := reconcileFilename(filename, mime)
	if err != nil {
		return Rejected(stage, err.Error())
	}

	report = Report{
		Filename:     name,
		DetectedMIME: mime,
		ContentType:  mime,
		IsImage:      constants.IsImageMime(mime),
		IsPDF:        mime == constants.MimePDF,
	}

	// structure
	stage = constants.StageStructure
	var doc *pdfInfo
	if report.IsPDF {
		info, reason := v.inspectPDF(data)
		if reason != "" {
			return Rejected(stage, reason)
		}
		doc = info
		report.PageCount = info.Pages
		report.LowText = info.LowText
		report.Text = info.Text
		report.TextConfidence = info.TextConfidence
	} else {
		w, h, reason := v.decodeDimensions(data)
		if reason != "" {
			return Rejected(stage, reason)
		}
		report.Width, report.Height = w, h
	}

	// sanitize (images only)
	stage = constants.StageSanitize
	sanitized := data
	if report.IsImage {
		out, reason := v.sanitizeImage(data, mime)
		if reason != "" {
			return Rejected(stage, reason)
		}
		sanitized = out.Bytes
		report.ContentType = out.ContentType
		report.Filename = replaceExt(report.Filename, constants.ExtForMime(out.ContentType))
		report.Width, report.Height = out.Width, out.Height
		report.Resized = out.Resized
	}

	// scan
	stage = constants.StageScan
	if reason := scan(data, doc, textChunks(data, mime)); reason != "" {
		return Rejected(stage, reason)
	}

	sum := sha256.Sum256(sanitized)
	report.Sanitized = sanitized
	report.ContentHash = hex.EncodeToString(sum[:])
	report.Accepted = true
	report.Stage = ""

	v.logger.Debug("validation.accepted",
		"filename", report.Filename,
		"mime", report.DetectedMIME,
		"content_type", report.ContentType,
		"size_in", len(data),
		"size_out", len(sanitized),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return report
}
