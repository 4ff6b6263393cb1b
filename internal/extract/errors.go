package extract

import (
	"errors"
	"fmt"
)

// Kind classifies document-level failures.
type Kind int

const (
	KindInternal Kind = iota
	KindUnsupportedFormat
	KindDecodeFailure
	KindLowQualityImage
	KindNoTextDetected
	KindEngineFailure
	KindTimeout
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindDecodeFailure:
		return "decode_failure"
	case KindLowQualityImage:
		return "low_quality_image"
	case KindNoTextDetected:
		return "no_text_detected"
	case KindEngineFailure:
		return "engine_failure"
	case KindTimeout:
		return "timeout"
	case KindTooLarge:
		return "too_large"
	default:
		return "internal"
	}
}

var (
	ErrUnsupportedFormat = errors.New("unsupported file type")
	ErrNoText            = errors.New("no text detected")
	ErrLowQuality        = errors.New("image failed quality checks")
	ErrTooLarge          = errors.New("file too large")
	ErrTimeout           = errors.New("extraction timed out")
	ErrPanic             = errors.New("extraction panicked")
)

// ExtractionError is a document-level failure. Message is the text reported
// to the caller in ExtractionResult.Message.
type ExtractionError struct {
	Op      string
	Kind    Kind
	Err     error
	Message string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: %s failed (%s): %s: %v", e.Op, e.Kind, e.Message, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is reports whether the underlying error matches target.
func (e *ExtractionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op string, kind Kind, err error, format string, args ...any) *ExtractionError {
	return &ExtractionError{Op: op, Kind: kind, Err: err, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, KindInternal when err is not an ExtractionError.
func KindOf(err error) Kind {
	var e *ExtractionError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// branchMessages prefix unclassified errors raised inside a format branch.
var branchMessages = map[Format]string{
	FormatImage: "OCR failed: %v",
	FormatVideo: "Video processing error: %v",
	FormatPDF:   "PDF processing error: %v",
	FormatDOCX:  "DOCX processing error: %v",
	FormatExcel: "Excel processing error: %v",
	FormatText:  "Text decoding error: %v",
}

// messageFor returns the user-facing message for a failed branch.
func messageFor(format Format, err error) string {
	var e *ExtractionError
	if errors.As(err, &e) {
		return e.Message
	}
	if tmpl, ok := branchMessages[format]; ok {
		return fmt.Sprintf(tmpl, err)
	}
	return fmt.Sprintf("Unexpected error: %v", err)
}
