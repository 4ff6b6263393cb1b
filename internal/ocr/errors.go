package ocr

import "errors"

var (
	ErrEngineFailed        = errors.New("OCR engine failed")
	ErrEngineNotConfigured = errors.New("OCR engine not configured")
	ErrInvalidImage        = errors.New("invalid image")
	ErrContextCanceled     = errors.New("OCR processing was canceled")

	// ErrMissingCredentials covers both absent and rejected Google Cloud credentials.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
)

// OCRError records which engine operation failed.
type OCRError struct {
	Op      string // e.g. "tesseract.Detect"
	Err     error
	Details string
}

func (e *OCRError) Error() string {
	msg := "ocr: " + e.Op + ": " + e.Err.Error()
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *OCRError) Unwrap() error { return e.Err }

func (e *OCRError) Is(target error) bool { return errors.Is(e.Err, target) }

func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{Op: op, Err: err, Details: details}
}

// WrapOCRError returns err unchanged when it already carries an OCRError.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}
	return NewOCRError(op, err, details)
}
