package models

// ExtractionResult is the outcome of extracting text from one document.
type ExtractionResult struct {
	Success bool   `json:"success"` // Whether any text was produced
	Message string `json:"message"` // Human-readable status or error description
	Text    string `json:"text"`    // Extracted text; empty on failure

	// Optional metadata
	Filename string `json:"filename,omitempty"` // Source document name
	Format   string `json:"format,omitempty"`   // Detected format (image, video, pdf, ...)
	Cached   bool   `json:"cached,omitempty"`   // Served from the content cache
}

// Failed builds an unsuccessful result.
func Failed(message string) ExtractionResult {
	return ExtractionResult{Success: false, Message: message}
}

// Succeeded builds a successful result.
func Succeeded(message, text string) ExtractionResult {
	return ExtractionResult{Success: true, Message: message, Text: text}
}
