// Package docai transcribes scanned PDF pages with a Google Document AI OCR processor.
package docai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"imageocr/internal/logger"
	"imageocr/internal/ocr"
)

// MaxDocumentSizeBytes is the maximum inline document size for processing (20MB)
const MaxDocumentSizeBytes = 20 * 1024 * 1024

var (
	ErrInvalidConfiguration = errors.New("invalid Document AI configuration")
	ErrProcessorNotFound    = errors.New("Document AI processor not found")
	ErrQuotaExceeded        = errors.New("Document AI quota exceeded")
	ErrDocumentTooLarge     = errors.New("document exceeds the inline size limit (20MB)")
)

// Config identifies the OCR processor.
type Config struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// PageOCR implements page-range OCR of PDFs through Document AI.
type PageOCR struct {
	client *documentai.DocumentProcessorClient
	config Config
	log    zerolog.Logger
}

// New creates a PageOCR with credentials from the environment
// (GOOGLE_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS) and a regional endpoint.
func New(ctx context.Context, config Config) (*PageOCR, error) {
	const op = "docai.New"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, ocr.WrapOCRError(op, ErrInvalidConfiguration, "project and processor ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrMissingCredentials, fmt.Sprintf("failed to create Document AI client for location %s: %v", config.Location, err))
	}

	return &PageOCR{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// Name identifies the backend in logs.
func (p *PageOCR) Name() string {
	return "document-ai"
}

// OCRPages transcribes pages first..last (1-based, inclusive) and returns one
// string per page in order.
func (p *PageOCR) OCRPages(ctx context.Context, pdf []byte, first, last int) ([]string, error) {
	const op = "docai.OCRPages"

	if len(pdf) > MaxDocumentSizeBytes {
		return nil, ocr.WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(pdf)))
	}

	pages := make([]int32, 0, last-first+1)
	for n := first; n <= last; n++ {
		pages = append(pages, int32(n))
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdf,
				MimeType: "application/pdf",
			},
		},
		ProcessOptions: &documentaipb.ProcessOptions{
			PageRange: &documentaipb.ProcessOptions_IndividualPageSelector_{
				IndividualPageSelector: &documentaipb.ProcessOptions_IndividualPageSelector{Pages: pages},
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, p.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrEngineFailed, "no document in response")
	}

	texts := PageTexts(resp.GetDocument())
	p.log.Debug().Int("first", first).Int("last", last).Int("pages", len(texts)).Msg("Pages transcribed")
	return texts, nil
}

// PageTexts slices the document text into pages using each page's text anchor.
func PageTexts(doc *documentaipb.Document) []string {
	full := doc.GetText()
	out := make([]string, 0, len(doc.GetPages()))
	for _, page := range doc.GetPages() {
		var b strings.Builder
		for _, seg := range page.GetLayout().GetTextAnchor().GetTextSegments() {
			start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
			if start < 0 || end > len(full) || start >= end {
				continue
			}
			b.WriteString(full[start:end])
		}
		out = append(out, strings.TrimSpace(b.String()))
	}
	if len(out) == 0 && strings.TrimSpace(full) != "" {
		out = append(out, strings.TrimSpace(full))
	}
	return out
}

func (p *PageOCR) processorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

// handleProcessingError converts Document AI errors to OCR errors.
func (p *PageOCR) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"), strings.Contains(errStr, "Unauthenticated"):
		return ocr.WrapOCRError(op, ocr.ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "QUOTA_EXCEEDED"), strings.Contains(errStr, "ResourceExhausted"):
		return ocr.WrapOCRError(op, ErrQuotaExceeded, "Document AI API quota exceeded")
	case strings.Contains(errStr, "NOT_FOUND"), strings.Contains(errStr, "NotFound"):
		return ocr.WrapOCRError(op, ErrProcessorNotFound, fmt.Sprintf("processor not found: %s", p.config.ProcessorID))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ocr.WrapOCRError(op, ocr.ErrContextCanceled, errStr)
	default:
		return ocr.WrapOCRError(op, ocr.ErrEngineFailed, errStr)
	}
}

// Close closes the underlying Document AI client.
func (p *PageOCR) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
