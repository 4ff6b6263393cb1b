package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"imageocr/internal/extract"
	"imageocr/internal/logger"
	"imageocr/internal/ocr"
	"imageocr/internal/report"
	"imageocr/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file...]",
	Short: "Extract text from images, videos, PDFs, DOCX, Excel and CSV/TXT files",
	Long: `Extract plain text from one or more files.

The format is chosen by file extension. Images run through preprocessing, a
quality gate and multi-engine OCR; videos are sampled every
VIDEO_FRAME_INTERVAL_SEC seconds; PDFs use their text layer and fall back to
page OCR; DOCX, Excel and CSV/TXT files are read directly.

Every file yields a result. A file that fails does not stop the others.`,
	Example: `  # Extract text from a scan to stdout
  imageocr extract receipt.jpg

  # Several documents as JSON results
  imageocr extract scan.png report.pdf sheet.xlsx --json -o results.json

  # One merged document with start and end markers per file
  imageocr extract *.pdf --merge -o merged.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("json", false, "Output results as JSON")
	extractCmd.Flags().Bool("merge", false, "Merge successful texts into one document with per-file markers")
	extractCmd.Flags().Int("workers", 0, "Documents processed in parallel (default: WORKERS)")
	extractCmd.Flags().String("sheet", "", "Also append the results to this Google Sheets URL or spreadsheet ID")
	extractCmd.Flags().String("sheet-name", report.DefaultSheetName, "Tab the results are appended to")
	extractCmd.Flags().Int("timeout", 0, "Overall timeout in seconds (default: none, each document is bounded by EXTRACT_TIMEOUT)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	merge, _ := cmd.Flags().GetBool("merge")
	workers, _ := cmd.Flags().GetInt("workers")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	sheetURL, _ := cmd.Flags().GetString("sheet")
	sheetName, _ := cmd.Flags().GetString("sheet-name")

	if jsonOutput && merge {
		return fmt.Errorf("--json and --merge cannot be combined")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	log.Info().
		Int("files", len(args)).
		Str("output", outputPath).
		Bool("json", jsonOutput).
		Bool("merge", merge).
		Int("workers", cfg.Workers).
		Msg("Starting extraction")

	docs, err := readDocuments(args, log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	c, err := newContainer(ctx, cfg)
	if err != nil {
		return handleSetupError(err, log)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to release resources")
		}
	}()

	start := time.Now()
	results := c.dispatcher.ExtractBatch(ctx, docs)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
			log.Warn().Str("file", r.Filename).Str("reason", r.Message).Msg("Extraction failed")
		}
	}
	log.Info().
		Int("documents", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Extraction completed")

	if err := outputResults(results, outputPath, jsonOutput, merge, log); err != nil {
		return err
	}
	if sheetURL != "" {
		if err := exportToSheet(ctx, sheetURL, sheetName, results); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return handleContextError(ctx.Err())
	}
	if failed == len(results) {
		return fmt.Errorf("no text extracted from %d file(s)", failed)
	}
	return nil
}

func exportToSheet(ctx context.Context, sheetURL, sheetName string, results []models.ExtractionResult) error {
	sheet, err := report.NewSheets(ctx, sheetURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Google Sheets: %w", err)
	}
	if err := sheet.WriteResults(ctx, results, sheetName); err != nil {
		return fmt.Errorf("failed to write results to Google Sheets: %w", err)
	}
	return nil
}

// readDocuments loads every input path. Size limits are enforced per document
// by the dispatcher so one oversized file yields a failed result, not an abort.
func readDocuments(paths []string, log zerolog.Logger) ([]extract.Document, error) {
	docs := make([]extract.Document, 0, len(paths))
	for _, path := range paths {
		if err := validateInputFile(path, log); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to read input file")
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, extract.Document{Filename: filepath.Base(path), Content: content})
	}
	return docs, nil
}

// validateInputFile checks that path exists and is a regular file.
func validateInputFile(path string, log zerolog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("Input file not found")
			return fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing input file")
			return fmt.Errorf("permission denied accessing file: %s", path)
		}
		return fmt.Errorf("error accessing file: %w", err)
	}

	if !info.Mode().IsRegular() {
		log.Error().Str("file", path).Msg("Path is not a regular file")
		return fmt.Errorf("path is not a regular file: %s", path)
	}

	if format, ext := extract.FormatOf(path); format == extract.FormatUnsupported {
		log.Warn().
			Str("file", path).
			Str("extension", ext).
			Msg("Unsupported extension, the file will be reported as failed")
	}
	return nil
}

// createContextWithTimeout returns a context canceled on SIGINT/SIGTERM and,
// when timeoutSecs is positive, after that many seconds.
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	if timeoutSecs > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling extraction")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleSetupError turns engine construction failures into actionable messages.
func handleSetupError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Failed to initialize OCR engines")

	switch {
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
			"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
			"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
			"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
			"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
			"3. Or switch back to the local engines:\n" +
			"   PRIMARY_ENGINE=tesseract PDF_OCR_BACKEND=tesseract")
	case errors.Is(err, ocr.ErrEngineNotConfigured):
		return fmt.Errorf("invalid engine selection: %w", err)
	default:
		return fmt.Errorf("failed to initialize OCR engines: %w", err)
	}
}

func handleContextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("extraction timed out. Try increasing --timeout or processing fewer files")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("extraction was canceled")
	default:
		return err
	}
}

// outputResults writes the results as JSON, as one merged document or as
// plain text with a header per file.
func outputResults(results []models.ExtractionResult, outputPath string, jsonOutput, merge bool, log zerolog.Logger) error {
	var outputData []byte

	switch {
	case jsonOutput:
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = data
	case merge:
		outputData = []byte(extract.Merge(results))
	default:
		outputData = []byte(formatText(results))
	}
	if len(outputData) > 0 && outputData[len(outputData)-1] != '\n' {
		outputData = append(outputData, '\n')
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// formatText prints a single document bare and several documents with headers.
func formatText(results []models.ExtractionResult) string {
	if len(results) == 1 {
		r := results[0]
		if r.Success {
			return r.Text
		}
		return fmt.Sprintf("%s: %s", r.Filename, r.Message)
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n", r.Filename)
		if r.Success {
			fmt.Fprintf(&b, "%s\n", r.Text)
		} else {
			fmt.Fprintf(&b, "[failed] %s\n", r.Message)
		}
	}
	return b.String()
}
