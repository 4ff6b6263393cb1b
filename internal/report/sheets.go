// Package report exports extraction results to external destinations.
package report

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"imageocr/internal/logger"
	"imageocr/pkg/models"
)

const (
	// DefaultSheetName is the tab results are appended to.
	DefaultSheetName = "Extractions"

	// MaxCellText is the longest text written to a cell; Sheets rejects cells
	// above 50000 characters.
	MaxCellText = 45000

	lastColumn = "H"
	columns    = 8
)

var headers = []interface{}{
	"File", "Format", "Status", "Message", "Characters", "Cached", "Processed At", "Text",
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Sheets appends extraction results to a Google Sheets spreadsheet.
type Sheets struct {
	service       *sheets.Service
	spreadsheetID string
	now           func() time.Time
	log           zerolog.Logger
}

// NewSheets connects to the spreadsheet at sheetURL (a full URL or a bare ID)
// with the service account from GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS.
func NewSheets(ctx context.Context, sheetURL string) (*Sheets, error) {
	const op = "NewSheets"

	spreadsheetID, err := SpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var creds []byte
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	service, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}
	return NewSheetsWithService(service, spreadsheetID), nil
}

// NewSheetsWithService wraps an existing service, e.g. one pointed at a test endpoint.
func NewSheetsWithService(service *sheets.Service, spreadsheetID string) *Sheets {
	return &Sheets{
		service:       service,
		spreadsheetID: spreadsheetID,
		now:           time.Now,
		log:           logger.WithComponent("sheets"),
	}
}

// SpreadsheetID extracts the ID from a Google Sheets URL. Anything that does
// not look like a URL is taken as the ID itself.
func SpreadsheetID(sheetURL string) (string, error) {
	if matches := spreadsheetIDPattern.FindStringSubmatch(sheetURL); len(matches) == 2 {
		return matches[1], nil
	}
	if sheetURL != "" && regexp.MustCompile(`^[a-zA-Z0-9-_]+$`).MatchString(sheetURL) {
		return sheetURL, nil
	}
	return "", fmt.Errorf("invalid Google Sheets URL format: %q", sheetURL)
}

// WriteResults appends one row per result to sheetName, creating the tab and
// its header row when missing.
func (s *Sheets) WriteResults(ctx context.Context, results []models.ExtractionResult, sheetName string) error {
	const op = "WriteResults"

	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(results)).
		Msg("Writing extraction results to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, sheetName); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	processedAt := s.now().Format(time.RFC3339)
	values := make([][]interface{}, 0, len(results))
	for _, r := range results {
		values = append(values, resultRow(r, processedAt))
	}

	resp, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		fmt.Sprintf("%s!A:%s", sheetName, lastColumn),
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	updated := int64(len(values))
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRows
	}
	s.log.Info().Int64("rows_written", updated).Msg("Wrote extraction results to Google Sheet")
	return nil
}

// resultRow flattens a result into the column order of headers.
func resultRow(r models.ExtractionResult, processedAt string) []interface{} {
	status := "ok"
	if !r.Success {
		status = "failed"
	}
	return []interface{}{
		r.Filename,
		r.Format,
		status,
		r.Message,
		utf8.RuneCountInString(r.Text),
		r.Cached,
		processedAt,
		truncateRunes(r.Text, MaxCellText),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func (s *Sheets) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	sheetID, exists := int64(0), false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			sheetID, exists = sheet.Properties.SheetId, true
			break
		}
	}

	if !exists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")
		resp, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, lastColumn)
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")
	_, err = s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]interface{}{headers}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold and freezes it.
func (s *Sheets) formatHeaders(ctx context.Context, sheetID int64) error {
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        sheetID,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("formatHeaders: %w", err)
	}
	return nil
}
