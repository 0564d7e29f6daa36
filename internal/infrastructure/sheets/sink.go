// Package sheets writes result rows to a Google Sheets worksheet.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// Sink implements ports.ResultSink on top of the Sheets v4 API.
type Sink struct {
	svc           *gsheets.Service
	spreadsheetID string
	worksheet     string
	mode          string
	logger        *slog.Logger
}

var _ ports.ResultSink = (*Sink)(nil)

// Connect authenticates, locates the spreadsheet and verifies the worksheet
// exists. When no client options are given the service-account JSON from cfg
// is used.
func Connect(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger, opts ...option.ClientOption) (*Sink, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsJSON([]byte(cfg.Sheets.Credentials)),
			option.WithScopes(gsheets.SpreadsheetsScope, drive.DriveMetadataReadonlyScope),
		}
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	spreadsheetID := cfg.Sheets.SpreadsheetID
	if spreadsheetID == "" {
		spreadsheetID, err = lookupByName(ctx, cfg.Sheets.SpreadsheetName, opts)
		if err != nil {
			return nil, err
		}
	}

	sink := &Sink{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		worksheet:     cfg.Sheets.Worksheet,
		mode:          cfg.Mode,
		logger:        logger,
	}
	if err := sink.verifyWorksheet(ctx); err != nil {
		return nil, err
	}

	sink.info("connected to spreadsheet", "spreadsheet_id", spreadsheetID, "worksheet", sink.worksheet, "mode", sink.mode)
	return sink, nil
}

func lookupByName(ctx context.Context, name string, opts []option.ClientOption) (string, error) {
	if name == "" {
		return "", fmt.Errorf("spreadsheet name is empty")
	}

	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("drive service: %w", err)
	}

	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), spreadsheetMimeType)
	list, err := driveSvc.Files.List().Q(query).Fields("files(id, name)").PageSize(10).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("look up spreadsheet %q: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("spreadsheet %q not found or not shared with the service account", name)
	}
	return list.Files[0].Id, nil
}

func (s *Sink) verifyWorksheet(ctx context.Context) error {
	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("open spreadsheet %s: %w", s.spreadsheetID, err)
	}
	for _, sheet := range doc.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.worksheet {
			return nil
		}
	}
	return fmt.Errorf("worksheet %q not found in spreadsheet %s", s.worksheet, s.spreadsheetID)
}

// Write stores the header followed by rows using the configured policy.
func (s *Sink) Write(ctx context.Context, batch domain.ResultBatch) error {
	headerCells := make([]any, len(batch.Header))
	for i, h := range batch.Header {
		headerCells[i] = h
	}

	if s.mode == config.ModeOverwrite {
		return s.overwrite(ctx, headerCells, batch.Rows)
	}
	return s.appendRows(ctx, batch.Header, headerCells, batch.Rows)
}

func (s *Sink) overwrite(ctx context.Context, headerCells []any, rows [][]any) error {
	if _, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, quote(s.worksheet), &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear worksheet: %w", err)
	}

	values := append([][]any{headerCells}, rows...)
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, quote(s.worksheet)+"!A1", &gsheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func (s *Sink) appendRows(ctx context.Context, header []string, headerCells []any, rows [][]any) error {
	if !slices.Equal(s.currentHeader(ctx), header) {
		s.info("writing header row", "worksheet", s.worksheet)
		_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, quote(s.worksheet)+"!A1", &gsheets.ValueRange{Values: [][]any{headerCells}}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, quote(s.worksheet)+"!A1", &gsheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append rows: %w", err)
	}
	return nil
}

// An unreadable first row is treated as empty so the header gets written.
func (s *Sink) currentHeader(ctx context.Context) []string {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quote(s.worksheet)+"!1:1").Context(ctx).Do()
	if err != nil {
		s.info("cannot read header row", "error", err)
		return nil
	}
	if len(resp.Values) == 0 {
		return nil
	}

	header := make([]string, len(resp.Values[0]))
	for i, cell := range resp.Values[0] {
		header[i] = fmt.Sprint(cell)
	}
	return header
}

func quote(worksheet string) string {
	return "'" + strings.ReplaceAll(worksheet, "'", "''") + "'"
}

func escapeQuery(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, "'", `\'`)
}

func (s *Sink) info(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
