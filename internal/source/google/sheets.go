package google

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"weektally/internal/fault"
	"weektally/internal/log"
	"weektally/internal/model"
)

// SheetProvider reads the master course list from a Google Sheet. Column A
// holds the course id, column D the internal display name; the first row is
// a header.
type SheetProvider struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetProvider builds a SheetProvider over an authenticated client.
func NewSheetProvider(ctx context.Context, client *http.Client, spreadsheetID, sheetName string) (*SheetProvider, error) {
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fault.Providerf("sheets service: %v", err)
	}
	return &SheetProvider{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// FetchMasterEntities pulls the full course list. Rows missing either the id
// or the name column are skipped.
func (p *SheetProvider) FetchMasterEntities(ctx context.Context) ([]model.MasterEntity, error) {
	readRange := p.sheetName + "!A:D"
	resp, err := p.svc.Spreadsheets.Values.Get(p.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	rows := resp.Values
	if len(rows) <= 1 {
		log.Warn("master sheet has no data rows", "spreadsheet", p.spreadsheetID)
		return []model.MasterEntity{}, nil
	}

	entities := make([]model.MasterEntity, 0, len(rows)-1)
	for i, row := range rows[1:] { // skip header
		id := cell(row, 0)
		title := cell(row, 3)
		if id == "" || title == "" {
			continue
		}
		entities = append(entities, model.MasterEntity{
			ID:          id,
			Title:       title,
			SourceRowID: int64(i + 2), // 1-based, after the header
		})
	}

	log.Info("master entities fetched", "count", len(entities))
	return entities, nil
}

func cell(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return strings.TrimSpace(s)
}
