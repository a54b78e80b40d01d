// Package export produces audit artifacts for finished sessions: an XLSX
// workbook of row outcomes and an optional Notion summary page.
package export

import (
	"context"
	"sort"
	"strconv"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/store"
	"github.com/sells-group/import-cli/pkg/notion"
)

// Exporter writes session audit artifacts.
type Exporter struct {
	store    store.Store
	notion   notion.Client // nil disables the Notion summary
	parentDB string
}

// New creates an Exporter. nc may be nil when Notion is not configured.
func New(st store.Store, nc notion.Client, parentDB string) *Exporter {
	return &Exporter{store: st, notion: nc, parentDB: parentDB}
}

// WriteWorkbook writes the session's rows to an XLSX workbook at path. Raw
// values, the enriched overlay, external ids, status, and error message are
// all included so an operator can audit exactly what the pipeline did.
func (e *Exporter) WriteWorkbook(ctx context.Context, sessionID, path string) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	rows, err := e.store.ListRows(ctx, sessionID, store.RowFilter{})
	if err != nil {
		return err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Rows")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	fields := collectFields(rows)
	writeHeader(sheet, fields)
	for i := range rows {
		writeRow(sheet, &rows[i], fields)
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	writeSummary(summary, session)

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}

	zap.L().Info("workbook written",
		zap.String("session_id", sessionID),
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// PublishSummary creates a Notion page summarizing the session outcome.
// Returns the created page URL.
func (e *Exporter) PublishSummary(ctx context.Context, sessionID string) (string, error) {
	if e.notion == nil {
		return "", eris.New("export: notion is not configured")
	}
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	page, err := e.notion.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(e.parentDB),
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Title: []notionapi.RichText{{Text: &notionapi.Text{Content: "Import " + session.FileName}}},
			},
		},
	})
	if err != nil {
		return "", err
	}

	blocks := []notionapi.Block{
		summaryBullet("Session: " + session.ID),
		summaryBullet("Status: " + string(session.Status)),
		summaryBullet("Total rows: " + strconv.Itoa(session.TotalRows)),
		summaryBullet("Enriched: " + strconv.Itoa(session.EnrichedRows)),
		summaryBullet("Synced: " + strconv.Itoa(session.SyncedRows)),
		summaryBullet("Failed: " + strconv.Itoa(session.FailedRows)),
	}
	if err := e.notion.AppendBlocks(ctx, page.ID.String(), blocks); err != nil {
		return "", err
	}
	return page.URL, nil
}

func summaryBullet(text string) notionapi.Block {
	return &notionapi.BulletedListItemBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeBulletedListItem,
		},
		BulletedListItem: notionapi.ListItem{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: text}}},
		},
	}
}

// collectFields returns the union of raw and enriched field names across all
// rows, sorted for stable column order.
func collectFields(rows []model.Row) []string {
	seen := make(map[string]bool)
	for i := range rows {
		for k := range rows[i].Raw {
			seen[k] = true
		}
		for k := range rows[i].Enriched {
			seen[k] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func writeHeader(sheet *xlsx.Sheet, fields []string) {
	row := sheet.AddRow()
	for _, h := range append([]string{"row_index", "status"}, fields...) {
		row.AddCell().SetString(h)
	}
	for _, h := range []string{"contact_id", "company_id", "error"} {
		row.AddCell().SetString(h)
	}
}

func writeRow(sheet *xlsx.Sheet, r *model.Row, fields []string) {
	row := sheet.AddRow()
	row.AddCell().SetString(strconv.Itoa(r.Index))
	row.AddCell().SetString(string(r.Status))
	merged := r.Merged()
	for _, f := range fields {
		row.AddCell().SetString(merged[f])
	}
	row.AddCell().SetString(r.ContactID)
	row.AddCell().SetString(r.CompanyID)
	row.AddCell().SetString(r.ErrorMessage)
}

func writeSummary(sheet *xlsx.Sheet, s *model.Session) {
	add := func(label, value string) {
		row := sheet.AddRow()
		row.AddCell().SetString(label)
		row.AddCell().SetString(value)
	}
	add("session_id", s.ID)
	add("file", s.FileName)
	add("status", string(s.Status))
	add("total_rows", strconv.Itoa(s.TotalRows))
	add("processed_rows", strconv.Itoa(s.ProcessedRows))
	add("enriched_rows", strconv.Itoa(s.EnrichedRows))
	add("synced_rows", strconv.Itoa(s.SyncedRows))
	add("failed_rows", strconv.Itoa(s.FailedRows))
	add("created_at", s.CreatedAt.Format("2006-01-02 15:04:05"))
}
