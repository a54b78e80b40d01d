package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNormalizeHeader(t *testing.T) {
	got := normalizeHeader([]string{" First Name ", "EMAIL", "Company  Name", "", "phone"})
	assert.Equal(t, []string{"first_name", "email", "company_name", "column_3", "phone"}, got)
}

func TestReadCSV(t *testing.T) {
	t.Run("header and records", func(t *testing.T) {
		input := "email,company\njane@acme.com,Acme\nraj@globex.com,Globex\n"
		header, records, err := ReadCSV(strings.NewReader(input), CSVOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"email", "company"}, header)
		require.Len(t, records, 2)
		assert.Equal(t, []string{"jane@acme.com", "Acme"}, records[0])
	})

	t.Run("blank rows are skipped", func(t *testing.T) {
		input := "email,company\n,\njane@acme.com,Acme\n  ,  \n"
		_, records, err := ReadCSV(strings.NewReader(input), CSVOptions{})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("variable field counts tolerated", func(t *testing.T) {
		input := "email,company,phone\njane@acme.com,Acme\n"
		_, records, err := ReadCSV(strings.NewReader(input), CSVOptions{})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Len(t, records[0], 2)
	})

	t.Run("cells are trimmed", func(t *testing.T) {
		input := "email , company\n jane@acme.com ,  Acme \n"
		header, records, err := ReadCSV(strings.NewReader(input), CSVOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"email", "company"}, header)
		assert.Equal(t, []string{"jane@acme.com", "Acme"}, records[0])
	})

	t.Run("custom delimiter", func(t *testing.T) {
		input := "email;company\njane@acme.com;Acme\n"
		header, _, err := ReadCSV(strings.NewReader(input), CSVOptions{Delimiter: ';'})
		require.NoError(t, err)
		assert.Equal(t, []string{"email", "company"}, header)
	})

	t.Run("empty file", func(t *testing.T) {
		_, _, err := ReadCSV(strings.NewReader(""), CSVOptions{})
		require.Error(t, err)
	})
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	in := NewIngestor(st, "acct-1", 3)

	t.Run("creates uploaded session with pending rows", func(t *testing.T) {
		before := time.Now().UTC()
		session, err := in.CreateSession(ctx, "leads.csv",
			[]string{"Email", "Company Name"},
			[][]string{
				{"jane@acme.com", "Acme"},
				{"raj@globex.com", "Globex"},
			}, nil)
		require.NoError(t, err)

		assert.Equal(t, model.SessionStatusUploaded, session.Status)
		assert.Equal(t, "acct-1", session.AccountID)
		assert.Equal(t, 2, session.TotalRows)
		assert.Equal(t, 3, session.MaxRetries)
		assert.WithinDuration(t, before.Add(model.RetentionWindow), session.ExpiresAt, 5*time.Second)

		rows, err := st.ListRows(ctx, session.ID, store.RowFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, model.RowStatusPending, rows[0].Status)
		assert.Equal(t, "jane@acme.com", rows[0].Raw["email"])
		assert.Equal(t, "Acme", rows[0].Raw["company_name"], "headers are normalized")
		assert.Equal(t, 1, rows[1].Index, "indexes follow file order")
	})

	t.Run("short records leave trailing fields unset", func(t *testing.T) {
		session, err := in.CreateSession(ctx, "short.csv",
			[]string{"email", "company", "phone"},
			[][]string{{"jane@acme.com", "Acme"}}, nil)
		require.NoError(t, err)

		rows, err := st.ListRows(ctx, session.ID, store.RowFilter{})
		require.NoError(t, err)
		_, ok := rows[0].Raw["phone"]
		assert.False(t, ok)
	})

	t.Run("rejects empty inputs", func(t *testing.T) {
		_, err := in.CreateSession(ctx, "empty.csv", nil, [][]string{{"x"}}, nil)
		require.Error(t, err)

		_, err = in.CreateSession(ctx, "no-rows.csv", []string{"email"}, nil, nil)
		require.Error(t, err)
	})

	t.Run("records requested config ids", func(t *testing.T) {
		session, err := in.CreateSession(ctx, "scoped.csv",
			[]string{"email"}, [][]string{{"a@b.com"}}, []string{"cfg-1", "cfg-2"})
		require.NoError(t, err)

		got, err := st.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"cfg-1", "cfg-2"}, got.ConfigIDs)
	})
}

func TestReadXLSX(t *testing.T) {
	writeWorkbook := func(t *testing.T, rows [][]string) string {
		t.Helper()
		f := xlsx.NewFile()
		sheet, err := f.AddSheet("Leads")
		require.NoError(t, err)
		for _, row := range rows {
			r := sheet.AddRow()
			for _, cell := range row {
				r.AddCell().SetString(cell)
			}
		}
		path := filepath.Join(t.TempDir(), "upload.xlsx")
		require.NoError(t, f.Save(path))
		return path
	}

	t.Run("reads header and records", func(t *testing.T) {
		path := writeWorkbook(t, [][]string{
			{"email", "company"},
			{"jane@acme.com", "Acme"},
			{"", ""},
			{"raj@globex.com", "Globex"},
		})

		header, records, err := ReadXLSX(path, XLSXOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"email", "company"}, header)
		require.Len(t, records, 2, "blank rows are skipped")
		assert.Equal(t, []string{"raj@globex.com", "Globex"}, records[1])
	})

	t.Run("sheet by name", func(t *testing.T) {
		path := writeWorkbook(t, [][]string{{"email"}, {"a@b.com"}})

		_, _, err := ReadXLSX(path, XLSXOptions{SheetName: "Leads"})
		require.NoError(t, err)

		_, _, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
		require.Error(t, err)
	})

	t.Run("sheet index out of range", func(t *testing.T) {
		path := writeWorkbook(t, [][]string{{"email"}, {"a@b.com"}})
		_, _, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
		require.Error(t, err)
	})
}
