package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/import-cli/internal/ingest"
)

var (
	importConfigIDs []string
	importSheet     string
	importEnrich    bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a session from a CSV or XLSX file",
	Long:  "Parses the file, creates an uploaded session with one pending row per record, and optionally starts enrichment. The file may be a local path or an ftp:// URL.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path := args[0]
		if strings.HasPrefix(path, "ftp://") {
			path, err = downloadFTP(ctx, path)
			if err != nil {
				return err
			}
			defer os.Remove(path)
		}

		header, records, err := parseFile(path)
		if err != nil {
			return err
		}

		session, err := env.Ingestor.CreateSession(ctx, filepath.Base(args[0]), header, records, importConfigIDs)
		if err != nil {
			return err
		}

		fmt.Printf("session %s created: %d rows\n", session.ID, session.TotalRows)

		if importEnrich {
			session, err = env.Pipeline.StartEnrichment(ctx, session.ID)
			if err != nil {
				return err
			}
			printSession(session)
		}
		return nil
	},
}

func parseFile(path string) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open file")
		}
		defer f.Close()
		return ingest.ReadCSV(f, ingest.CSVOptions{})
	case ".xlsx":
		return ingest.ReadXLSX(path, ingest.XLSXOptions{SheetName: importSheet})
	default:
		return nil, nil, eris.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// downloadFTP stages a remote upload into a temp file so the XLSX parser,
// which needs random access, can handle it.
func downloadFTP(ctx context.Context, ftpURL string) (string, error) {
	rc, err := ingest.NewFTPFetcher(0).Download(ctx, ftpURL)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "import-*"+filepath.Ext(ftpURL))
	if err != nil {
		return "", eris.Wrap(err, "create temp file")
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", eris.Wrap(err, "download ftp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", eris.Wrap(err, "close temp file")
	}
	return tmp.Name(), nil
}

func init() {
	importCmd.Flags().StringSliceVar(&importConfigIDs, "configs", nil, "enrichment config ids to run (default: all enabled)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.Flags().BoolVar(&importEnrich, "enrich", false, "start enrichment immediately after import")
	rootCmd.AddCommand(importCmd)
}
