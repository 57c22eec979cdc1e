package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hmis-ug/dhis2sql/internal/cursor"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

var queryOpts struct {
	database int64
	format   string
	out      string
	dx       []string
	pe       []string
	ou       []string
	ouMode   string
}

// queryCmd runs one SQL statement and prints the result.
var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run a SQL query against DHIS2",
	Long: `Run one SELECT against a configured DHIS2 database. Pass "-" to read the
statement from stdin. --dx, --pe and --ou set request dimensions, which a
/* DHIS2: ... */ comment in the statement still overrides.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sql := args[0]
		if sql == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			sql = string(b)
		}
		if strings.TrimSpace(sql) == "" {
			return fmt.Errorf("empty query")
		}
		if strings.EqualFold(queryOpts.format, formatXLSX) && queryOpts.out == "" {
			return fmt.Errorf("--format xlsx needs --out")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := resolveDatabase(a, queryOpts.database)
		if err != nil {
			return err
		}

		rc := cursor.NewRequestContextWithDimensions(types.Dimensions{
			DataElements: queryOpts.dx,
			Periods:      queryOpts.pe,
			OrgUnits:     queryOpts.ou,
			OUMode:       queryOpts.ouMode,
		})
		cur, err := a.Databases().NewCursor(cmd.Context(), id, rc)
		if err != nil {
			return err
		}
		defer cur.Close()

		if err := cur.Execute(cmd.Context(), sql); err != nil {
			return err
		}
		rows, err := cur.FetchAll()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if queryOpts.out != "" {
			f, err := os.Create(queryOpts.out)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := writeResult(w, queryOpts.format, resultSet{Columns: cur.Columns(), Rows: rows}); err != nil {
			return err
		}
		if queryOpts.out != "" {
			logger.WithFields(logrus.Fields{"rows": len(rows), "file": queryOpts.out}).Info("result written")
		}
		return nil
	},
}

func init() {
	f := queryCmd.Flags()
	f.Int64Var(&queryOpts.database, "database", 0, "Catalog database id (default: the configured connection)")
	f.StringVarP(&queryOpts.format, "format", "f", formatTable, "Output format: table, json, csv or xlsx")
	f.StringVarP(&queryOpts.out, "out", "o", "", "Write the result to a file instead of stdout")
	f.StringSliceVar(&queryOpts.dx, "dx", nil, "Data element or indicator UIDs")
	f.StringSliceVar(&queryOpts.pe, "pe", nil, "Period codes, e.g. 2024Q1 or LAST_12_MONTHS")
	f.StringSliceVar(&queryOpts.ou, "ou", nil, "Org-unit UIDs or keywords, e.g. USER_ORGUNIT or LEVEL-3")
	f.StringVar(&queryOpts.ouMode, "ou-mode", "", "Org-unit mode: SELECTED, CHILDREN or DESCENDANTS")
}
