package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"

	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Output formats of the query command.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
	formatXLSX  = "xlsx"
)

// resultSet is a fetched query result.
type resultSet struct {
	Columns []types.ColumnMeta
	Rows    [][]interface{}
}

func writeResult(w io.Writer, format string, rs resultSet) error {
	switch strings.ToLower(format) {
	case formatTable, "":
		return writeTable(w, rs)
	case formatJSON:
		return writeJSONRows(w, rs)
	case formatCSV:
		return writeCSV(w, rs)
	case formatXLSX:
		return writeXLSX(w, rs, "Results")
	default:
		return fmt.Errorf("unknown format %q (table, json, csv or xlsx)", format)
	}
}

func cellText(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func writeTable(w io.Writer, rs resultSet) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	headers := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		headers[i] = c.Name
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = cellText(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rs.Rows))
	return err
}

// writeJSONRows writes one object per row keyed by column name.
func writeJSONRows(w io.Writer, rs resultSet) error {
	out := make([]map[string]interface{}, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		obj := make(map[string]interface{}, len(rs.Columns))
		for i, c := range rs.Columns {
			if i < len(row) {
				obj[c.Name] = row[i]
			}
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeCSV(w io.Writer, rs resultSet) error {
	cw := csv.NewWriter(w)
	headers := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		headers[i] = c.Name
	}
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellText(v)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeXLSX writes one sheet with a bold header row. Numeric cells stay
// numbers; NULLs are left empty.
func writeXLSX(w io.Writer, rs resultSet, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, c := range rs.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		header := c.Name
		if c.VerboseName != "" && c.VerboseName != c.Name {
			header = c.VerboseName
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for r, row := range rs.Rows {
		for i, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	if len(rs.Columns) > 0 {
		if err := f.AutoFilter(sheet, "A1:"+lastHeaderCell(len(rs.Columns)), nil); err != nil {
			return fmt.Errorf("failed to add filter: %w", err)
		}
	}
	return f.Write(w)
}

func lastHeaderCell(n int) string {
	name, _ := excelize.ColumnNumberToName(n)
	return name + "1"
}
