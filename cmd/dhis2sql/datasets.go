package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmis-ug/dhis2sql/internal/catalog"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

var datasetOpts struct {
	database  int64
	dx        []string
	pe        []string
	ou        []string
	ouMode    string
	hierarchy bool
	dataSet   string
}

// datasetsCmd manages the dimension presets of queryable tables.
var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Manage dataset dimension presets",
	Long: `A dataset preset names the dx, pe and ou a table queries when neither a
comment nor the request supplies them.`,
}

var setDatasetCmd = &cobra.Command{
	Use:   "set [table]",
	Short: "Create or replace a table's preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(datasetOpts.dx) == 0 && datasetOpts.dataSet == "" {
			return fmt.Errorf("a preset needs --dx or --data-set")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Catalog().PutDataset(cmd.Context(), catalog.Dataset{
			Table:      args[0],
			DatabaseID: datasetOpts.database,
			Dimensions: types.Dimensions{
				DataElements: datasetOpts.dx,
				Periods:      datasetOpts.pe,
				OrgUnits:     datasetOpts.ou,
				OUMode:       datasetOpts.ouMode,
				Hierarchy:    datasetOpts.hierarchy,
				DataSet:      datasetOpts.dataSet,
			},
		})
	},
}

var showDatasetCmd = &cobra.Command{
	Use:   "show [table]",
	Short: "Print a table's preset and columns as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ds, err := a.Catalog().GetDataset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cols, err := a.Catalog().Columns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*catalog.Dataset
			Columns []types.ColumnMeta `json:"columns"`
		}{ds, cols})
	},
}

var listDatasetsCmd = &cobra.Command{
	Use:   "list",
	Short: "List tables with a preset or stored columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tables, err := a.Catalog().Tables(cmd.Context())
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

var deleteDatasetCmd = &cobra.Command{
	Use:   "delete [table]",
	Short: "Delete a table's preset and columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Catalog().DeleteDataset(cmd.Context(), args[0])
	},
}

func init() {
	f := setDatasetCmd.Flags()
	f.Int64Var(&datasetOpts.database, "database", 0, "Catalog database id the table belongs to")
	f.StringSliceVar(&datasetOpts.dx, "dx", nil, "Data element or indicator UIDs")
	f.StringSliceVar(&datasetOpts.pe, "pe", nil, "Period codes")
	f.StringSliceVar(&datasetOpts.ou, "ou", nil, "Org-unit UIDs or keywords")
	f.StringVar(&datasetOpts.ouMode, "ou-mode", "", "Org-unit mode: SELECTED, CHILDREN or DESCENDANTS")
	f.BoolVar(&datasetOpts.hierarchy, "hierarchy", false, "Request hierarchy columns")
	f.StringVar(&datasetOpts.dataSet, "data-set", "", "Data set UID for dataValueSets tables")

	datasetsCmd.AddCommand(setDatasetCmd)
	datasetsCmd.AddCommand(showDatasetCmd)
	datasetsCmd.AddCommand(listDatasetsCmd)
	datasetsCmd.AddCommand(deleteDatasetCmd)
}
