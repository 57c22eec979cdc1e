package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hmis-ug/dhis2sql/pkg/types"
)

var boundaryOpts struct {
	database   int64
	level      int
	parent     string
	children   bool
	out        string
	invalidate bool
}

// boundariesCmd prints org-unit boundaries as GeoJSON.
var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Fetch org-unit boundaries as GeoJSON",
	Long: `Fetch the boundaries at --level, optionally under --parent, through the
boundary cache. --invalidate drops the cached entry instead; without --level
it drops every entry of the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := resolveDatabase(a, boundaryOpts.database)
		if err != nil {
			return err
		}
		key := types.BoundaryKey{
			DatabaseID:      id,
			Level:           boundaryOpts.level,
			ParentID:        boundaryOpts.parent,
			IncludeChildren: boundaryOpts.children,
		}

		if boundaryOpts.invalidate {
			if key.Level == 0 {
				return a.Boundaries().InvalidateAll(cmd.Context(), id)
			}
			return a.Boundaries().Invalidate(cmd.Context(), key)
		}

		res, err := a.Boundaries().Lookup(cmd.Context(), key)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"features": len(res.Collection.Features),
			"cached":   res.Cached,
			"dropped":  res.Dropped,
		}).Info("boundaries loaded")

		if boundaryOpts.out != "" {
			if err := os.WriteFile(boundaryOpts.out, res.Payload, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", boundaryOpts.out, err)
			}
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res.Collection)
	},
}

func init() {
	f := boundariesCmd.Flags()
	f.Int64Var(&boundaryOpts.database, "database", 0, "Catalog database id (default: the configured connection)")
	f.IntVar(&boundaryOpts.level, "level", 0, "Org-unit level, 1 or more")
	f.StringVar(&boundaryOpts.parent, "parent", "", "Parent org-unit UID")
	f.BoolVar(&boundaryOpts.children, "children", false, "Also include the level below")
	f.StringVarP(&boundaryOpts.out, "out", "o", "", "Write the GeoJSON to a file")
	f.BoolVar(&boundaryOpts.invalidate, "invalidate", false, "Drop cached boundaries instead of fetching")
}
