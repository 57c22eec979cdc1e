// Package normalize pivots DHIS2 responses into wide tables: one row per
// (period, org unit) pair and one column per data element, with the
// org-unit hierarchy optionally spread over level columns. Missing values
// stay nil; a zero row response becomes an empty table with the full
// column list.
package normalize

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/internal/query/dimensions"
	"github.com/hmis-ug/dhis2sql/internal/sanitize"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Dimension column names of every normalized table.
const (
	PeriodColumn  = "Period"
	OrgUnitColumn = "OrgUnit"
)

// NameResolver looks up names the response metadata does not carry.
type NameResolver interface {
	DataElementNames(ctx context.Context, ids []string) (map[string]string, error)
	OrgUnits(ctx context.Context, ids []string) ([]dhis2.OrgUnit, error)
}

// Normalizer converts raw responses to tables.
type Normalizer struct {
	names  NameResolver
	logger logrus.FieldLogger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Normalizer. names may be nil, in which case UIDs stand in
// for names the response does not provide.
func New(names NameResolver, opts ...Option) *Normalizer {
	n := &Normalizer{names: names, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// observation is one (period, org unit, data element) value.
type observation struct {
	pe, ou, de string
	value      string
	null       bool
}

// Analytics pivots an analytics response. d are the dimensions the
// request was made with; its data elements get columns even when no row
// mentions them.
func (n *Normalizer) Analytics(ctx context.Context, resp *dhis2.AnalyticsResponse, d types.Dimensions) (*types.Table, error) {
	if resp == nil {
		resp = &dhis2.AnalyticsResponse{}
	}
	var obs []observation
	if len(resp.Rows) > 0 {
		dx, pe, ou, val := resp.HeaderIndex("dx"), resp.HeaderIndex("pe"), resp.HeaderIndex("ou"), resp.HeaderIndex("value")
		if dx < 0 || pe < 0 || ou < 0 || val < 0 {
			return nil, dherrors.NewUpstreamError(dherrors.CodeInvalidResponse,
				"DHIS2 analytics response is missing one of the dx, pe, ou or value headers", nil)
		}
		width := len(resp.Headers)
		obs = make([]observation, 0, len(resp.Rows))
		for i, row := range resp.Rows {
			if len(row) != width {
				return nil, dherrors.NewUpstreamError(dherrors.CodeInvalidResponse,
					"DHIS2 analytics row "+strconv.Itoa(i)+" does not match the header count", nil)
			}
			obs = append(obs, observation{
				de:    row[dx].Value,
				pe:    row[pe].Value,
				ou:    row[ou].Value,
				value: row[val].Value,
				null:  row[val].Null,
			})
		}
	}

	names := make(map[string]string, len(resp.MetaData.Items))
	for uid, it := range resp.MetaData.Items {
		if it.Name != "" {
			names[uid] = it.Name
		}
	}

	var chains map[string][]string
	if d.Hierarchy && len(resp.MetaData.OUHierarchy) > 0 {
		chains = make(map[string][]string, len(resp.MetaData.OUHierarchy))
		for ou, path := range resp.MetaData.OUHierarchy {
			chains[ou] = splitPath(path)
		}
	}

	deUIDs := union(d.DataElements, resp.MetaData.Dimensions["dx"])
	return n.pivot(ctx, obs, deUIDs, names, chains, false)
}

// DataValueSets pivots raw data values. Values that differ only in
// category option combo are summed.
func (n *Normalizer) DataValueSets(ctx context.Context, resp *dhis2.DataValueSetResponse, d types.Dimensions) (*types.Table, error) {
	if resp == nil {
		resp = &dhis2.DataValueSetResponse{}
	}
	obs := make([]observation, 0, len(resp.DataValues))
	for _, dv := range resp.DataValues {
		obs = append(obs, observation{pe: dv.Period, ou: dv.OrgUnit, de: dv.DataElement, value: dv.Value})
	}

	names := make(map[string]string)
	var chains map[string][]string
	if d.Hierarchy && n.names != nil {
		units, err := n.names.OrgUnits(ctx, distinct(obs, func(o observation) string { return o.ou }))
		if err != nil {
			return nil, err
		}
		chains = make(map[string][]string, len(units))
		for _, u := range units {
			names[u.ID] = u.Name
			chains[u.ID] = u.Ancestors()
		}
	}

	deUIDs := d.DataElements
	if len(deUIDs) == 0 {
		deUIDs = distinct(obs, func(o observation) string { return o.de })
	}
	return n.pivot(ctx, obs, union(deUIDs, nil), names, chains, true)
}

// pivot builds the wide table. chains maps an org unit to its ancestor
// UIDs, root first; nil disables hierarchy columns.
func (n *Normalizer) pivot(ctx context.Context, obs []observation, deUIDs []string, names map[string]string, chains map[string][]string, sum bool) (*types.Table, error) {
	for _, o := range obs {
		if o.de != "" && !contains(deUIDs, o.de) {
			deUIDs = append(deUIDs, o.de)
		}
	}

	if err := n.fillDataElementNames(ctx, deUIDs, names); err != nil {
		return nil, err
	}
	if err := n.fillOrgUnitNames(ctx, obs, chains, names); err != nil {
		return nil, err
	}

	// Sort by sanitized name, then UID, so column order is stable.
	sort.SliceStable(deUIDs, func(i, j int) bool {
		a, b := sanitize.Column(nameOf(names, deUIDs[i])), sanitize.Column(nameOf(names, deUIDs[j]))
		if a != b {
			return a < b
		}
		return deUIDs[i] < deUIDs[j]
	})

	levels := 0
	if chains != nil {
		for _, o := range obs {
			if depth := len(chains[o.ou]) + 1; depth > levels {
				levels = depth
			}
		}
	}

	mapping := sanitize.NewMapping()
	columns := []types.ColumnMeta{{Name: mapping.Add("", PeriodColumn), VerboseName: PeriodColumn, Type: types.ColumnString, GroupBy: true}}
	for lvl := 1; lvl <= levels; lvl++ {
		name := dimensions.LevelColumn(lvl)
		columns = append(columns, types.ColumnMeta{Name: mapping.Add("", name), VerboseName: name, Type: types.ColumnString, GroupBy: true})
	}
	columns = append(columns, types.ColumnMeta{Name: mapping.Add("", OrgUnitColumn), VerboseName: OrgUnitColumn, Type: types.ColumnString, GroupBy: true})

	dimCount := len(columns)
	deIndex := make(map[string]int, len(deUIDs))
	for _, uid := range deUIDs {
		display := nameOf(names, uid)
		deIndex[uid] = len(columns)
		columns = append(columns, types.ColumnMeta{
			Name:        mapping.Add(uid, display),
			VerboseName: display,
			Type:        types.ColumnNumeric,
			SourceUID:   uid,
		})
	}

	table := types.NewTable(columns)
	type key struct{ pe, ou string }
	rows := make(map[key][]interface{})
	var order []key

	for _, o := range obs {
		k := key{o.pe, o.ou}
		row, ok := rows[k]
		if !ok {
			row = make([]interface{}, len(columns))
			row[0] = o.pe
			if levels > 0 {
				chain := append(append([]string(nil), chains[o.ou]...), o.ou)
				for i, uid := range chain {
					if i < levels {
						row[1+i] = nameOf(names, uid)
					}
				}
			}
			row[dimCount-1] = nameOf(names, o.ou)
			rows[k] = row
			order = append(order, k)
		}

		idx, ok := deIndex[o.de]
		if !ok || o.null || o.value == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(o.value), 64)
		if err != nil {
			// Numeric columns hold float64 or nil only.
			n.logger.WithFields(logrus.Fields{
				"column": columns[idx].Name,
				"value":  o.value,
			}).Warn("dropping non-numeric value")
			continue
		}
		if prev, ok := row[idx].(float64); ok && sum {
			f += prev
		}
		row[idx] = f
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].pe != order[j].pe {
			return order[i].pe < order[j].pe
		}
		return nameOf(names, order[i].ou) < nameOf(names, order[j].ou)
	})
	for _, k := range order {
		table.Rows = append(table.Rows, rows[k])
	}

	if err := table.Validate(); err != nil {
		return nil, dherrors.NewInternalError("normalized table is not rectangular", err)
	}
	return table, nil
}

func (n *Normalizer) fillDataElementNames(ctx context.Context, uids []string, names map[string]string) error {
	var missing []string
	for _, uid := range uids {
		if _, ok := names[uid]; !ok {
			missing = append(missing, uid)
		}
	}
	if len(missing) == 0 || n.names == nil {
		return nil
	}
	found, err := n.names.DataElementNames(ctx, missing)
	if err != nil {
		return err
	}
	for uid, name := range found {
		if name != "" {
			names[uid] = name
		}
	}
	return nil
}

// fillOrgUnitNames resolves names of org units and ancestors that the
// response metadata left out, once per call.
func (n *Normalizer) fillOrgUnitNames(ctx context.Context, obs []observation, chains map[string][]string, names map[string]string) error {
	if n.names == nil {
		return nil
	}
	seen := make(map[string]bool)
	var missing []string
	need := func(uid string) {
		if uid == "" || seen[uid] {
			return
		}
		seen[uid] = true
		if _, ok := names[uid]; !ok {
			missing = append(missing, uid)
		}
	}
	for _, o := range obs {
		need(o.ou)
		for _, a := range chains[o.ou] {
			need(a)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	units, err := n.names.OrgUnits(ctx, missing)
	if err != nil {
		return err
	}
	for _, u := range units {
		names[u.ID] = u.Name
	}
	return nil
}

func nameOf(names map[string]string, uid string) string {
	if n, ok := names[uid]; ok {
		return n
	}
	return uid
}

func splitPath(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func union(a, b []string) []string {
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s != "" && !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func distinct(obs []observation, field func(observation) string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, o := range obs {
		if v := field(o); v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
