package dimensions

import (
	"strconv"
	"strings"

	"github.com/hmis-ug/dhis2sql/internal/sanitize"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// HierarchyLevels are the org-unit level column names, shallowest first.
// Deeper levels are named Level_<n>.
var HierarchyLevels = []string{"National", "Region", "District", "Sub_County", "Health_Facility"}

// rolePatterns maps lower-cased sanitized column names to the axis they carry.
var rolePatterns = map[string]types.Axis{
	"orgunit":                types.AxisOrgUnit,
	"org_unit":               types.AxisOrgUnit,
	"organisationunit":       types.AxisOrgUnit,
	"organisation_unit":      types.AxisOrgUnit,
	"organizationunit":       types.AxisOrgUnit,
	"organization_unit":      types.AxisOrgUnit,
	"orgunit_name":           types.AxisOrgUnit,
	"organisation_unit_name": types.AxisOrgUnit,
	"ou":                     types.AxisOrgUnit,

	"period":      types.AxisPeriod,
	"period_name": types.AxisPeriod,
	"time":        types.AxisPeriod,
	"pe":          types.AxisPeriod,
	"month":       types.AxisPeriod,
	"quarter":     types.AxisPeriod,
	"year":        types.AxisPeriod,
	"week":        types.AxisPeriod,
	"date":        types.AxisPeriod,

	"dataelement":  types.AxisData,
	"data_element": types.AxisData,
	"data":         types.AxisData,
	"indicator":    types.AxisData,
	"dx":           types.AxisData,
}

// metricNames are measure-like column names that never carry a dimension.
var metricNames = map[string]bool{
	"value":   true,
	"values":  true,
	"sum":     true,
	"count":   true,
	"avg":     true,
	"average": true,
	"min":     true,
	"max":     true,
	"total":   true,
	"metric":  true,
	"measure": true,
}

// metricPrefixes mark names such as sum_cases or count_visits.
var metricPrefixes = []string{"sum_", "count_", "avg_", "min_", "max_", "total_"}

func normalizeName(name string) string {
	return strings.ToLower(sanitize.Column(name))
}

// IsMetricName reports whether a column name looks like a measure.
func IsMetricName(name string) bool {
	n := normalizeName(name)
	if metricNames[n] {
		return true
	}
	for _, p := range metricPrefixes {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}

// RoleOf returns the axis a dimension-like column name carries.
// Hierarchy level names map to the org-unit axis.
func RoleOf(name string) (types.Axis, bool) {
	if IsMetricName(name) {
		return "", false
	}
	n := normalizeName(name)
	if axis, ok := rolePatterns[n]; ok {
		return axis, true
	}
	if IsHierarchyLevel(name) {
		return types.AxisOrgUnit, true
	}
	return "", false
}

// IsHierarchyLevel reports whether a name is one of the org-unit level columns.
func IsHierarchyLevel(name string) bool {
	n := normalizeName(name)
	for _, lvl := range HierarchyLevels {
		if n == strings.ToLower(lvl) {
			return true
		}
	}
	if n == "subcounty" || n == "facility" {
		return true
	}
	return strings.HasPrefix(n, "level_")
}

// LevelColumn returns the hierarchy column name for a 1-based level.
func LevelColumn(level int) string {
	if level >= 1 && level <= len(HierarchyLevels) {
		return HierarchyLevels[level-1]
	}
	return "Level_" + strconv.Itoa(level)
}
