package dhis2

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Now is the clock used to expand relative periods.
var Now = time.Now

var (
	uidPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{10}$`)
	periodPattern = regexp.MustCompile(`^(\d{4}|\d{6}|\d{8}|\d{4}Q[1-4]|\d{4}W\d{1,2}|\d{4}BiW\d{1,2}|\d{4}S[12]|\d{6}B|\d{4}(April|July|Oct|Nov)|\d{4}(AprilS|NovS)[12])$`)
)

// IsUID reports whether s has the shape of a DHIS2 identifier.
func IsUID(s string) bool {
	return uidPattern.MatchString(s)
}

// Org-unit keywords understood by analytics.
const (
	UserOrgUnit              = "USER_ORGUNIT"
	UserOrgUnitChildren      = "USER_ORGUNIT_CHILDREN"
	UserOrgUnitGrandchildren = "USER_ORGUNIT_GRANDCHILDREN"
)

// IsOrgUnitKeyword reports whether s is an org-unit keyword or a LEVEL-/
// OU_GROUP- selector rather than a UID.
func IsOrgUnitKeyword(s string) bool {
	u := strings.ToUpper(s)
	switch u {
	case UserOrgUnit, UserOrgUnitChildren, UserOrgUnitGrandchildren:
		return true
	}
	return strings.HasPrefix(u, "LEVEL-") || strings.HasPrefix(u, "OU_GROUP-")
}

// IsOrgUnitRef reports whether s can be sent as an ou dimension item.
func IsOrgUnitRef(s string) bool {
	return IsUID(s) || IsOrgUnitKeyword(s)
}

// relativePeriods lists the relative period keywords that can be expanded.
var relativePeriods = map[string]bool{
	"THIS_YEAR": true, "LAST_YEAR": true, "LAST_3_YEARS": true, "LAST_5_YEARS": true, "LAST_10_YEARS": true,
	"THIS_MONTH": true, "LAST_MONTH": true, "LAST_3_MONTHS": true, "LAST_6_MONTHS": true, "LAST_12_MONTHS": true,
	"MONTHS_THIS_YEAR": true,
	"THIS_QUARTER": true, "LAST_QUARTER": true, "LAST_4_QUARTERS": true, "QUARTERS_THIS_YEAR": true,
	"THIS_WEEK": true, "LAST_WEEK": true, "LAST_4_WEEKS": true, "LAST_12_WEEKS": true, "LAST_52_WEEKS": true,
}

// IsRelativePeriod reports whether s is a relative period keyword.
func IsRelativePeriod(s string) bool {
	return relativePeriods[strings.ToUpper(s)]
}

// IsPeriodCode reports whether s is a concrete period code or a relative keyword.
func IsPeriodCode(s string) bool {
	return periodPattern.MatchString(s) || IsRelativePeriod(s)
}

// ParseDate parses the date layouts BI tools put in filters.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.000000",
		"2006-01-02 15:04:05.000000",
		time.RFC3339,
		"2006-01",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PeriodFromValue converts a filter value to a period code. Period codes
// pass through; ISO dates become the monthly code of their month.
func PeriodFromValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if IsPeriodCode(s) {
		if IsRelativePeriod(s) {
			return strings.ToUpper(s), true
		}
		return s, true
	}
	if t, ok := ParseDate(s); ok {
		return MonthCode(t), true
	}
	return "", false
}

// PeriodStart returns the first day of a period code or ISO date, for
// yearly, monthly, quarterly and daily codes.
func PeriodStart(s string) (time.Time, bool) {
	if t, ok := ParseDate(s); ok {
		return t, true
	}
	switch {
	case len(s) == 4:
		y, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC), true
	case len(s) == 6 && s[4] == 'Q':
		y, err := strconv.Atoi(s[:4])
		if err != nil {
			return time.Time{}, false
		}
		q := int(s[5] - '0')
		if q < 1 || q > 4 {
			return time.Time{}, false
		}
		return time.Date(y, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC), true
	case len(s) == 6:
		t, err := time.Parse("200601", s)
		return t, err == nil
	case len(s) == 8:
		t, err := time.Parse("20060102", s)
		return t, err == nil
	}
	return time.Time{}, false
}

// MonthCode returns the monthly period code (yyyyMM) for t.
func MonthCode(t time.Time) string {
	return t.Format("200601")
}

// QuarterCode returns the quarterly period code (yyyyQn) for t.
func QuarterCode(t time.Time) string {
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}

// WeekCode returns the ISO weekly period code (yyyyWn) for t.
func WeekCode(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%dW%d", y, w)
}

// MonthlyPeriods lists monthly codes from the month of from through the
// month of to, inclusive. It returns nil when to is before from.
func MonthlyPeriods(from, to time.Time) []string {
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		out = append(out, MonthCode(m))
	}
	return out
}

// ExpandRelative turns a relative period keyword into concrete codes,
// oldest first. ok is false for anything that is not a known keyword.
func ExpandRelative(code string, now time.Time) (periods []string, ok bool) {
	now = now.UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	lastMonths := func(n int) []string {
		var out []string
		for i := n; i >= 1; i-- {
			out = append(out, MonthCode(month.AddDate(0, -i, 0)))
		}
		return out
	}
	lastYears := func(n int) []string {
		var out []string
		for i := n; i >= 1; i-- {
			out = append(out, strconv.Itoa(now.Year()-i))
		}
		return out
	}
	quarterStart := time.Date(now.Year(), time.Month(3*((int(now.Month())-1)/3)+1), 1, 0, 0, 0, 0, time.UTC)
	lastQuarters := func(n int) []string {
		var out []string
		for i := n; i >= 1; i-- {
			out = append(out, QuarterCode(quarterStart.AddDate(0, -3*i, 0)))
		}
		return out
	}
	lastWeeks := func(n int) []string {
		var out []string
		for i := n; i >= 1; i-- {
			out = append(out, WeekCode(now.AddDate(0, 0, -7*i)))
		}
		return out
	}

	switch strings.ToUpper(code) {
	case "THIS_YEAR":
		return []string{strconv.Itoa(now.Year())}, true
	case "LAST_YEAR":
		return lastYears(1), true
	case "LAST_3_YEARS":
		return lastYears(3), true
	case "LAST_5_YEARS":
		return lastYears(5), true
	case "LAST_10_YEARS":
		return lastYears(10), true
	case "THIS_MONTH":
		return []string{MonthCode(month)}, true
	case "LAST_MONTH":
		return lastMonths(1), true
	case "LAST_3_MONTHS":
		return lastMonths(3), true
	case "LAST_6_MONTHS":
		return lastMonths(6), true
	case "LAST_12_MONTHS":
		return lastMonths(12), true
	case "MONTHS_THIS_YEAR":
		return MonthlyPeriods(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC), month), true
	case "THIS_QUARTER":
		return []string{QuarterCode(quarterStart)}, true
	case "LAST_QUARTER":
		return lastQuarters(1), true
	case "LAST_4_QUARTERS":
		return lastQuarters(4), true
	case "QUARTERS_THIS_YEAR":
		var out []string
		for q := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC); !q.After(quarterStart); q = q.AddDate(0, 3, 0) {
			out = append(out, QuarterCode(q))
		}
		return out, true
	case "THIS_WEEK":
		return []string{WeekCode(now)}, true
	case "LAST_WEEK":
		return lastWeeks(1), true
	case "LAST_4_WEEKS":
		return lastWeeks(4), true
	case "LAST_12_WEEKS":
		return lastWeeks(12), true
	case "LAST_52_WEEKS":
		return lastWeeks(52), true
	}
	return nil, false
}

// ExpandPeriods replaces relative keywords with concrete codes, keeping
// order and dropping duplicates.
func ExpandPeriods(periods []string, now time.Time) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range periods {
		if expanded, ok := ExpandRelative(p, now); ok {
			for _, e := range expanded {
				add(e)
			}
			continue
		}
		add(p)
	}
	return out
}

// ExpandOrgUnits replaces USER_ORGUNIT keywords with the UIDs of the
// current user's org units (or their children / grandchildren). Concrete
// UIDs pass through. /api/me is only called when a keyword is present.
func (c *Client) ExpandOrgUnits(ctx context.Context, orgUnits []string) ([]string, error) {
	needsMe := false
	for _, ou := range orgUnits {
		switch strings.ToUpper(ou) {
		case UserOrgUnit, UserOrgUnitChildren, UserOrgUnitGrandchildren:
			needsMe = true
		}
	}
	if !needsMe {
		return orgUnits, nil
	}

	me, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, ou := range orgUnits {
		switch strings.ToUpper(ou) {
		case UserOrgUnit:
			for _, u := range me.OrganisationUnits {
				add(u.ID)
			}
		case UserOrgUnitChildren:
			for _, u := range me.OrganisationUnits {
				for _, ch := range u.Children {
					add(ch.ID)
				}
			}
		case UserOrgUnitGrandchildren:
			var children []string
			for _, u := range me.OrganisationUnits {
				for _, ch := range u.Children {
					children = append(children, ch.ID)
				}
			}
			grand, err := c.childrenOf(ctx, children)
			if err != nil {
				return nil, err
			}
			for _, id := range grand {
				add(id)
			}
		default:
			add(ou)
		}
	}
	return out, nil
}

// childrenOf returns the UIDs of the direct children of the given units.
func (c *Client) childrenOf(ctx context.Context, parents []string) ([]string, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	units, err := c.orgUnitsFiltered(ctx, "parent.id:in:["+strings.Join(parents, ",")+"]")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids, nil
}
