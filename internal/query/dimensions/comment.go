package dimensions

import (
	"strconv"
	"strings"

	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// CommentPrefix introduces a parameter override comment.
const CommentPrefix = "DHIS2:"

// Comment keys beyond the three axes.
const (
	keyOUMode    = "ouMode"
	keyHierarchy = "hierarchy"
	keyDataSet   = "dataSet"
)

// EncodeComment renders dimensions as an override comment:
//
//	/* DHIS2: dx=uid1;uid2&pe=2023&ou=uid3&ouMode=DESCENDANTS */
//
// Empty axes are omitted.
func EncodeComment(d types.Dimensions) string {
	return "/* " + CommentPrefix + " " + EncodeParams(d) + " */"
}

// EncodeParams renders the key=value body of an override comment.
func EncodeParams(d types.Dimensions) string {
	var parts []string
	for _, a := range types.Axes {
		if vals := d.Get(a); len(vals) > 0 {
			parts = append(parts, string(a)+"="+strings.Join(vals, ";"))
		}
	}
	if d.OUMode != "" {
		parts = append(parts, keyOUMode+"="+d.OUMode)
	}
	if d.Hierarchy {
		parts = append(parts, keyHierarchy+"=true")
	}
	if d.DataSet != "" {
		parts = append(parts, keyDataSet+"="+d.DataSet)
	}
	return strings.Join(parts, "&")
}

// ParseComment reads an override comment body. The leading "DHIS2:" marker
// and the surrounding /* */ are optional. Both the current form
// (dx=a;b&pe=2023) and the legacy single-list form (dx=a;b;pe=2023;ou=c)
// are accepted: a segment containing "=" starts a new key and a bare
// segment appends to the current one. ok is false when no known key is set.
func ParseComment(text string) (d types.Dimensions, ok bool) {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "/*")
	body = strings.TrimSuffix(body, "*/")
	body = strings.TrimSpace(body)
	if len(body) >= len(CommentPrefix) && strings.EqualFold(body[:len(CommentPrefix)], CommentPrefix) {
		body = strings.TrimSpace(body[len(CommentPrefix):])
	}

	var current string
	for _, group := range strings.Split(body, "&") {
		for _, seg := range strings.Split(group, ";") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			value := seg
			if i := strings.IndexByte(seg, '='); i >= 0 {
				current = strings.TrimSpace(seg[:i])
				value = strings.TrimSpace(seg[i+1:])
			}
			if current == "" || value == "" {
				continue
			}
			if applyParam(&d, current, value) {
				ok = true
			}
		}
	}
	return d, ok
}

// applyParam sets one key/value pair and reports whether the key is known.
func applyParam(d *types.Dimensions, key, value string) bool {
	switch {
	case strings.EqualFold(key, string(types.AxisData)):
		d.DataElements = append(d.DataElements, value)
	case strings.EqualFold(key, string(types.AxisPeriod)):
		d.Periods = append(d.Periods, value)
	case strings.EqualFold(key, string(types.AxisOrgUnit)):
		d.OrgUnits = append(d.OrgUnits, value)
	case strings.EqualFold(key, keyOUMode):
		d.OUMode = strings.ToUpper(value)
	case strings.EqualFold(key, keyHierarchy):
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		d.Hierarchy = b
	case strings.EqualFold(key, keyDataSet):
		d.DataSet = value
	default:
		return false
	}
	return true
}
