package types

// Axis names one DHIS2 analytics dimension.
type Axis string

const (
	AxisData    Axis = "dx"
	AxisPeriod  Axis = "pe"
	AxisOrgUnit Axis = "ou"
)

// Axes lists the analytics axes in resolution order.
var Axes = []Axis{AxisData, AxisPeriod, AxisOrgUnit}

// Dimensions are the resolved DHIS2 analytics parameters for one query.
type Dimensions struct {
	// DataElements holds data element / indicator UIDs (dx)
	DataElements []string `json:"dx,omitempty" yaml:"dx"`

	// Periods holds period codes, concrete or relative (pe)
	Periods []string `json:"pe,omitempty" yaml:"pe"`

	// OrgUnits holds organisation unit UIDs or keywords (ou)
	OrgUnits []string `json:"ou,omitempty" yaml:"ou"`

	// OUMode is the org-unit selection mode (SELECTED, CHILDREN, DESCENDANTS)
	OUMode string `json:"ouMode,omitempty" yaml:"ou_mode"`

	// Hierarchy requests org-unit hierarchy columns in the result
	Hierarchy bool `json:"hierarchy,omitempty" yaml:"hierarchy"`

	// DataSet is used by the dataValueSets endpoint
	DataSet string `json:"dataSet,omitempty" yaml:"data_set"`
}

// Get returns the values for an axis.
func (d Dimensions) Get(a Axis) []string {
	switch a {
	case AxisData:
		return d.DataElements
	case AxisPeriod:
		return d.Periods
	case AxisOrgUnit:
		return d.OrgUnits
	}
	return nil
}

// Set replaces the values for an axis.
func (d *Dimensions) Set(a Axis, values []string) {
	switch a {
	case AxisData:
		d.DataElements = values
	case AxisPeriod:
		d.Periods = values
	case AxisOrgUnit:
		d.OrgUnits = values
	}
}

// Has reports whether an axis has at least one value.
func (d Dimensions) Has(a Axis) bool {
	return len(d.Get(a)) > 0
}

// IsEmpty reports whether no axis has a value.
func (d Dimensions) IsEmpty() bool {
	for _, a := range Axes {
		if d.Has(a) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (d Dimensions) Clone() Dimensions {
	cp := d
	cp.DataElements = cloneStrings(d.DataElements)
	cp.Periods = cloneStrings(d.Periods)
	cp.OrgUnits = cloneStrings(d.OrgUnits)
	return cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
