package sanitize

// Entry is one display name to be mapped, with the UID it came from.
type Entry struct {
	UID         string
	DisplayName string
}

// Mapping holds display-name to sanitized-name pairs for one table.
type Mapping struct {
	byDisplay map[string]string
	byUID     map[string]string
	taken     map[string]string // sanitized name -> owning UID
	order     []string
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		byDisplay: make(map[string]string),
		byUID:     make(map[string]string),
		taken:     make(map[string]string),
	}
}

// BuildMapping sanitizes the entries in order, resolving collisions.
func BuildMapping(entries []Entry) *Mapping {
	m := NewMapping()
	for _, e := range entries {
		m.Add(e.UID, e.DisplayName)
	}
	return m
}

// Add registers a display name and returns its sanitized column name.
// When two different UIDs sanitize to the same name, the later one gets a
// "_<uid>" suffix. Re-adding the same UID returns the existing name.
func (m *Mapping) Add(uid, displayName string) string {
	if uid != "" {
		if name, ok := m.byUID[uid]; ok {
			return name
		}
	}

	name := Column(displayName)
	if owner, ok := m.taken[name]; ok && (owner != uid || uid == "") {
		if uid == "" {
			// no UID to disambiguate with; same display name maps to same column
			m.byDisplay[displayName] = name
			return name
		}
		name = Column(name + "_" + uid)
	}

	m.taken[name] = uid
	m.byDisplay[displayName] = name
	if uid != "" {
		m.byUID[uid] = name
	}
	m.order = append(m.order, name)
	return name
}

// Lookup returns the sanitized name for a display name.
func (m *Mapping) Lookup(displayName string) (string, bool) {
	name, ok := m.byDisplay[displayName]
	return name, ok
}

// ByUID returns the sanitized name assigned to a UID.
func (m *Mapping) ByUID(uid string) (string, bool) {
	name, ok := m.byUID[uid]
	return name, ok
}

// Names returns the sanitized names in insertion order.
func (m *Mapping) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// DisplayMap returns a copy of the display-name to sanitized-name map.
func (m *Mapping) DisplayMap() map[string]string {
	out := make(map[string]string, len(m.byDisplay))
	for k, v := range m.byDisplay {
		out[k] = v
	}
	return out
}
