package cluster

// Membership maps unit IDs to the hostname each unit published. A unit that
// has not published a hostname yet has no entry.
type Membership map[string]string

// Observe records hostname for unit and reports whether the table changed.
// An empty hostname is ignored; the unit will publish it later.
func (m Membership) Observe(unit, hostname string) bool {
	if unit == "" || hostname == "" {
		return false
	}
	if m[unit] == hostname {
		return false
	}
	m[unit] = hostname
	return true
}

// Depart removes unit from the table. It returns the hostname to remove
// downstream, or false if the unit never published one.
func (m Membership) Depart(unit string) (string, bool) {
	hostname, ok := m[unit]
	if !ok {
		return "", false
	}
	delete(m, unit)
	return hostname, true
}

// Hostname returns the hostname published by unit.
func (m Membership) Hostname(unit string) (string, bool) {
	h, ok := m[unit]
	return h, ok
}

// Identities returns the table sorted by unit ID.
func (m Membership) Identities() []NodeIdentity {
	out := make([]NodeIdentity, 0, len(m))
	for _, unit := range sortedKeys(m) {
		out = append(out, NodeIdentity{UnitID: unit, Hostname: m[unit]})
	}
	return out
}
