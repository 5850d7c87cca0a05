package cluster

import "strings"

// UnitConfig is the operator-facing configuration of the unit.
type UnitConfig struct {
	Role               string
	Channel            string
	Addons             []string
	ContainerdEnv      string
	Registries         string
	DisableCertReissue bool
}

// Model identifies the deployment the unit belongs to.
type Model struct {
	Name string
	UUID string
}

// RemoteUnit is a unit on the other side of a relation and the data it
// published.
type RemoteUnit struct {
	ID       string
	Hostname string
	Address  string
}

// Relation is a typed view of one relation's data as seen by this unit.
// For peer relations LocalAppData and RemoteAppData hold the same map.
type Relation struct {
	ID            string
	Name          string
	RemoteApp     string
	LocalAppData  map[string]string
	RemoteAppData map[string]string
	LocalUnitData map[string]string
	Units         []RemoteUnit
}

// Unit returns the remote unit with the given ID.
func (r Relation) Unit(id string) (RemoteUnit, bool) {
	for _, u := range r.Units {
		if u.ID == id {
			return u, true
		}
	}
	return RemoteUnit{}, false
}

// PublishedJoinURL is the join URL this application published.
func (r Relation) PublishedJoinURL() (JoinURL, bool) {
	return ParseJoinURL(r.LocalAppData[KeyJoinURL])
}

// OfferedJoinURL is the join URL the remote application published.
func (r Relation) OfferedJoinURL() (JoinURL, bool) {
	return ParseJoinURL(r.RemoteAppData[KeyJoinURL])
}

// RemovalIntents is the remove_nodes set published by this application.
func (r Relation) RemovalIntents() RemovalIntents {
	return DecodeRemovalIntents(r.LocalAppData[KeyRemoveNodes])
}

// Observation is everything the reconciler may look at for one event.
type Observation struct {
	Unit      string
	App       string
	Hostname  string
	Address   string
	Leader    bool
	Config    UnitConfig
	Model     Model
	Relations []Relation
}

// RelationsNamed returns all relations on the given endpoint.
func (o Observation) RelationsNamed(name string) []Relation {
	var out []Relation
	for _, r := range o.Relations {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// Relation returns the first relation on the given endpoint.
func (o Observation) Relation(name string) (Relation, bool) {
	for _, r := range o.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// without drops the relation with the given ID. Relation-broken events are
// delivered while the broken relation may still be listed.
func (o Observation) without(id string) Observation {
	if id == "" {
		return o
	}
	out := o
	out.Relations = nil
	for _, r := range o.Relations {
		if r.ID != id {
			out.Relations = append(out.Relations, r)
		}
	}
	return out
}

// AppFromUnit returns "app" for a unit name "app/0".
func AppFromUnit(unit string) string {
	app, _, _ := strings.Cut(unit, "/")
	return app
}
