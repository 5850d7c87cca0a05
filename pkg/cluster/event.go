package cluster

// EventKind enumerates the events a unit reacts to.
type EventKind string

const (
	EventInstall          EventKind = "install"
	EventLeaderElected    EventKind = "leader-elected"
	EventRelationJoined   EventKind = "relation-joined"
	EventRelationChanged  EventKind = "relation-changed"
	EventRelationDeparted EventKind = "relation-departed"
	EventRelationBroken   EventKind = "relation-broken"
	EventConfigChanged    EventKind = "config-changed"
	EventUpdateStatus     EventKind = "update-status"
	EventRemove           EventKind = "remove"
)

// IsRelation reports whether the event is scoped to a relation.
func (k EventKind) IsRelation() bool {
	switch k {
	case EventRelationJoined, EventRelationChanged, EventRelationDeparted, EventRelationBroken:
		return true
	}
	return false
}

// Event is one delivery from the orchestrator.
type Event struct {
	Kind EventKind
	// RelationName and RelationID are set for relation events.
	RelationName string
	RelationID   string
	// Unit is the remote unit the event is about, if any.
	Unit string
	// DepartingUnit is set on relation-departed and may name this unit.
	DepartingUnit string
}

func (e Event) departing() string {
	if e.DepartingUnit != "" {
		return e.DepartingUnit
	}
	return e.Unit
}
