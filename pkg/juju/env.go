package juju

import (
	"errors"
	"os"
	"path"
	"strings"

	"microk8s-operator/pkg/cluster"
)

// ErrUnhandledHook is returned for hooks the agent does not react to.
var ErrUnhandledHook = errors.New("unhandled hook")

// Env is the hook context passed by the unit agent.
type Env struct {
	UnitName      string
	ModelName     string
	ModelUUID     string
	DispatchPath  string
	HookName      string
	RelationName  string
	RelationID    string
	RemoteUnit    string
	RemoteApp     string
	DepartingUnit string
}

// EnvFrom reads the hook context with getenv.
func EnvFrom(getenv func(string) string) Env {
	return Env{
		UnitName:      getenv("JUJU_UNIT_NAME"),
		ModelName:     getenv("JUJU_MODEL_NAME"),
		ModelUUID:     getenv("JUJU_MODEL_UUID"),
		DispatchPath:  getenv("JUJU_DISPATCH_PATH"),
		HookName:      getenv("JUJU_HOOK_NAME"),
		RelationName:  getenv("JUJU_RELATION"),
		RelationID:    getenv("JUJU_RELATION_ID"),
		RemoteUnit:    getenv("JUJU_REMOTE_UNIT"),
		RemoteApp:     getenv("JUJU_REMOTE_APP"),
		DepartingUnit: getenv("JUJU_DEPARTING_UNIT"),
	}
}

// EnvFromOS reads the hook context of the current process.
func EnvFromOS() Env { return EnvFrom(os.Getenv) }

// App is the application of the local unit.
func (e Env) App() string { return cluster.AppFromUnit(e.UnitName) }

// Hook returns the name of the dispatched hook, e.g. "peer-relation-joined".
func (e Env) Hook() string {
	if e.DispatchPath != "" {
		return path.Base(e.DispatchPath)
	}
	return e.HookName
}

var relationKinds = map[string]cluster.EventKind{
	"-relation-joined":   cluster.EventRelationJoined,
	"-relation-changed":  cluster.EventRelationChanged,
	"-relation-departed": cluster.EventRelationDeparted,
	"-relation-broken":   cluster.EventRelationBroken,
}

// Event decodes the hook into a reconciler event.
func (e Env) Event() (cluster.Event, error) {
	hook := e.Hook()
	switch hook {
	case "install":
		return cluster.Event{Kind: cluster.EventInstall}, nil
	case "leader-elected", "leader-settings-changed":
		return cluster.Event{Kind: cluster.EventLeaderElected}, nil
	case "config-changed", "upgrade-charm":
		return cluster.Event{Kind: cluster.EventConfigChanged}, nil
	case "start", "update-status":
		return cluster.Event{Kind: cluster.EventUpdateStatus}, nil
	case "remove":
		return cluster.Event{Kind: cluster.EventRemove}, nil
	}

	for suffix, kind := range relationKinds {
		name, ok := strings.CutSuffix(hook, suffix)
		if !ok {
			continue
		}
		if e.RelationName != "" {
			name = e.RelationName
		}
		return cluster.Event{
			Kind:          kind,
			RelationName:  name,
			RelationID:    e.RelationID,
			Unit:          e.RemoteUnit,
			DepartingUnit: e.DepartingUnit,
		}, nil
	}
	return cluster.Event{}, ErrUnhandledHook
}
