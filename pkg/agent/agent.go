// Package agent executes reconciler effects against the node and the
// orchestrator and reports the resulting unit status.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"microk8s-operator/pkg/cluster"
)

// NodeControl manages the local MicroK8s node.
type NodeControl interface {
	InstallRequiredPackages(ctx context.Context) error
	Install(ctx context.Context, channel string) error
	WaitReady(ctx context.Context) error
	Uninstall(ctx context.Context) error
	Join(ctx context.Context, url string, worker bool) error
	AddNode(ctx context.Context) (string, error)
	RemoveNode(ctx context.Context, hostname string) error
	GetUnitStatus(ctx context.Context, hostname string) cluster.Status
	Hostname(ctx context.Context) (string, error)

	ReconcileAddons(ctx context.Context, current, desired []string) error
	SetContainerdEnv(ctx context.Context, env string) error
	SetCertReissue(ctx context.Context, disable bool) error
	ConfigureRegistries(ctx context.Context, raw string) error

	ApplyObservabilityResources(ctx context.Context) error
	CreateBearerToken(ctx context.Context) (string, error)
}

// Substrate is the orchestrator: relation data, ports and unit status.
type Substrate interface {
	Observe(ctx context.Context) (cluster.Observation, error)
	SetUnitData(ctx context.Context, relationID string, data map[string]string) error
	// SetAppData fails with cluster.ErrNotLeader unless the unit leads.
	SetAppData(ctx context.Context, relationID string, data map[string]string) error
	OpenPort(ctx context.Context, port int, protocol string) error
	SetStatus(ctx context.Context, status cluster.Status) error
}

// StateStore persists the unit's cluster state between events.
type StateStore interface {
	Load(ctx context.Context) (cluster.State, error)
	Save(ctx context.Context, state cluster.State) error
	Clear(ctx context.Context) error
}

// Agent handles one event at a time for the local unit.
type Agent struct {
	node  NodeControl
	sub   Substrate
	store StateStore
	log   logrus.FieldLogger
}

func New(node NodeControl, sub Substrate, store StateStore, log logrus.FieldLogger) *Agent {
	return &Agent{node: node, sub: sub, store: store, log: log}
}

// Handle reconciles ev. It returns an error only when the event has to be
// redelivered: the state is then left as it was before the event.
func (a *Agent) Handle(ctx context.Context, ev cluster.Event) error {
	log := a.log.WithField("event", ev.Kind)
	if ev.RelationID != "" {
		log = log.WithField("relation", ev.RelationID)
	}

	state, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	obs, err := a.sub.Observe(ctx)
	if err != nil {
		return fmt.Errorf("failed to observe relations: %w", err)
	}
	if obs.Hostname, err = a.node.Hostname(ctx); err != nil {
		log.WithError(err).Warn("Hostname unknown")
	}
	log = log.WithField("hostname", obs.Hostname)

	res := cluster.Reconcile(state, obs, ev)
	for _, w := range res.Warnings {
		log.WithError(w).Warn("Reconciliation incomplete")
	}
	if res.Err != nil {
		log.WithError(res.Err).Error("Unit is blocked")
	}

	x := &executor{node: a.node, sub: a.sub, log: log, obs: obs, res: &res}
	x.run(ctx)
	if x.bootstrap != nil {
		log.WithError(x.bootstrap).Error("Bootstrap failed")
		a.setStatus(ctx, log, cluster.BlockedStatus(x.bootstrap.Error()))
		return x.bootstrap
	}

	if ev.Kind == cluster.EventRemove {
		return a.store.Clear(ctx)
	}
	if err := a.store.Save(ctx, res.State); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	a.setStatus(ctx, log, a.status(ctx, obs, res, x))
	return nil
}

func (a *Agent) setStatus(ctx context.Context, log logrus.FieldLogger, s cluster.Status) {
	log.WithField("status", s.String()).Debug("Set unit status")
	if err := a.sub.SetStatus(ctx, s); err != nil {
		log.WithError(err).Warn("Failed to set unit status")
	}
}

// status projects the outcome of an event onto the unit status.
func (a *Agent) status(ctx context.Context, obs cluster.Observation, res cluster.Result, x *executor) cluster.Status {
	switch {
	case x.config != nil:
		return cluster.BlockedStatus(x.config.Error())
	case res.Err != nil:
		return cluster.BlockedStatus(res.Err.Error())
	case !res.State.Installed:
		return cluster.WaitingStatus("waiting for control plane relation")
	case !res.State.Joined:
		if res.Role == cluster.RoleWorker && len(obs.RelationsNamed(cluster.RelationControlPlane)) == 0 {
			return cluster.WaitingStatus("waiting for control plane relation")
		}
		return cluster.WaitingStatus("waiting for join url")
	case len(x.failures) > 0:
		msg := x.failures[0].Error()
		if n := len(x.failures) - 1; n > 0 {
			msg = fmt.Sprintf("%s (and %d more)", msg, n)
		}
		return cluster.WaitingStatus(msg)
	}
	return a.node.GetUnitStatus(ctx, obs.Hostname)
}

func isNotLeader(err error) bool { return errors.Is(err, cluster.ErrNotLeader) }
