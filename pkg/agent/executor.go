package agent

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"microk8s-operator/pkg/cluster"
	"microk8s-operator/pkg/metrics"
)

// executor runs the effects of one reconciliation in order.
type executor struct {
	node NodeControl
	sub  Substrate
	log  logrus.FieldLogger
	obs  cluster.Observation
	res  *cluster.Result

	bootstrap error
	config    error
	failures  []error

	// requeue holds hostnames whose removal failed, per relation.
	requeue map[string][]string
	// intents is the last remove_nodes value written, per relation.
	intents map[string]cluster.RemovalIntents
}

func (x *executor) fail(op, item string, err error) {
	recErr := &cluster.ReconciliationError{Op: op, Item: item, Err: err}
	x.log.WithError(recErr).Warn("Reconciliation step failed")
	x.failures = append(x.failures, recErr)
}

func (x *executor) run(ctx context.Context) {
	for _, e := range x.res.Effects {
		x.apply(ctx, e)
		if x.bootstrap != nil {
			return
		}
	}
	x.flushRequeue(ctx)
}

func (x *executor) apply(ctx context.Context, e cluster.Effect) {
	switch e := e.(type) {
	case cluster.InstallPackages:
		if err := x.node.InstallRequiredPackages(ctx); err != nil {
			x.log.WithError(err).Warn("Some required packages are missing")
		}
	case cluster.Install:
		if err := x.node.Install(ctx, e.Channel); err != nil {
			x.bootstrap = &cluster.BootstrapError{Op: "install MicroK8s", Err: err}
		}
	case cluster.WaitReady:
		if err := x.node.WaitReady(ctx); err != nil {
			x.bootstrap = &cluster.BootstrapError{Op: "wait for MicroK8s to become ready", Err: err}
		}
	case cluster.Join:
		if err := x.node.Join(ctx, e.URL.String(), e.Worker); err != nil {
			x.bootstrap = &cluster.BootstrapError{Op: "join cluster", Err: err}
		}
	case cluster.Uninstall:
		if err := x.node.Uninstall(ctx); err != nil {
			x.bootstrap = &cluster.BootstrapError{Op: "uninstall MicroK8s", Err: err}
		}
	case cluster.OpenPort:
		if err := x.sub.OpenPort(ctx, e.Port, e.Protocol); err != nil {
			x.fail("open port", e.Protocol, err)
		}
	case cluster.PublishUnitData:
		if err := x.sub.SetUnitData(ctx, e.RelationID, e.Data); err != nil {
			x.fail("publish unit data to", e.RelationID, err)
		}
	case cluster.MintJoinToken:
		x.mint(ctx, e)
	case cluster.RemoveNode:
		if !x.removeNode(ctx, e.Hostname) {
			x.requeueRemoval(e.RelationID, e.Hostname)
		}
	case cluster.DrainRemovalIntents:
		keep := e.Keep
		for _, h := range e.Remove {
			if !x.removeNode(ctx, h) {
				keep = keep.Append(h)
				x.res.State.Pending = x.res.State.Pending.Append(h)
			}
		}
		if e.RelationID != "" {
			x.publishIntents(ctx, e.RelationID, keep)
		}
	case cluster.PublishRemovalIntents:
		x.publishIntents(ctx, e.RelationID, e.Intents)
	case cluster.ReconcileAddons:
		if err := x.node.ReconcileAddons(ctx, e.Current, e.Desired); err != nil {
			x.fail("reconcile addons", "", err)
			x.res.State.Addons = append([]string(nil), e.Current...)
		}
	case cluster.SetContainerdEnv:
		if err := x.node.SetContainerdEnv(ctx, e.Env); err != nil {
			x.fail("set containerd environment", "", err)
		}
	case cluster.SetCertReissue:
		if err := x.node.SetCertReissue(ctx, e.Disable); err != nil {
			x.fail("configure certificate re-issue", "", err)
		}
	case cluster.ConfigureRegistries:
		err := x.node.ConfigureRegistries(ctx, e.Registries)
		var cfgErr *cluster.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			x.config = cfgErr
		case err != nil:
			x.fail("configure registries", "", err)
		}
	case cluster.PublishScrapeJobs:
		x.publishScrapeJobs(ctx, e)
	default:
		x.log.Errorf("Unknown effect %T", e)
	}
}

func (x *executor) mint(ctx context.Context, e cluster.MintJoinToken) {
	err := func() error {
		token, err := x.node.AddNode(ctx)
		if err != nil {
			return err
		}
		url := cluster.JoinURL{Address: e.Address, Port: e.Port, Token: token}
		return x.sub.SetAppData(ctx, e.RelationID, map[string]string{cluster.KeyJoinURL: url.String()})
	}()
	if err == nil {
		x.log.WithField("units", e.Units).Info("Published join url")
		return
	}
	x.fail("mint join token for", e.RelationID, err)
	for _, u := range e.Units {
		delete(x.res.State.Issued, u)
		x.res.State.Requested[u] = true
	}
}

// removeNode reports whether hostname is gone from the cluster.
func (x *executor) removeNode(ctx context.Context, hostname string) bool {
	err := x.node.RemoveNode(ctx, hostname)
	switch {
	case err == nil:
		return true
	case errors.Is(err, cluster.ErrNodeNotFound):
		x.log.WithField("node", hostname).Info("Node already removed")
		return true
	}
	x.fail("remove node", hostname, err)
	return false
}

// requeueRemoval keeps hostname pending in the unit state and queues it in
// the relation's remove_nodes when there is one.
func (x *executor) requeueRemoval(relationID, hostname string) {
	x.res.State.Pending = x.res.State.Pending.Append(hostname)
	if relationID == "" {
		x.log.WithField("node", hostname).Info("No peer relation, node removal stays pending")
		return
	}
	if x.requeue == nil {
		x.requeue = map[string][]string{}
	}
	x.requeue[relationID] = append(x.requeue[relationID], hostname)
}

func (x *executor) publishIntents(ctx context.Context, relationID string, intents cluster.RemovalIntents) {
	err := x.sub.SetAppData(ctx, relationID, map[string]string{cluster.KeyRemoveNodes: intents.Encode()})
	switch {
	case err == nil:
		if x.intents == nil {
			x.intents = map[string]cluster.RemovalIntents{}
		}
		x.intents[relationID] = intents
	case isNotLeader(err):
		x.log.WithField("remove_nodes", intents).Info("Not the leader, leader will handle removal")
	default:
		x.fail("publish remove_nodes to", relationID, err)
	}
}

// flushRequeue queues failed direct removals so the leader retries them.
func (x *executor) flushRequeue(ctx context.Context) {
	for relationID, hostnames := range x.requeue {
		intents, ok := x.intents[relationID]
		if !ok {
			for _, rel := range x.obs.Relations {
				if rel.ID == relationID {
					intents = rel.RemovalIntents()
				}
			}
		}
		for _, h := range hostnames {
			intents = intents.Append(h)
		}
		x.publishIntents(ctx, relationID, intents)
	}
}

func scrapeNodes(targets []cluster.ScrapeTarget) []metrics.Node {
	var out []metrics.Node
	for _, t := range targets {
		if t.Hostname == "" || t.Address == "" {
			continue
		}
		out = append(out, metrics.Node{Hostname: t.Hostname, Address: t.Address})
	}
	return out
}

func (x *executor) publishScrapeJobs(ctx context.Context, e cluster.PublishScrapeJobs) {
	if e.ApplyResources {
		if err := x.node.ApplyObservabilityResources(ctx); err != nil {
			x.fail("apply observability resources", "", err)
		}
	}
	token, err := x.node.CreateBearerToken(ctx)
	if err != nil {
		// the previously published jobs stay in place
		x.fail("create bearer token", "", err)
		return
	}
	jobs := metrics.BuildScrapeJobs(token, scrapeNodes(e.ControlPlane), scrapeNodes(e.Workers))
	data, err := metrics.RelationData(jobs, metrics.Metadata{Model: e.Model.Name, ModelUUID: e.Model.UUID, Application: e.App})
	if err != nil {
		x.fail("encode scrape jobs", "", err)
		return
	}
	for _, id := range e.RelationIDs {
		if err := x.sub.SetAppData(ctx, id, data); err != nil {
			x.fail("publish scrape jobs to", id, err)
		}
	}
}
