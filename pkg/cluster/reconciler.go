package cluster

import (
	"errors"
	"fmt"
)

// Result is the outcome of reconciling one event.
type Result struct {
	// State is the state to persist once the effects were issued.
	State State
	// Role is the role the unit acted as.
	Role    Role
	Effects []Effect
	// Err is a ConfigurationError. The unit is blocked while it is set.
	Err error
	// Warnings are non-fatal problems found while planning.
	Warnings []error
}

// Reconcile computes the next state of a unit and the effects that converge
// the cluster towards it after ev. It performs no I/O.
//
// Only the leader mutates cluster membership. A unit that observes a
// departure without leadership queues the hostname in the peer relation's
// remove_nodes set and in its own pending removals. The leader drains both
// on every event it handles.
func Reconcile(prev State, obs Observation, ev Event) Result {
	if ev.Kind == EventRelationBroken {
		obs = obs.without(ev.RelationID)
	}
	res := Result{State: prev.Clone()}
	r := &reconciler{obs: obs, ev: ev, res: &res, st: &res.State}

	if ev.Kind == EventRemove {
		r.emit(Uninstall{})
		r.st.reset()
		res.Role = r.st.Role
		return res
	}
	if !r.resolveRole() {
		return res
	}
	if r.role.IsControlPlane() {
		r.controlPlane()
	} else {
		r.worker()
	}
	res.Role = r.role
	return res
}

type reconciler struct {
	obs     Observation
	ev      Event
	res     *Result
	st      *State
	role    Role
	blocked bool

	peer    Relation
	hasPeer bool
	// intents is the working copy of the peer relation's remove_nodes.
	intents        RemovalIntents
	intentsChanged bool
}

func (r *reconciler) emit(effects ...Effect) {
	r.res.Effects = append(r.res.Effects, effects...)
}

func (r *reconciler) warn(err error) {
	r.res.Warnings = append(r.res.Warnings, err)
}

// resolveRole picks the role to act as. The role recorded at install wins
// once the unit joined; a different configured role blocks the unit but
// membership bookkeeping keeps running under the recorded role.
func (r *reconciler) resolveRole() bool {
	configured, err := ParseRole(r.obs.Config.Role)
	switch {
	case !r.st.Installed:
		if err != nil {
			r.res.Err = err
			return false
		}
		r.role = configured
	case err != nil:
		r.res.Err = err
		r.blocked = true
		r.role = r.st.Role
	case r.st.Joined && configured != r.st.Role:
		r.res.Err = &ConfigurationError{
			Reason: fmt.Sprintf("role cannot change from %q to %q after joining the cluster", r.st.Role, configured),
		}
		r.blocked = true
		r.role = r.st.Role
	default:
		r.role = configured
		r.st.Role = configured
	}
	return true
}

func (r *reconciler) install(openPorts bool) {
	r.emit(InstallPackages{}, Install{Channel: r.obs.Config.Channel}, WaitReady{})
	if openPorts {
		r.emit(OpenPort{Port: APIServerPort, Protocol: "tcp"})
	}
	r.st.Installed = true
	r.st.Role = r.role
}

func (r *reconciler) publishHostname(rel Relation) {
	if r.obs.Hostname == "" || rel.LocalUnitData[KeyHostname] == r.obs.Hostname {
		return
	}
	r.emit(PublishUnitData{RelationID: rel.ID, Data: map[string]string{KeyHostname: r.obs.Hostname}})
}

func (r *reconciler) controlPlane() {
	installedNow := false
	if !r.st.Installed {
		r.install(true)
		installedNow = true
	}

	r.peer, r.hasPeer = r.obs.Relation(RelationPeer)
	if r.hasPeer {
		r.publishHostname(r.peer)
		r.intents = r.peer.RemovalIntents()
	}

	r.track()
	r.depart()

	if !r.st.Joined && !r.blocked {
		r.joinControlPlane()
	}
	if r.st.Joined && r.obs.Leader {
		r.mintJoinTokens()
		if !r.blocked {
			r.reconcileAddons()
		}
	}
	r.flushRemovalIntents()
	if r.st.Joined && r.obs.Leader {
		r.publishScrapeJobs()
	}
	r.configure(installedNow)
}

func isMembershipRelation(name string) bool {
	return name == RelationPeer || name == RelationWorkers
}

func (r *reconciler) eventRelation() (Relation, bool) {
	for _, rel := range r.obs.Relations {
		if r.ev.RelationID != "" && rel.ID == r.ev.RelationID {
			return rel, true
		}
	}
	if r.ev.RelationID == "" {
		return r.obs.Relation(r.ev.RelationName)
	}
	return Relation{}, false
}

// track records the hostname of the unit the event is about.
func (r *reconciler) track() {
	if !isMembershipRelation(r.ev.RelationName) {
		return
	}
	if r.ev.Kind != EventRelationJoined && r.ev.Kind != EventRelationChanged {
		return
	}
	rel, ok := r.eventRelation()
	if !ok {
		return
	}
	u, ok := rel.Unit(r.ev.Unit)
	if !ok {
		return
	}
	// A hostname seen for the first time is a request for a join URL.
	if !r.st.Hostnames.Observe(u.ID, u.Hostname) {
		return
	}
	r.st.Pending = r.st.Pending.Without(u.Hostname)
	if r.obs.Leader && !r.st.Issued[u.ID] {
		r.st.Requested[u.ID] = true
	}
}

func (r *reconciler) depart() {
	if r.ev.Kind != EventRelationDeparted || !isMembershipRelation(r.ev.RelationName) {
		return
	}
	unit := r.ev.departing()
	if unit == r.obs.Unit {
		// A unit never removes itself. Whoever leads next removes it.
		if r.ev.RelationName == RelationPeer {
			r.queueRemoval(r.obs.Hostname)
		}
		return
	}

	delete(r.st.Issued, unit)
	delete(r.st.Requested, unit)
	hostname, ok := r.st.Hostnames.Depart(unit)
	if !ok || hostname == r.obs.Hostname {
		return
	}
	if r.obs.Leader && r.st.Joined {
		r.emit(RemoveNode{RelationID: r.peer.ID, Hostname: hostname})
		r.st.Pending = r.st.Pending.Without(hostname)
		if r.intents.Contains(hostname) {
			r.intents = r.intents.Without(hostname)
			r.intentsChanged = true
		}
		return
	}
	r.queueRemoval(hostname)
}

// queueRemoval records hostname for the next leader. The peer relation's
// remove_nodes only accepts writes from the leader, so the hostname is also
// kept in this unit's own state in case it leads next.
func (r *reconciler) queueRemoval(hostname string) {
	if hostname == "" {
		return
	}
	if hostname != r.obs.Hostname {
		r.st.Pending = r.st.Pending.Append(hostname)
	}
	if !r.hasPeer || r.intents.Contains(hostname) {
		return
	}
	r.intents = r.intents.Append(hostname)
	r.intentsChanged = true
}

func (r *reconciler) joinControlPlane() {
	url, ok := r.peer.PublishedJoinURL()
	switch {
	case r.hasPeer && ok:
		r.emit(Join{URL: url}, WaitReady{})
		r.st.Joined = true
	case r.obs.Leader:
		// First control plane node: installing formed the cluster.
		r.st.Joined = true
	}
}

// mintJoinTokens publishes one join URL per relation for the units that
// asked for one. A unit asks by publishing its hostname while this unit
// leads; units already present when leadership arrived are served by the
// join URL the previous leader published.
func (r *reconciler) mintJoinTokens() {
	for _, rel := range r.obs.Relations {
		if !isMembershipRelation(rel.Name) {
			continue
		}
		_, published := rel.PublishedJoinURL()
		var units []string
		for _, u := range rel.Units {
			if _, known := r.st.Hostnames.Hostname(u.ID); !known || r.st.Issued[u.ID] {
				continue
			}
			if published && !r.st.Requested[u.ID] {
				continue
			}
			units = append(units, u.ID)
		}
		if len(units) == 0 {
			continue
		}
		if r.obs.Address == "" {
			r.warn(&ReconciliationError{Op: "mint join token for", Item: rel.ID, Err: errors.New("unit address is unknown")})
			continue
		}
		for _, u := range units {
			r.st.Issued[u] = true
			delete(r.st.Requested, u)
		}
		r.emit(MintJoinToken{RelationID: rel.ID, Address: r.obs.Address, Port: JoinPort, Units: units})
	}
}

func (r *reconciler) reconcileAddons() {
	desired := r.obs.Config.Addons
	if equalStrings(desired, r.st.Addons) {
		return
	}
	r.emit(ReconcileAddons{
		Current: append([]string(nil), r.st.Addons...),
		Desired: append([]string(nil), desired...),
	})
	r.st.Addons = append([]string(nil), desired...)
}

// flushRemovalIntents drains remove_nodes and the hostnames this unit kept
// pending when leading, or publishes the hostnames queued by this event
// otherwise.
func (r *reconciler) flushRemovalIntents() {
	if r.obs.Leader && r.st.Joined {
		var remove, keep RemovalIntents
		for _, h := range append(append(RemovalIntents(nil), r.intents...), r.st.Pending...) {
			if h == r.obs.Hostname {
				keep = keep.Append(h)
				continue
			}
			remove = remove.Append(h)
		}
		r.st.Pending = nil
		if len(remove) > 0 {
			r.emit(DrainRemovalIntents{RelationID: r.peer.ID, Remove: remove, Keep: keep})
			return
		}
	}
	if r.hasPeer && r.intentsChanged {
		r.emit(PublishRemovalIntents{RelationID: r.peer.ID, Intents: r.intents})
	}
}

func (r *reconciler) scrapeTrigger() bool {
	switch r.ev.Kind {
	case EventLeaderElected:
		return true
	case EventRelationJoined, EventRelationDeparted, EventRelationBroken:
		return isMembershipRelation(r.ev.RelationName) || r.ev.RelationName == RelationMetrics
	case EventRelationChanged:
		return isMembershipRelation(r.ev.RelationName)
	}
	return false
}

func (r *reconciler) publishScrapeJobs() {
	rels := r.obs.RelationsNamed(RelationMetrics)
	if len(rels) == 0 || !r.scrapeTrigger() {
		return
	}
	eff := PublishScrapeJobs{
		ApplyResources: r.ev.Kind == EventLeaderElected ||
			(r.ev.Kind == EventRelationJoined && r.ev.RelationName == RelationMetrics),
		ControlPlane: []ScrapeTarget{{Unit: r.obs.Unit, Hostname: r.obs.Hostname, Address: r.obs.Address}},
		Model:        r.obs.Model,
		App:          r.obs.App,
	}
	for _, rel := range rels {
		eff.RelationIDs = append(eff.RelationIDs, rel.ID)
	}
	eff.ControlPlane = append(eff.ControlPlane, scrapeTargets(r.peer.Units)...)
	for _, rel := range r.obs.RelationsNamed(RelationWorkers) {
		eff.Workers = append(eff.Workers, scrapeTargets(rel.Units)...)
	}
	r.emit(eff)
}

func scrapeTargets(units []RemoteUnit) []ScrapeTarget {
	var out []ScrapeTarget
	for _, u := range units {
		if u.Hostname == "" || u.Address == "" {
			continue
		}
		out = append(out, ScrapeTarget{Unit: u.ID, Hostname: u.Hostname, Address: u.Address})
	}
	return out
}

func (r *reconciler) worker() {
	cps := r.obs.RelationsNamed(RelationControlPlane)
	hasControlPlane := false
	for _, rel := range cps {
		if len(rel.Units) > 0 {
			hasControlPlane = true
		}
	}

	installedNow := false
	if !r.st.Installed {
		if r.blocked || (r.ev.Kind != EventInstall && !hasControlPlane) {
			return
		}
		r.install(false)
		installedNow = true
	}

	for _, rel := range cps {
		r.publishHostname(rel)
	}

	if r.st.Joined && !hasControlPlane && r.lostControlPlane() {
		// A worker cannot stay in a cluster it has no way to reach.
		r.emit(Uninstall{})
		r.st.reset()
		return
	}

	if !r.st.Joined && !r.blocked {
		for _, rel := range cps {
			if url, ok := rel.OfferedJoinURL(); ok {
				r.emit(Join{URL: url, Worker: true}, WaitReady{})
				r.st.Joined = true
				break
			}
		}
	}
	r.configure(installedNow)
}

func (r *reconciler) lostControlPlane() bool {
	if r.ev.RelationName != RelationControlPlane {
		return false
	}
	return r.ev.Kind == EventRelationBroken || r.ev.Kind == EventRelationDeparted
}

// configure applies the plain config-to-action mappings.
func (r *reconciler) configure(installedNow bool) {
	if r.blocked || !(installedNow || r.ev.Kind == EventConfigChanged) {
		return
	}
	r.emit(SetContainerdEnv{Env: r.obs.Config.ContainerdEnv})
	if r.obs.Config.Registries != "" {
		r.emit(ConfigureRegistries{Registries: r.obs.Config.Registries})
	}
	if r.role.IsControlPlane() {
		r.emit(SetCertReissue{Disable: r.st.Joined && r.obs.Config.DisableCertReissue})
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
