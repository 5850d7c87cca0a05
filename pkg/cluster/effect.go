package cluster

// Effect is an external action requested by the reconciler. Effects are
// executed in order by the agent.
type Effect interface {
	isEffect()
}

// InstallPackages installs host packages MicroK8s addons rely on.
type InstallPackages struct{}

// Install installs MicroK8s from Channel (default channel if empty).
type Install struct{ Channel string }

// WaitReady blocks until the local node reports ready.
type WaitReady struct{}

// Uninstall removes MicroK8s from the node.
type Uninstall struct{}

// OpenPort opens a port on the unit.
type OpenPort struct {
	Port     int
	Protocol string
}

// Join joins the node to an existing cluster.
type Join struct {
	URL    JoinURL
	Worker bool
}

// MintJoinToken creates a join token and publishes the join URL into the
// relation's application data on behalf of Units.
type MintJoinToken struct {
	RelationID string
	Address    string
	Port       int
	Units      []string
}

// RemoveNode removes hostname from the cluster. If removal fails the
// hostname is queued in RelationID's remove_nodes for a later retry.
type RemoveNode struct {
	RelationID string
	Hostname   string
}

// DrainRemovalIntents removes every hostname in Remove, then publishes Keep
// plus any hostname that could not be removed.
type DrainRemovalIntents struct {
	RelationID string
	Remove     []string
	Keep       RemovalIntents
}

// PublishRemovalIntents writes remove_nodes into the relation's application
// data. A non-leader write may be rejected by the relation store.
type PublishRemovalIntents struct {
	RelationID string
	Intents    RemovalIntents
}

// PublishUnitData writes keys into this unit's relation data.
type PublishUnitData struct {
	RelationID string
	Data       map[string]string
}

// ReconcileAddons moves the enabled addons from Current to Desired.
type ReconcileAddons struct {
	Current []string
	Desired []string
}

// SetContainerdEnv writes the containerd environment file.
type SetContainerdEnv struct{ Env string }

// SetCertReissue toggles automatic certificate re-issue.
type SetCertReissue struct{ Disable bool }

// ConfigureRegistries writes containerd registry configuration from the
// raw JSON registry list.
type ConfigureRegistries struct{ Registries string }

// ScrapeTarget is a node metrics are collected from.
type ScrapeTarget struct {
	Unit     string
	Hostname string
	Address  string
}

// PublishScrapeJobs builds scrape jobs for the given nodes and publishes
// them to every metrics relation.
type PublishScrapeJobs struct {
	RelationIDs    []string
	ApplyResources bool
	ControlPlane   []ScrapeTarget
	Workers        []ScrapeTarget
	Model          Model
	App            string
}

func (InstallPackages) isEffect()       {}
func (Install) isEffect()               {}
func (WaitReady) isEffect()             {}
func (Uninstall) isEffect()             {}
func (OpenPort) isEffect()              {}
func (Join) isEffect()                  {}
func (MintJoinToken) isEffect()         {}
func (RemoveNode) isEffect()            {}
func (DrainRemovalIntents) isEffect()   {}
func (PublishRemovalIntents) isEffect() {}
func (PublishUnitData) isEffect()       {}
func (ReconcileAddons) isEffect()       {}
func (SetContainerdEnv) isEffect()      {}
func (SetCertReissue) isEffect()        {}
func (ConfigureRegistries) isEffect()   {}
func (PublishScrapeJobs) isEffect()     {}
