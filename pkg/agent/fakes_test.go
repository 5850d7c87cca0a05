package agent

import (
	"context"
	"fmt"
	"strings"

	"microk8s-operator/pkg/cluster"
)

type fakeNode struct {
	hostname string
	token    string
	status   cluster.Status
	errs     map[string]error
	calls    []string
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		hostname: "fakehostname",
		token:    "0123456789abcdef0123456789abcdef",
		status:   cluster.ActiveStatus("node is ready"),
		errs:     map[string]error{},
	}
}

func (n *fakeNode) call(name string, args ...string) error {
	c := strings.TrimSpace(name + " " + strings.Join(args, " "))
	n.calls = append(n.calls, c)
	return n.errs[c]
}

// count returns how often the call c was made.
func (n *fakeNode) count(c string) int {
	total := 0
	for _, got := range n.calls {
		if got == c {
			total++
		}
	}
	return total
}

func (n *fakeNode) InstallRequiredPackages(ctx context.Context) error {
	return n.call("install-packages")
}

func (n *fakeNode) Install(ctx context.Context, channel string) error {
	return n.call("install", channel)
}

func (n *fakeNode) WaitReady(ctx context.Context) error { return n.call("wait-ready") }
func (n *fakeNode) Uninstall(ctx context.Context) error { return n.call("uninstall") }

func (n *fakeNode) Join(ctx context.Context, url string, worker bool) error {
	if worker {
		return n.call("join", url, "--worker")
	}
	return n.call("join", url)
}

func (n *fakeNode) AddNode(ctx context.Context) (string, error) {
	if err := n.call("add-node"); err != nil {
		return "", err
	}
	return n.token, nil
}

func (n *fakeNode) RemoveNode(ctx context.Context, hostname string) error {
	return n.call("remove-node", hostname)
}

func (n *fakeNode) GetUnitStatus(ctx context.Context, hostname string) cluster.Status {
	n.call("status", hostname)
	return n.status
}

func (n *fakeNode) Hostname(ctx context.Context) (string, error) {
	return n.hostname, nil
}

func (n *fakeNode) ReconcileAddons(ctx context.Context, current, desired []string) error {
	return n.call("addons", fmt.Sprintf("%v->%v", current, desired))
}

func (n *fakeNode) SetContainerdEnv(ctx context.Context, env string) error {
	return n.call("containerd-env")
}

func (n *fakeNode) SetCertReissue(ctx context.Context, disable bool) error {
	return n.call("cert-reissue", fmt.Sprint(disable))
}

func (n *fakeNode) ConfigureRegistries(ctx context.Context, raw string) error {
	return n.call("registries")
}

func (n *fakeNode) ApplyObservabilityResources(ctx context.Context) error {
	return n.call("apply-observability")
}

func (n *fakeNode) CreateBearerToken(ctx context.Context) (string, error) {
	if err := n.call("bearer-token"); err != nil {
		return "", err
	}
	return "bearer", nil
}

type write struct {
	RelationID string
	Data       map[string]string
}

// fakeSubstrate applies writes to the observation it hands out, so
// consecutive events see what earlier events published.
type fakeSubstrate struct {
	obs cluster.Observation
	// rejectFollowerWrites makes application writes by a non-leader fail
	// the way the orchestrator does.
	rejectFollowerWrites bool
	errs                 map[string]error

	appWrites []write
	statuses  []cluster.Status
	ports     []int
}

func (s *fakeSubstrate) Observe(ctx context.Context) (cluster.Observation, error) {
	return s.obs, nil
}

func (s *fakeSubstrate) relation(id string) *cluster.Relation {
	for i := range s.obs.Relations {
		if s.obs.Relations[i].ID == id {
			return &s.obs.Relations[i]
		}
	}
	return nil
}

func apply(dst, data map[string]string) {
	for k, v := range data {
		if v == "" {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

func (s *fakeSubstrate) SetUnitData(ctx context.Context, relationID string, data map[string]string) error {
	if rel := s.relation(relationID); rel != nil {
		if rel.LocalUnitData == nil {
			rel.LocalUnitData = map[string]string{}
		}
		apply(rel.LocalUnitData, data)
	}
	return nil
}

func (s *fakeSubstrate) SetAppData(ctx context.Context, relationID string, data map[string]string) error {
	if !s.obs.Leader && s.rejectFollowerWrites {
		return cluster.ErrNotLeader
	}
	if err := s.errs[relationID]; err != nil {
		return err
	}
	s.appWrites = append(s.appWrites, write{RelationID: relationID, Data: data})
	if rel := s.relation(relationID); rel != nil {
		apply(rel.LocalAppData, data)
	}
	return nil
}

func (s *fakeSubstrate) OpenPort(ctx context.Context, port int, protocol string) error {
	s.ports = append(s.ports, port)
	return nil
}

func (s *fakeSubstrate) SetStatus(ctx context.Context, status cluster.Status) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeSubstrate) lastStatus() cluster.Status {
	if len(s.statuses) == 0 {
		return cluster.Status{}
	}
	return s.statuses[len(s.statuses)-1]
}

// appValues returns every value written under key to relationID.
func (s *fakeSubstrate) appValues(relationID, key string) []string {
	var out []string
	for _, w := range s.appWrites {
		if v, ok := w.Data[key]; ok && w.RelationID == relationID {
			out = append(out, v)
		}
	}
	return out
}
