package cluster

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Role is the cluster role a unit is configured with.
type Role string

const (
	// RoleUnset is the empty role. It behaves as a control plane node.
	RoleUnset        Role = ""
	RoleControlPlane Role = "control-plane"
	RoleWorker       Role = "worker"
)

// ParseRole validates a configured role value.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUnset, RoleControlPlane, RoleWorker:
		return r, nil
	}
	return RoleUnset, &ConfigurationError{Reason: fmt.Sprintf("invalid role %q", s)}
}

// IsControlPlane reports whether nodes of this role run the control plane.
func (r Role) IsControlPlane() bool { return r != RoleWorker }

// Relation endpoint names.
const (
	RelationPeer         = "peer"
	RelationWorkers      = "workers"
	RelationControlPlane = "control-plane"
	RelationMetrics      = "metrics"
)

// Relation data keys.
const (
	KeyHostname       = "hostname"
	KeyPrivateAddress = "private-address"
	KeyJoinURL        = "join_url"
	KeyRemoveNodes    = "remove_nodes"
	KeyScrapeJobs     = "scrape_jobs"
	KeyScrapeMetadata = "scrape_metadata"
)

const (
	// JoinPort is the cluster agent port join URLs point at.
	JoinPort = 25000
	// JoinTokenTTL bounds how long an unused join token stays valid.
	JoinTokenTTL = 7200 * time.Second
	// APIServerPort is opened on control plane nodes.
	APIServerPort = 16443
)

// NodeIdentity is the hostname a unit publishes for itself.
type NodeIdentity struct {
	UnitID   string `json:"unit"`
	Hostname string `json:"hostname"`
}

// JoinURL is the address:port/token string a node joins with.
type JoinURL struct {
	Address string
	Port    int
	Token   string
}

func (u JoinURL) String() string {
	return net.JoinHostPort(u.Address, strconv.Itoa(u.Port)) + "/" + u.Token
}

// ParseJoinURL parses "address:port/token". Anything else is reported as
// not available rather than as an error, since peers publish lazily.
func ParseJoinURL(s string) (JoinURL, bool) {
	hostport, token, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || token == "" || strings.ContainsAny(token, "/ ") {
		return JoinURL{}, false
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil || host == "" {
		return JoinURL{}, false
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return JoinURL{}, false
	}
	return JoinURL{Address: host, Port: p, Token: token}, true
}

// RemovalIntents is the ordered set of hostnames waiting for a leader to
// remove them from the cluster.
type RemovalIntents []string

// DecodeRemovalIntents reads the remove_nodes value. Missing or malformed
// values decode to an empty set.
func DecodeRemovalIntents(s string) RemovalIntents {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out RemovalIntents
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out.compact()
}

// compact drops empty and duplicate entries, keeping first occurrence order.
func (r RemovalIntents) compact() RemovalIntents {
	seen := make(map[string]bool, len(r))
	out := make(RemovalIntents, 0, len(r))
	for _, h := range r {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// Contains reports whether hostname is pending removal.
func (r RemovalIntents) Contains(hostname string) bool {
	for _, h := range r {
		if h == hostname {
			return true
		}
	}
	return false
}

// Append returns a copy with hostname added if it was absent.
func (r RemovalIntents) Append(hostname string) RemovalIntents {
	out := append(RemovalIntents(nil), r...)
	if hostname == "" || r.Contains(hostname) {
		return out
	}
	return append(out, hostname)
}

// Without returns a copy with hostname removed.
func (r RemovalIntents) Without(hostname string) RemovalIntents {
	out := make(RemovalIntents, 0, len(r))
	for _, h := range r {
		if h != hostname {
			out = append(out, h)
		}
	}
	return out
}

// Encode returns the JSON array published under remove_nodes. The empty set
// encodes to the empty string so the key is deleted.
func (r RemovalIntents) Encode() string {
	if len(r) == 0 {
		return ""
	}
	b, _ := json.Marshal([]string(r))
	return string(b)
}

// State is what a unit remembers between events.
type State struct {
	Installed bool       `json:"installed"`
	Joined    bool       `json:"joined"`
	Role      Role       `json:"role"`
	Hostnames Membership `json:"hostnames"`
	// Issued holds the units a join URL was minted for by this unit.
	Issued map[string]bool `json:"issued,omitempty"`
	// Requested holds the units that asked this unit, as leader, for a join
	// URL and have not been served yet.
	Requested map[string]bool `json:"requested,omitempty"`
	// Pending holds hostnames whose departure this unit observed without
	// being able to remove them. They are drained once it leads.
	Pending RemovalIntents `json:"pending_removals,omitempty"`
	// Addons is the last addon list applied by this unit.
	Addons []string `json:"addons"`
}

// NewState returns the state of a unit that has not seen any event yet.
func NewState() State {
	return State{Hostnames: Membership{}, Issued: map[string]bool{}, Requested: map[string]bool{}}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Hostnames = make(Membership, len(s.Hostnames))
	for k, v := range s.Hostnames {
		out.Hostnames[k] = v
	}
	out.Issued = make(map[string]bool, len(s.Issued))
	for k, v := range s.Issued {
		out.Issued[k] = v
	}
	out.Requested = make(map[string]bool, len(s.Requested))
	for k, v := range s.Requested {
		out.Requested[k] = v
	}
	out.Addons = append([]string(nil), s.Addons...)
	out.Pending = append(RemovalIntents(nil), s.Pending...)
	return out
}

// reset forgets everything learned since install.
func (s *State) reset() {
	s.Installed = false
	s.Joined = false
	s.Hostnames = Membership{}
	s.Issued = map[string]bool{}
	s.Requested = map[string]bool{}
	s.Addons = nil
	s.Pending = nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
