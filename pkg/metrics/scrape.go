// Package metrics builds the Prometheus scrape configuration published to
// observability relations.
package metrics

import (
	"encoding/json"
	"net"
	"strconv"
)

const (
	APIServerPort = 16443
	KubeletPort   = 10250
)

// Node is a cluster node metrics are collected from.
type Node struct {
	Hostname string
	Address  string
}

type TLSConfig struct {
	InsecureSkipVerify bool `json:"insecure_skip_verify"`
}

type Authorization struct {
	Credentials string `json:"credentials"`
}

type StaticConfig struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type RelabelConfig struct {
	TargetLabel string `json:"target_label"`
	Replacement string `json:"replacement"`
}

// ScrapeJob is a Prometheus scrape_config entry.
type ScrapeJob struct {
	Scheme         string          `json:"scheme"`
	TLSConfig      TLSConfig       `json:"tls_config"`
	Authorization  Authorization   `json:"authorization"`
	JobName        string          `json:"job_name"`
	MetricsPath    string          `json:"metrics_path,omitempty"`
	StaticConfigs  []StaticConfig  `json:"static_configs"`
	RelabelConfigs []RelabelConfig `json:"relabel_configs,omitempty"`
}

// Metadata identifies the source of the scrape jobs.
type Metadata struct {
	Model       string `json:"model"`
	ModelUUID   string `json:"model_uuid"`
	Application string `json:"application"`
}

func target(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// BuildScrapeJobs returns the jobs the kube-prometheus-stack dashboards
// expect. Control plane components are scraped through the apiserver port
// since they run in one process; kubelet endpoints of every node get a
// node label.
func BuildScrapeJobs(token string, controlPlane, workers []Node) []ScrapeJob {
	base := ScrapeJob{
		Scheme:        "https",
		TLSConfig:     TLSConfig{InsecureSkipVerify: true},
		Authorization: Authorization{Credentials: token},
	}

	apiserver := StaticConfig{Targets: []string{}}
	for _, n := range controlPlane {
		apiserver.Targets = append(apiserver.Targets, target(n.Address, APIServerPort))
	}
	var kubelets []StaticConfig
	for _, n := range append(append([]Node(nil), controlPlane...), workers...) {
		kubelets = append(kubelets, StaticConfig{
			Targets: []string{target(n.Address, KubeletPort)},
			Labels:  map[string]string{"node": n.Hostname},
		})
	}

	var jobs []ScrapeJob
	for _, name := range []string{"apiserver", "kube-scheduler", "kube-controller-manager"} {
		job := base
		job.JobName = name
		job.StaticConfigs = []StaticConfig{apiserver}
		jobs = append(jobs, job)
	}

	proxy := base
	proxy.JobName = "kube-proxy"
	proxy.StaticConfigs = kubelets
	jobs = append(jobs, proxy)

	for _, k := range []struct{ name, path string }{
		{"kubelet", "/metrics"},
		{"kubelet-cadvisor", "/metrics/cadvisor"},
		{"kubelet-probes", "/metrics/probes"},
	} {
		job := base
		job.JobName = k.name
		job.MetricsPath = k.path
		job.StaticConfigs = kubelets
		job.RelabelConfigs = []RelabelConfig{
			{TargetLabel: "metrics_path", Replacement: k.path},
			{TargetLabel: "job", Replacement: "kubelet"},
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// RelationData encodes jobs and metadata as the scrape_jobs and
// scrape_metadata relation values.
func RelationData(jobs []ScrapeJob, meta Metadata) (map[string]string, error) {
	j, err := json.Marshal(jobs)
	if err != nil {
		return nil, err
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return map[string]string{"scrape_jobs": string(j), "scrape_metadata": string(m)}, nil
}
