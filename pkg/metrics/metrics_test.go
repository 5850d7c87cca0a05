package metrics

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildScrapeJobs(t *testing.T) {
	jobs := BuildScrapeJobs("faketoken",
		[]Node{{"cp1", "1.1.1.1"}, {"cp2", "2.2.2.2"}},
		[]Node{{"w1", "3.3.3.3"}, {"w2", "4.4.4.4"}},
	)

	var names []string
	for _, j := range jobs {
		names = append(names, j.JobName)
		assert.Equal(t, "https", j.Scheme)
		assert.True(t, j.TLSConfig.InsecureSkipVerify)
		assert.Equal(t, "faketoken", j.Authorization.Credentials)
	}
	assert.Equal(t, []string{
		"apiserver", "kube-scheduler", "kube-controller-manager",
		"kube-proxy", "kubelet", "kubelet-cadvisor", "kubelet-probes",
	}, names)

	apiserver := []StaticConfig{{Targets: []string{"1.1.1.1:16443", "2.2.2.2:16443"}}}
	kubelets := []StaticConfig{
		{Targets: []string{"1.1.1.1:10250"}, Labels: map[string]string{"node": "cp1"}},
		{Targets: []string{"2.2.2.2:10250"}, Labels: map[string]string{"node": "cp2"}},
		{Targets: []string{"3.3.3.3:10250"}, Labels: map[string]string{"node": "w1"}},
		{Targets: []string{"4.4.4.4:10250"}, Labels: map[string]string{"node": "w2"}},
	}
	for _, j := range jobs[:3] {
		assert.Equal(t, apiserver, j.StaticConfigs, j.JobName)
		assert.Empty(t, j.MetricsPath)
		assert.Empty(t, j.RelabelConfigs)
	}
	assert.Equal(t, kubelets, jobs[3].StaticConfigs)
	assert.Empty(t, jobs[3].RelabelConfigs)

	assert.Equal(t, "/metrics/cadvisor", jobs[5].MetricsPath)
	assert.Equal(t, kubelets, jobs[5].StaticConfigs)
	assert.Equal(t, []RelabelConfig{
		{TargetLabel: "metrics_path", Replacement: "/metrics/cadvisor"},
		{TargetLabel: "job", Replacement: "kubelet"},
	}, jobs[5].RelabelConfigs)
}

func TestRelationData(t *testing.T) {
	jobs := BuildScrapeJobs("tok", []Node{{"cp1", "1.1.1.1"}}, nil)
	data, err := RelationData(jobs, Metadata{Model: "test", ModelUUID: "1234", Application: "microk8s"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"model":"test","model_uuid":"1234","application":"microk8s"}`, data["scrape_metadata"])

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(data["scrape_jobs"]), &decoded))
	require.Len(t, decoded, 7)
	assert.Equal(t, "apiserver", decoded[0]["job_name"])
	assert.NotContains(t, decoded[0], "metrics_path")
	assert.Equal(t, "/metrics", decoded[4]["metrics_path"])
}

func TestObservabilityManifest(t *testing.T) {
	out, err := ObservabilityManifest()
	require.NoError(t, err)

	docs := strings.Split(string(out), "---\n")
	require.Len(t, docs, 3)

	var kinds []string
	for _, doc := range docs {
		var obj struct {
			Kind     string `yaml:"kind"`
			Metadata struct {
				Name      string `yaml:"name"`
				Namespace string `yaml:"namespace"`
			} `yaml:"metadata"`
		}
		require.NoError(t, yaml.Unmarshal([]byte(doc), &obj))
		assert.Equal(t, ServiceAccount, obj.Metadata.Name)
		kinds = append(kinds, obj.Kind)
	}
	assert.Equal(t, []string{"ClusterRole", "ServiceAccount", "ClusterRoleBinding"}, kinds)
	assert.Contains(t, docs[0], "nodes/metrics")
}
