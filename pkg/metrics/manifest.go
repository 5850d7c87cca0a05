package metrics

import (
	"bytes"

	"github.com/goccy/go-yaml"
)

// ServiceAccount is the account whose token Prometheus scrapes with.
const (
	ServiceAccount = "microk8s-observability"
	Namespace      = "kube-system"
)

type objectMeta struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace,omitempty"`
}

type policyRule struct {
	APIGroups       []string `yaml:"apiGroups,omitempty"`
	Resources       []string `yaml:"resources,omitempty"`
	NonResourceURLs []string `yaml:"nonResourceURLs,omitempty"`
	Verbs           []string `yaml:"verbs"`
}

type clusterRole struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   objectMeta   `yaml:"metadata"`
	Rules      []policyRule `yaml:"rules"`
}

type serviceAccount struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   objectMeta `yaml:"metadata"`
}

type roleRef struct {
	APIGroup string `yaml:"apiGroup"`
	Kind     string `yaml:"kind"`
	Name     string `yaml:"name"`
}

type subject struct {
	Kind      string `yaml:"kind"`
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

type clusterRoleBinding struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   objectMeta `yaml:"metadata"`
	RoleRef    roleRef    `yaml:"roleRef"`
	Subjects   []subject  `yaml:"subjects"`
}

// ObservabilityManifest renders the RBAC objects that allow the service
// account to read node and component metrics.
func ObservabilityManifest() ([]byte, error) {
	docs := []any{
		clusterRole{
			APIVersion: "rbac.authorization.k8s.io/v1",
			Kind:       "ClusterRole",
			Metadata:   objectMeta{Name: ServiceAccount},
			Rules: []policyRule{
				{APIGroups: []string{""}, Resources: []string{"nodes/metrics"}, Verbs: []string{"get"}},
				{NonResourceURLs: []string{"/metrics"}, Verbs: []string{"get"}},
			},
		},
		serviceAccount{
			APIVersion: "v1",
			Kind:       "ServiceAccount",
			Metadata:   objectMeta{Name: ServiceAccount, Namespace: Namespace},
		},
		clusterRoleBinding{
			APIVersion: "rbac.authorization.k8s.io/v1",
			Kind:       "ClusterRoleBinding",
			Metadata:   objectMeta{Name: ServiceAccount},
			RoleRef:    roleRef{APIGroup: "rbac.authorization.k8s.io", Kind: "ClusterRole", Name: ServiceAccount},
			Subjects:   []subject{{Kind: "ServiceAccount", Name: ServiceAccount, Namespace: Namespace}},
		},
	}

	var buf bytes.Buffer
	for i, doc := range docs {
		if i > 0 {
			buf.WriteString("---\n")
		}
		b, err := yaml.Marshal(doc)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}
