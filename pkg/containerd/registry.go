// Package containerd renders MicroK8s containerd registry configuration.
package containerd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
)

// Registry is one entry of the containerd_custom_registries option.
type Registry struct {
	// URL is the registry endpoint, e.g. "https://registry-1.docker.io".
	URL string `json:"url"`
	// Host is the name images refer to, e.g. "docker.io". Defaults to the
	// host of URL.
	Host string `json:"host,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// CAFile, CertFile and KeyFile are base64 encoded PEM documents.
	CAFile     string `json:"ca_file,omitempty"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	SkipVerify bool   `json:"skip_verify,omitempty"`

	OverridePath bool `json:"override_path,omitempty"`
}

// ParseRegistries decodes and validates a JSON list of registries. The
// certificate fields of the result are decoded.
func ParseRegistries(raw string) ([]Registry, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var registries []Registry
	if err := dec.Decode(&registries); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	for i := range registries {
		if err := registries[i].normalize(); err != nil {
			return nil, fmt.Errorf("registry %d: %w", i, err)
		}
	}
	return registries, nil
}

func (r *Registry) normalize() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: must be an http or https URL", r.URL)
	}
	if r.Host == "" {
		r.Host = u.Host
	}
	for _, f := range []struct {
		name string
		v    *string
	}{{"ca_file", &r.CAFile}, {"cert_file", &r.CertFile}, {"key_file", &r.KeyFile}} {
		if *f.v == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(*f.v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.v = string(b)
	}
	return nil
}

// HasAuth reports whether credentials are configured.
func (r Registry) HasAuth() bool { return r.Username != "" && r.Password != "" }
