package containerd

import (
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	blockBegin = "# begin managed by microk8s charm"
	blockEnd   = "# end managed by microk8s charm"
)

// Files is the set of files describing one registry, relative to the
// snap data directory. Remove lists files that must not exist.
type Files struct {
	Write  map[string]string
	Remove []string
}

type hostsFile struct {
	Server string                `toml:"server"`
	Host   map[string]hostConfig `toml:"host"`
}

type hostConfig struct {
	Capabilities []string `toml:"capabilities"`
	CA           string   `toml:"ca,omitempty"`
	Client       any      `toml:"client,omitempty"`
	SkipVerify   bool     `toml:"skip_verify,omitempty"`
	OverridePath bool     `toml:"override_path,omitempty"`
}

// CertsDir is the hosts directory of a registry below snapDataDir.
func CertsDir(snapDataDir, host string) string {
	return path.Join(snapDataDir, "args", "certs.d", host)
}

// RegistryFiles renders hosts.toml and the certificate files of r.
func RegistryFiles(snapDataDir string, r Registry) (Files, error) {
	dir := CertsDir(snapDataDir, r.Host)
	files := Files{Write: map[string]string{}}

	host := hostConfig{Capabilities: []string{"pull", "resolve"}}
	ca, cert, key := path.Join(dir, "ca.crt"), path.Join(dir, "client.crt"), path.Join(dir, "client.key")
	for _, f := range []struct {
		path, data string
	}{{ca, r.CAFile}, {cert, r.CertFile}, {key, r.KeyFile}} {
		if f.data == "" {
			files.Remove = append(files.Remove, f.path)
			continue
		}
		files.Write[f.path] = f.data
	}

	if r.CAFile != "" {
		host.CA = ca
	}
	switch {
	case r.CertFile != "" && r.KeyFile != "":
		host.Client = [][]string{{cert, key}}
	case r.CertFile != "":
		host.Client = cert
	}
	host.SkipVerify = r.SkipVerify
	host.OverridePath = r.OverridePath

	b, err := toml.Marshal(hostsFile{Server: r.URL, Host: map[string]hostConfig{r.URL: host}})
	if err != nil {
		return Files{}, err
	}
	files.Write[path.Join(dir, "hosts.toml")] = string(b)
	return files, nil
}

// AuthConfig renders the CRI registry credentials of all registries that
// have them. It returns an empty string if none do.
func AuthConfig(registries []Registry) (string, error) {
	configs := map[string]any{}
	for _, r := range registries {
		if !r.HasAuth() {
			continue
		}
		configs[r.URL] = map[string]any{
			"auth": map[string]string{"username": r.Username, "password": r.Password},
		}
	}
	if len(configs) == 0 {
		return "", nil
	}
	b, err := toml.Marshal(map[string]any{
		"plugins": map[string]any{
			"io.containerd.grpc.v1.cri": map[string]any{
				"registry": map[string]any{"configs": configs},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EnsureBlock replaces the managed block of content with block, appending
// a new managed block if content has none.
func EnsureBlock(content, block string) string {
	managed := blockBegin + "\n" + strings.TrimRight(block, "\n") + "\n" + blockEnd
	if i := strings.Index(content, blockBegin); i >= 0 {
		if j := strings.Index(content[i:], blockEnd); j >= 0 {
			return content[:i] + managed + content[i+j+len(blockEnd):]
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + managed + "\n"
}
