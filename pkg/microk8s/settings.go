package microk8s

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"microk8s-operator/pkg/addons"
	"microk8s-operator/pkg/cluster"
	"microk8s-operator/pkg/containerd"
	"microk8s-operator/pkg/metrics"
)

// ReconcileAddons disables removed and enables missing addons. Each addon
// is handled on its own; the failures are returned together.
func (c *Client) ReconcileAddons(ctx context.Context, current, desired []string) error {
	c.log.WithField("current", current).WithField("wanted", desired).Info("Reconciling addons")
	plan := addons.Diff(current, desired)

	var errs []error
	for _, name := range plan.Disable {
		c.log.WithField("addon", name).Info("Disabling addon")
		if _, err := c.run.Run(ctx, "microk8s", "disable", name); err != nil {
			errs = append(errs, &cluster.ReconciliationError{Op: "disable addon", Item: name, Err: err})
		}
	}
	for _, addon := range plan.Enable {
		c.log.WithField("addon", addon).Info("Enabling addon")
		if _, err := c.run.Run(ctx, "microk8s", "enable", addon); err != nil {
			errs = append(errs, &cluster.ReconciliationError{Op: "enable addon", Item: addon, Err: err})
		}
	}
	return errors.Join(errs...)
}

// SetContainerdEnv writes the containerd environment file and restarts
// containerd if it changed. An empty env leaves the file untouched.
func (c *Client) SetContainerdEnv(ctx context.Context, env string) error {
	if env == "" {
		c.log.Debug("No custom containerd_env set, will not change anything")
		return nil
	}
	changed, err := c.ensureFile(path.Join(c.snapDataDir, "args", "containerd_env"), env)
	if err != nil {
		return fmt.Errorf("failed to write containerd_env: %w", err)
	}
	if !changed {
		return nil
	}
	c.log.Info("Restart containerd to apply environment configuration")
	return c.restartContainerd(ctx)
}

// CertReissueLock is the lock file that stops MicroK8s from re-issuing
// its certificates when the node address changes.
func (c *Client) CertReissueLock() string {
	return path.Join(c.snapDataDir, "var", "lock", "no-cert-reissue")
}

// SetCertReissue disables automatic certificate re-issue, or re-enables it.
func (c *Client) SetCertReissue(ctx context.Context, disable bool) error {
	c.log.WithField("disable", disable).Info("Apply cert-reissue configuration")
	if disable {
		_, err := c.ensureFile(c.CertReissueLock(), "")
		return err
	}
	return c.removeFile(c.CertReissueLock())
}

// ConfigureRegistries writes containerd registry configuration from the
// raw containerd_custom_registries value. An invalid value is reported as
// a cluster.ConfigurationError.
func (c *Client) ConfigureRegistries(ctx context.Context, raw string) error {
	registries, err := containerd.ParseRegistries(raw)
	if err != nil {
		return &cluster.ConfigurationError{Reason: "containerd_custom_registries: " + err.Error()}
	}

	for _, r := range registries {
		c.log.WithField("host", r.Host).Info("Configure registry")
		files, err := containerd.RegistryFiles(c.snapDataDir, r)
		if err != nil {
			return fmt.Errorf("failed to render registry %s: %w", r.Host, err)
		}
		for file, data := range files.Write {
			if _, err := c.ensureFile(file, data); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
		}
		for _, file := range files.Remove {
			if err := c.removeFile(file); err != nil {
				return fmt.Errorf("failed to remove %s: %w", file, err)
			}
		}
	}

	block, err := containerd.AuthConfig(registries)
	if err != nil || block == "" {
		return err
	}
	template := path.Join(c.snapDataDir, "args", "containerd-template.toml")
	cur, err := c.readFile(template)
	if err != nil {
		return fmt.Errorf("failed to read containerd template: %w", err)
	}
	changed, err := c.ensureFile(template, containerd.EnsureBlock(cur, block))
	if err != nil {
		return fmt.Errorf("failed to write containerd template: %w", err)
	}
	if !changed {
		return nil
	}
	c.log.Info("Restart containerd to apply registry configurations")
	return c.restartContainerd(ctx)
}

func (c *Client) readFile(file string) (string, error) {
	b, err := afero.ReadFile(c.fs, file)
	if os.IsNotExist(err) {
		return "", nil
	}
	return string(b), err
}

// ApplyObservabilityResources creates the service account and RBAC rules
// metrics are scraped with.
func (c *Client) ApplyObservabilityResources(ctx context.Context) error {
	manifest, err := metrics.ObservabilityManifest()
	if err != nil {
		return fmt.Errorf("failed to render manifest: %w", err)
	}
	file := path.Join(c.manifestDir, "metrics.yaml")
	if _, err := c.ensureFile(file, string(manifest)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	_, err = c.run.Run(ctx, "microk8s", "kubectl", "apply", "-f", file)
	return err
}

// CreateBearerToken returns a short-lived token of the observability
// service account.
func (c *Client) CreateBearerToken(ctx context.Context) (string, error) {
	out, err := c.run.Run(ctx, "microk8s", "kubectl", "create", "token",
		"--namespace="+metrics.Namespace, metrics.ServiceAccount)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
