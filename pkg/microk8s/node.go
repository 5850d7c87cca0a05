package microk8s

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/host"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"microk8s-operator/pkg/cluster"
	"microk8s-operator/pkg/command"
)

// RemoveNode runs `microk8s remove-node --force`. A node that is already
// gone yields cluster.ErrNodeNotFound.
func (c *Client) RemoveNode(ctx context.Context, hostname string) error {
	c.log.WithField("hostname", hostname).Info("Removing node from cluster")
	out, err := c.run.Run(ctx, "microk8s", "remove-node", hostname, "--force")
	if err == nil {
		return nil
	}
	msg := string(out)
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		msg += cmdErr.Stderr
	}
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
		return fmt.Errorf("%w: %s", cluster.ErrNodeNotFound, hostname)
	}
	return err
}

// GetUnitStatus maps the Ready condition of node hostname to a unit
// status. Lookup failures are reported as maintenance, never as errors.
func (c *Client) GetUnitStatus(ctx context.Context, hostname string) cluster.Status {
	cond, err := c.readyCondition(ctx, hostname)
	if err != nil {
		c.log.WithError(&cluster.TransientQueryError{Hostname: hostname, Err: err}).Warn("Node status unavailable")
		return cluster.MaintenanceStatus("waiting for node")
	}
	if cond.Status == corev1.ConditionFalse {
		c.log.WithField("hostname", hostname).WithField("reason", cond.Reason).Warn("Node is not ready")
		return cluster.WaitingStatus("node is not ready: " + cond.Reason)
	}
	return cluster.ActiveStatus("node is ready")
}

func (c *Client) readyCondition(ctx context.Context, hostname string) (corev1.NodeCondition, error) {
	k, err := c.kubeClient()
	if err != nil {
		return corev1.NodeCondition{}, err
	}
	node, err := k.CoreV1().Nodes().Get(ctx, hostname, metav1.GetOptions{})
	if err != nil {
		return corev1.NodeCondition{}, err
	}
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond, nil
		}
	}
	return corev1.NodeCondition{}, errors.New("node has no Ready condition")
}

// Hostname is the name the local node registers with.
func (c *Client) Hostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read hostname: %w", err)
	}
	return info.Hostname, nil
}

// InstallRequiredPackages installs host packages storage addons rely on.
// Failures are logged and do not stop the remaining packages.
func (c *Client) InstallRequiredPackages(ctx context.Context) error {
	packages := []string{"nfs-common", "open-iscsi"}
	if release, err := host.KernelVersionWithContext(ctx); err != nil {
		c.log.WithError(err).Warn("Could not retrieve kernel version, will not install extra modules")
	} else {
		packages = append(packages, "linux-modules-extra-"+release)
	}

	var errs []error
	for _, p := range packages {
		c.log.WithField("package", p).Info("Installing package")
		if _, err := c.run.Run(ctx, "apt-get", "install", "--yes", p); err != nil {
			c.log.WithError(err).WithField("package", p).Warn("Failed to install package, addons may misbehave")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
