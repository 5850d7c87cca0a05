// Package microk8s drives the local MicroK8s snap.
package microk8s

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"microk8s-operator/config"
	"microk8s-operator/pkg/cluster"
	"microk8s-operator/pkg/command"
)

// Client is the node control client of the local MicroK8s installation.
type Client struct {
	run              command.Runner
	fs               afero.Fs
	snapDataDir      string
	manifestDir      string
	waitReadyTimeout time.Duration
	log              logrus.FieldLogger

	rand    io.Reader
	kube    kubernetes.Interface
	newKube func() (kubernetes.Interface, error)
}

// Option configures a Client.
type Option func(*Client)

// WithKubernetesClient sets the client used for node status lookups.
func WithKubernetesClient(k kubernetes.Interface) Option {
	return func(c *Client) { c.kube = k }
}

// WithRandom sets the source of join tokens.
func WithRandom(r io.Reader) Option {
	return func(c *Client) { c.rand = r }
}

func New(run command.Runner, fs afero.Fs, cfg config.NodeConfig, log logrus.FieldLogger, opts ...Option) *Client {
	c := &Client{
		run:              run,
		fs:               fs,
		snapDataDir:      cfg.SnapDataDir,
		manifestDir:      cfg.ManifestDir,
		waitReadyTimeout: cfg.WaitReadyTimeout,
		log:              log,
		rand:             rand.Reader,
	}
	c.newKube = c.kubeletClient
	for _, o := range opts {
		o(c)
	}
	return c
}

// kubeletClient talks to the apiserver with the kubelet credentials, which
// exist on control plane and worker nodes alike.
func (c *Client) kubeletClient() (kubernetes.Interface, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", path.Join(c.snapDataDir, "credentials", "kubelet.config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load kubelet kubeconfig: %w", err)
	}
	cfg.Timeout = 10 * time.Second
	return kubernetes.NewForConfig(cfg)
}

func (c *Client) kubeClient() (kubernetes.Interface, error) {
	if c.kube != nil {
		return c.kube, nil
	}
	k, err := c.newKube()
	if err != nil {
		return nil, err
	}
	c.kube = k
	return k, nil
}

// Install runs `snap install microk8s`.
func (c *Client) Install(ctx context.Context, channel string) error {
	c.log.WithField("channel", channel).Info("Installing MicroK8s")
	args := []string{"install", "microk8s", "--classic"}
	if channel != "" {
		args = append(args, "--channel", channel)
	}
	_, err := c.run.Run(ctx, "snap", args...)
	return err
}

// WaitReady blocks until MicroK8s reports ready or the wait times out.
func (c *Client) WaitReady(ctx context.Context) error {
	c.log.Info("Wait for MicroK8s to become ready")
	timeout := int(c.waitReadyTimeout / time.Second)
	_, err := c.run.Run(ctx, "microk8s", "status", "--wait-ready", "--timeout="+strconv.Itoa(timeout))
	return err
}

// Uninstall runs `snap remove microk8s --purge`.
func (c *Client) Uninstall(ctx context.Context) error {
	c.log.Info("Uninstall MicroK8s")
	_, err := c.run.Run(ctx, "snap", "remove", "microk8s", "--purge")
	return err
}

// Join joins the cluster behind url.
func (c *Client) Join(ctx context.Context, url string, worker bool) error {
	c.log.WithField("worker", worker).Info("Joining cluster")
	args := []string{"join", url}
	if worker {
		args = append(args, "--worker")
	}
	_, err := c.run.Run(ctx, "microk8s", args...)
	return err
}

// AddNode registers a fresh 128-bit token and returns it hex encoded.
func (c *Client) AddNode(ctx context.Context) (string, error) {
	c.log.Info("Generating token for new node")
	b := make([]byte, 16)
	if _, err := io.ReadFull(c.rand, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(b)
	ttl := strconv.Itoa(int(cluster.JoinTokenTTL / time.Second))
	if _, err := c.run.Run(ctx, "microk8s", "add-node", "--token", token, "--token-ttl", ttl); err != nil {
		return "", err
	}
	return token, nil
}

// ensureFile writes data to file if its content differs and reports
// whether it did. Files are owned by root with mode 0600.
func (c *Client) ensureFile(file, data string) (bool, error) {
	if err := c.fs.MkdirAll(path.Dir(file), 0o700); err != nil {
		return false, err
	}
	changed := true
	if cur, err := afero.ReadFile(c.fs, file); err == nil {
		changed = string(cur) != data
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if changed {
		if err := afero.WriteFile(c.fs, file, []byte(data), 0o600); err != nil {
			return false, err
		}
	}
	if err := c.fs.Chmod(file, 0o600); err != nil {
		return changed, err
	}
	if err := c.fs.Chown(file, 0, 0); err != nil {
		return changed, err
	}
	return changed, nil
}

func (c *Client) removeFile(file string) error {
	if err := c.fs.Remove(file); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Client) restartContainerd(ctx context.Context) error {
	_, err := c.run.Run(ctx, "snap", "restart", "microk8s.daemon-containerd")
	return err
}
