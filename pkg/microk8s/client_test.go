package microk8s

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"microk8s-operator/config"
	"microk8s-operator/pkg/cluster"
	"microk8s-operator/pkg/command"
	"microk8s-operator/pkg/command/commandtest"
	"microk8s-operator/pkg/logging"
)

const snapData = "/var/snap/microk8s/current"

func newTestClient(t *testing.T, opts ...Option) (*Client, *commandtest.Recorder, afero.Fs) {
	t.Helper()
	rec := &commandtest.Recorder{}
	fs := afero.NewMemMapFs()
	cfg := config.NodeConfig{
		SnapDataDir:      snapData,
		ManifestDir:      "/charm/manifests",
		WaitReadyTimeout: 30 * time.Second,
	}
	return New(rec, fs, cfg, logging.Discard(), opts...), rec, fs
}

func TestLifecycleCommands(t *testing.T) {
	ctx := context.Background()
	c, rec, _ := newTestClient(t)

	require.NoError(t, c.Install(ctx, ""))
	require.NoError(t, c.Install(ctx, "1.28/stable"))
	require.NoError(t, c.WaitReady(ctx))
	require.NoError(t, c.Join(ctx, "10.10.10.10:25000/tok", false))
	require.NoError(t, c.Join(ctx, "10.10.10.10:25000/tok", true))
	require.NoError(t, c.Uninstall(ctx))

	assert.Equal(t, []string{
		"snap install microk8s --classic",
		"snap install microk8s --classic --channel 1.28/stable",
		"microk8s status --wait-ready --timeout=30",
		"microk8s join 10.10.10.10:25000/tok",
		"microk8s join 10.10.10.10:25000/tok --worker",
		"snap remove microk8s --purge",
	}, rec.Commands())
}

func TestAddNode(t *testing.T) {
	random := bytes.Repeat([]byte{0xab}, 16)
	c, rec, _ := newTestClient(t, WithRandom(bytes.NewReader(random)))

	token, err := c.AddNode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abababababababababababababababab", token)
	assert.Len(t, token, 32)
	assert.Equal(t, []string{"microk8s add-node --token " + token + " --token-ttl 7200"}, rec.Commands())
}

func TestAddNodeFails(t *testing.T) {
	c, rec, _ := newTestClient(t)
	rec.Handler = func(commandtest.Call) ([]byte, error) { return nil, errors.New("exit status 1") }

	_, err := c.AddNode(context.Background())
	assert.Error(t, err)
}

func TestRemoveNode(t *testing.T) {
	ctx := context.Background()
	c, rec, _ := newTestClient(t)

	require.NoError(t, c.RemoveNode(ctx, "f-1"))
	assert.Equal(t, []string{"microk8s remove-node f-1 --force"}, rec.Commands())

	rec.Handler = func(commandtest.Call) ([]byte, error) {
		return []byte("Node f-2 does not exist in Kubernetes.\n"), &command.Error{Err: errors.New("exit status 1")}
	}
	assert.ErrorIs(t, c.RemoveNode(ctx, "f-2"), cluster.ErrNodeNotFound)

	rec.Handler = func(commandtest.Call) ([]byte, error) {
		return nil, &command.Error{Stderr: "Error from server (NotFound): nodes \"f-3\" not found", Err: errors.New("exit status 1")}
	}
	assert.ErrorIs(t, c.RemoveNode(ctx, "f-3"), cluster.ErrNodeNotFound)

	rec.Handler = func(commandtest.Call) ([]byte, error) { return nil, errors.New("connection refused") }
	err := c.RemoveNode(ctx, "f-4")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cluster.ErrNodeNotFound)
}

func nodeWithReady(name string, status corev1.ConditionStatus, reason string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeMemoryPressure, Status: corev1.ConditionFalse},
			{Type: corev1.NodeReady, Status: status, Reason: reason},
		}},
	}
}

func TestGetUnitStatus(t *testing.T) {
	ctx := context.Background()
	kube := fake.NewSimpleClientset(
		nodeWithReady("ready", corev1.ConditionTrue, "KubeletReady"),
		nodeWithReady("notready", corev1.ConditionFalse, "KubeletNotReady"),
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "unknown"}},
	)
	c, _, _ := newTestClient(t, WithKubernetesClient(kube))

	assert.Equal(t, cluster.ActiveStatus("node is ready"), c.GetUnitStatus(ctx, "ready"))
	assert.Equal(t, cluster.WaitingStatus("node is not ready: KubeletNotReady"), c.GetUnitStatus(ctx, "notready"))
	assert.Equal(t, cluster.MaintenanceStatus("waiting for node"), c.GetUnitStatus(ctx, "unknown"))
	assert.Equal(t, cluster.MaintenanceStatus("waiting for node"), c.GetUnitStatus(ctx, "missing"))
}

func TestGetUnitStatusWithoutKubeconfig(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.newKube = func() (kubernetes.Interface, error) { return nil, errors.New("no kubeconfig") }

	assert.Equal(t, cluster.MaintenanceStatus("waiting for node"), c.GetUnitStatus(context.Background(), "ready"))
}

func TestReconcileAddons(t *testing.T) {
	ctx := context.Background()
	c, rec, _ := newTestClient(t)

	require.NoError(t, c.ReconcileAddons(ctx, nil, []string{"dns", "rbac"}))
	require.NoError(t, c.ReconcileAddons(ctx, []string{"dns", "rbac"}, []string{"dns:1.1.1.1", "rbac", "ingress"}))
	assert.Equal(t, []string{
		"microk8s enable dns",
		"microk8s enable rbac",
		"microk8s disable dns",
		"microk8s enable dns:1.1.1.1",
		"microk8s enable ingress",
	}, rec.Commands())
}

func TestReconcileAddonsIsolatesFailures(t *testing.T) {
	c, rec, _ := newTestClient(t)
	rec.Handler = func(call commandtest.Call) ([]byte, error) {
		if call.Args[1] == "bad" {
			return nil, errors.New("exit status 1")
		}
		return nil, nil
	}

	err := c.ReconcileAddons(context.Background(), nil, []string{"bad", "rbac"})
	require.Error(t, err)
	var recErr *cluster.ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, "bad", recErr.Item)
	assert.Equal(t, []string{"microk8s enable bad", "microk8s enable rbac"}, rec.Commands())
}

func TestSetContainerdEnv(t *testing.T) {
	ctx := context.Background()
	c, rec, fs := newTestClient(t)
	file := snapData + "/args/containerd_env"

	require.NoError(t, c.SetContainerdEnv(ctx, ""))
	_, err := fs.Stat(file)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, rec.Commands())

	require.NoError(t, c.SetContainerdEnv(ctx, "fakeenv"))
	require.NoError(t, c.SetContainerdEnv(ctx, "fakeenv"))
	data, err := afero.ReadFile(fs, file)
	require.NoError(t, err)
	assert.Equal(t, "fakeenv", string(data))
	assert.Equal(t, []string{"snap restart microk8s.daemon-containerd"}, rec.Commands())

	info, err := fs.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSetCertReissue(t *testing.T) {
	ctx := context.Background()
	c, _, fs := newTestClient(t)

	require.NoError(t, c.SetCertReissue(ctx, false))
	exists, err := afero.Exists(fs, c.CertReissueLock())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.SetCertReissue(ctx, true))
	exists, err = afero.Exists(fs, c.CertReissueLock())
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.SetCertReissue(ctx, false))
	exists, err = afero.Exists(fs, c.CertReissueLock())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConfigureRegistries(t *testing.T) {
	ctx := context.Background()
	c, rec, fs := newTestClient(t)
	template := snapData + "/args/containerd-template.toml"
	require.NoError(t, afero.WriteFile(fs, template, []byte("version = 2\n"), 0o600))

	raw := `[{"url": "https://quay.io", "username": "user", "password": "pass", "ca_file": "dGVzdA=="}]`
	require.NoError(t, c.ConfigureRegistries(ctx, raw))

	dir := snapData + "/args/certs.d/quay.io"
	ca, err := afero.ReadFile(fs, dir+"/ca.crt")
	require.NoError(t, err)
	assert.Equal(t, "test", string(ca))
	hosts, err := afero.ReadFile(fs, dir+"/hosts.toml")
	require.NoError(t, err)
	assert.Contains(t, string(hosts), "https://quay.io")

	tmpl, err := afero.ReadFile(fs, template)
	require.NoError(t, err)
	assert.Contains(t, string(tmpl), "version = 2\n# begin managed by microk8s charm\n")
	assert.Contains(t, string(tmpl), "io.containerd.grpc.v1.cri")
	assert.Contains(t, string(tmpl), "pass")
	assert.Equal(t, []string{"snap restart microk8s.daemon-containerd"}, rec.Commands())

	// Unchanged configuration does not restart containerd again.
	require.NoError(t, c.ConfigureRegistries(ctx, raw))
	assert.Len(t, rec.Commands(), 1)
}

func TestConfigureRegistriesInvalid(t *testing.T) {
	c, _, _ := newTestClient(t)

	err := c.ConfigureRegistries(context.Background(), `[{"url": "not-a-url"}]`)
	var cfgErr *cluster.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestObservability(t *testing.T) {
	ctx := context.Background()
	c, rec, fs := newTestClient(t)
	rec.Handler = func(call commandtest.Call) ([]byte, error) {
		if call.Args[1] == "create" {
			return []byte("faketoken\n"), nil
		}
		return nil, nil
	}

	require.NoError(t, c.ApplyObservabilityResources(ctx))
	manifest, err := afero.ReadFile(fs, "/charm/manifests/metrics.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "microk8s-observability")

	token, err := c.CreateBearerToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "faketoken", token)

	assert.Equal(t, []string{
		"microk8s kubectl apply -f /charm/manifests/metrics.yaml",
		"microk8s kubectl create token --namespace=kube-system microk8s-observability",
	}, rec.Commands())
}

func TestInstallRequiredPackagesContinuesOnFailure(t *testing.T) {
	c, rec, _ := newTestClient(t)
	rec.Handler = func(call commandtest.Call) ([]byte, error) {
		if call.Args[2] == "nfs-common" {
			return nil, errors.New("exit status 100")
		}
		return nil, nil
	}

	err := c.InstallRequiredPackages(context.Background())
	assert.Error(t, err)

	cmds := rec.Commands()
	require.GreaterOrEqual(t, len(cmds), 2)
	assert.Equal(t, "apt-get install --yes nfs-common", cmds[0])
	assert.Equal(t, "apt-get install --yes open-iscsi", cmds[1])
}
