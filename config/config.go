package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"microk8s-operator/pkg/cluster"
)

// Config represents the agent configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Node    NodeConfig    `mapstructure:"node"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Serve   ServeConfig   `mapstructure:"serve"`
}

// ServerConfig is the listen address of the gRPC health service
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig contains storage-related configuration
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// NodeConfig describes the local MicroK8s installation
type NodeConfig struct {
	SnapDir          string        `mapstructure:"snap_dir"`
	SnapDataDir      string        `mapstructure:"snap_data_dir"`
	ManifestDir      string        `mapstructure:"manifest_dir"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	WaitReadyTimeout time.Duration `mapstructure:"wait_ready_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// ServeConfig configures the node health daemon
type ServeConfig struct {
	StatusInterval time.Duration `mapstructure:"status_interval"`
	// Hostname overrides the node name to watch.
	Hostname string `mapstructure:"hostname"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("agent")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/microk8s-agent")
	}

	setDefaults(v)

	// MICROK8S_AGENT_LOGGING_LEVEL overrides logging.level
	v.SetEnvPrefix("MICROK8S_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9450)

	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.data_dir", "./.agent-state")

	v.SetDefault("node.snap_dir", "/snap/microk8s/current")
	v.SetDefault("node.snap_data_dir", "/var/snap/microk8s/current")
	v.SetDefault("node.manifest_dir", "/var/snap/microk8s/common/manifests")
	v.SetDefault("node.command_timeout", "10m")
	v.SetDefault("node.wait_ready_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9451)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("serve.status_interval", "30s")
	v.SetDefault("serve.hostname", "")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)
	config.Node.SnapDataDir = filepath.Clean(config.Node.SnapDataDir)
	config.Node.ManifestDir = filepath.Clean(config.Node.ManifestDir)

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if config.Metrics.Enabled && (config.Metrics.Port < 1 || config.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	if config.Node.CommandTimeout <= 0 {
		return fmt.Errorf("node.command_timeout must be positive")
	}
	if config.Node.WaitReadyTimeout < time.Second {
		return fmt.Errorf("node.wait_ready_timeout must be at least 1s")
	}
	if config.Serve.StatusInterval <= 0 {
		return fmt.Errorf("serve.status_interval must be positive")
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = validateConfig(&config)

	return &config
}

// ParseUnitConfig decodes the JSON document printed by `config-get
// --format=json`. Options missing from the document take their defaults.
func ParseUnitConfig(raw []byte) (cluster.UnitConfig, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("role", "")
	v.SetDefault("channel", "")
	v.SetDefault("addons", "")
	v.SetDefault("containerd_env", "")
	v.SetDefault("containerd_custom_registries", "[]")
	v.SetDefault("disable_cert_reissue", false)

	if len(bytes.TrimSpace(raw)) > 0 {
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return cluster.UnitConfig{}, fmt.Errorf("failed to parse unit config: %w", err)
		}
	}

	registries := strings.TrimSpace(v.GetString("containerd_custom_registries"))
	if registries == "[]" {
		registries = ""
	}
	return cluster.UnitConfig{
		Role:               strings.TrimSpace(v.GetString("role")),
		Channel:            strings.TrimSpace(v.GetString("channel")),
		Addons:             strings.Fields(v.GetString("addons")),
		ContainerdEnv:      v.GetString("containerd_env"),
		Registries:         registries,
		DisableCertReissue: v.GetBool("disable_cert_reissue"),
	}, nil
}
