package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microk8s-operator/config"
)

func TestNew(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)

	logger.WithField("unit", "microk8s/0").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unit=microk8s/0")
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
