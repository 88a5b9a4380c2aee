package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "step_computer.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9090"

[detector]
start_threshold = 0.05

[model]
kind = "remote"
remote_url = "http://models:8501"

[imu]
accel_range = 2

[redis]
enabled = true
db = 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "remote", cfg.Model.Kind)
	assert.Equal(t, "step_detection", cfg.Model.RemoteName)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 4096.0, cfg.IMU.AccelScale)
	assert.Equal(t, 131.0, cfg.IMU.GyroScale)
	assert.Equal(t, "steps/readings", cfg.MQTT.TopicReadings)

	start, end := cfg.Detector.Thresholds(nil)
	assert.Equal(t, 0.05, start)
	assert.Equal(t, DefaultThreshold, end)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "[server]\nport = 1\n",
		"threshold range":  "[detector]\nend_threshold = 1.0\n",
		"remote needs url": "[model]\nkind = \"remote\"\n",
		"bad kind":         "[model]\nkind = \"onnx\"\n",
		"gyro range":       "[imu]\ngyro_range = 4\n",
		"syntax":           "[server\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDetectorThresholds_MetadataFallback(t *testing.T) {
	opt := 0.04
	start, end := DetectorConfig{}.Thresholds(&opt)
	assert.Equal(t, 0.04, start)
	assert.Equal(t, 0.04, end)

	set := 0.2
	start, end = DetectorConfig{EndThreshold: &set}.Thresholds(&opt)
	assert.Equal(t, 0.04, start)
	assert.Equal(t, 0.2, end)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, Path(""))
	t.Setenv(EnvPath, "/etc/step.toml")
	assert.Equal(t, "/etc/step.toml", Path(""))
	assert.Equal(t, "cli.toml", Path("cli.toml"))
}

func TestInitGlobal(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"debug\"\n")
	require.NoError(t, InitGlobal(path))
	require.NotNil(t, Get())
	assert.Equal(t, "debug", Get().Log.Level)

	// later calls are no-ops
	require.NoError(t, InitGlobal("does-not-exist.toml"))
	assert.Equal(t, "debug", Get().Log.Level)
}
