package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
agent:
  this_dn: "100018001"
  agent_id: "8001"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.CTI.KeepAliveInterval)
	assert.Equal(t, 20*time.Second, cfg.CTI.LoginTimeout)
	assert.Equal(t, 2, cfg.CTI.MaxLines)
	assert.Equal(t, "0", cfg.Agent.TID)
	assert.Equal(t, "100018001", cfg.Agent.ThisDN)
	assert.False(t, cfg.Behavior.AutoReadyOnLogin)
	assert.False(t, cfg.Softphone.Enabled)
	assert.Len(t, cfg.Softphone.Endpoints, 2)
	assert.Equal(t, "info", cfg.Service.LogLevel)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
cti:
  ws_url: "ws://cti.example.com:8089/ws/ts"
  keep_alive_interval: 10s
  login_timeout: 30s
  max_lines: 3
agent:
  tid: "5"
  this_dn: "100018001"
  pstn_dn: "02512345678"
  agent_id: "8001"
  this_queues: ["100018000", "100018001"]
  default_queue: "100018000"
behavior:
  auto_ready_on_login: true
  phone_take_along: true
  work_phone: "13800000000"
  tip_time_minutes: 5
  max_after_work_seconds: 30
softphone:
  enabled: true
  server_url: "127.0.0.1:5188"
  username: "8001"
  password: "secret"
status:
  base_url: "http://status.example.com"
service:
  log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://cti.example.com:8089/ws/ts", cfg.CTI.WSURL)
	assert.Equal(t, 10*time.Second, cfg.CTI.KeepAliveInterval)
	assert.Equal(t, 30*time.Second, cfg.CTI.LoginTimeout)
	assert.Equal(t, 3, cfg.CTI.MaxLines)
	assert.Equal(t, "5", cfg.Agent.TID)
	assert.Equal(t, []string{"100018000", "100018001"}, cfg.Agent.ThisQueues)
	assert.True(t, cfg.Behavior.AutoReadyOnLogin)
	assert.True(t, cfg.Behavior.PhoneTakeAlong)
	assert.Equal(t, 5, cfg.Behavior.TipTimeMinutes)
	assert.Equal(t, 30, cfg.Behavior.MaxAfterWorkSeconds)
	assert.True(t, cfg.Softphone.Enabled)
	assert.Equal(t, "http://status.example.com", cfg.Status.BaseURL)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
