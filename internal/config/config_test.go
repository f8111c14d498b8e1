package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doughall/cmdsched/internal/cmdspec"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, cmdspec.DefaultPath(), cfg.CommandsFile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.GraceDuration())
	assert.Equal(t, time.Duration(0), cfg.TimeoutDuration())
	assert.Equal(t, OutputInherit, cfg.Output)
	assert.False(t, cfg.Watch)
	assert.False(t, cfg.HistoryEnabled())
	assert.Equal(t, 1000, cfg.HistoryKeep)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
commands_file: /srv/commands.txt
log_level: debug
log_format: text
pool_size: 3
grace_period: 12
shell: bash
command_timeout: 60
output: discard
watch: true
history_path: /var/lib/cmdsched/history.db
history_keep: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, &Config{
		CommandsFile:   "/srv/commands.txt",
		LogLevel:       "debug",
		LogFormat:      "text",
		PoolSize:       3,
		GracePeriod:    12,
		Shell:          "bash",
		CommandTimeout: 60,
		Output:         OutputDiscard,
		Watch:          true,
		HistoryPath:    "/var/lib/cmdsched/history.db",
		HistoryKeep:    50,
	}, cfg)
	assert.Equal(t, time.Minute, cfg.TimeoutDuration())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"negative pool", "pool_size: -1", ErrInvalidPoolSize},
		{"negative grace", "grace_period: -2", ErrInvalidGracePeriod},
		{"negative timeout", "command_timeout: -5", ErrInvalidTimeout},
		{"bad level", "log_level: chatty", ErrInvalidLogLevel},
		{"bad format", "log_format: xml", ErrInvalidLogFormat},
		{"bad output", "output: capture", ErrInvalidOutput},
		{"bad shell", "shell: python", ErrInvalidShell},
		{"bad keep", "history_keep: -1", ErrInvalidHistoryKeep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeConfig(t, "pool_size: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := Default()
	want.Watch = true
	want.HistoryPath = "/tmp/h.db"

	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
