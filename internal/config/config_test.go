package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(command string, args ...string) Config {
	cfg := *Default()
	cfg.Command = command
	cfg.Args = args
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid server config",
			config:  validConfig(CommandServe),
			wantErr: false,
		},
		{
			name:    "valid upload config",
			config:  validConfig(CommandUpload, "a.txt"),
			wantErr: false,
		},
		{
			name:    "valid download with destination",
			config:  validConfig(CommandDownload, "a.txt", "/tmp/a.txt"),
			wantErr: false,
		},
		{
			name:    "valid list config",
			config:  validConfig(CommandList),
			wantErr: false,
		},
		{
			name: "invalid buffer size",
			config: func() Config {
				c := validConfig(CommandList)
				c.BufferSize = 0
				return c
			}(),
			wantErr: true,
			errMsg:  "buffer size must be positive",
		},
		{
			name: "invalid chunk count",
			config: func() Config {
				c := validConfig(CommandList)
				c.ChunkCount = 0
				return c
			}(),
			wantErr: true,
			errMsg:  "chunk count must be between",
		},
		{
			name: "too many chunks",
			config: func() Config {
				c := validConfig(CommandList)
				c.ChunkCount = MaxChunkCount + 1
				return c
			}(),
			wantErr: true,
			errMsg:  "chunk count must be between",
		},
		{
			name: "invalid dial timeout",
			config: func() Config {
				c := validConfig(CommandPing)
				c.DialTimeout = 0
				return c
			}(),
			wantErr: true,
			errMsg:  "dial timeout must be positive",
		},
		{
			name: "negative idle timeout",
			config: func() Config {
				c := validConfig(CommandServe)
				c.IdleTimeout = -time.Second
				return c
			}(),
			wantErr: true,
			errMsg:  "timeouts cannot be negative",
		},
		{
			name: "unknown log format",
			config: func() Config {
				c := validConfig(CommandServe)
				c.LogFormat = "xml"
				return c
			}(),
			wantErr: true,
			errMsg:  "log format must be console or json",
		},
		{
			name: "server without storage dir",
			config: func() Config {
				c := validConfig(CommandServe)
				c.StorageDir = ""
				return c
			}(),
			wantErr: true,
			errMsg:  "storage directory is required",
		},
		{
			name:    "upload without file path",
			config:  validConfig(CommandUpload),
			wantErr: true,
			errMsg:  "upload takes exactly one file path",
		},
		{
			name:    "download with too many args",
			config:  validConfig(CommandDownload, "a", "b", "c"),
			wantErr: true,
			errMsg:  "download takes a file name",
		},
		{
			name: "client without server address",
			config: func() Config {
				c := validConfig(CommandDelete, "a.txt")
				c.ServerAddress = ""
				return c
			}(),
			wantErr: true,
			errMsg:  "server address is required in client mode",
		},
		{
			name:    "missing command",
			config:  validConfig(""),
			wantErr: true,
			errMsg:  "a command is required",
		},
		{
			name:    "unknown command",
			config:  validConfig("rename"),
			wantErr: true,
			errMsg:  `unknown command "rename"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_String(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name: "server config",
			config: Config{
				Command:    CommandServe,
				ChunkCount: 4,
				BufferSize: 512 * 1024,
			},
			expected: "Config{Mode: Server, Command: serve, Chunks: 4, BufferSize: 524288, FailFast: false}",
		},
		{
			name: "client config",
			config: Config{
				Command:    CommandUpload,
				ChunkCount: 8,
				BufferSize: 1024 * 1024,
				FailFast:   true,
			},
			expected: "Config{Mode: Client, Command: upload, Chunks: 8, BufferSize: 1048576, FailFast: true}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.String()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"list"})
	require.NoError(t, err)

	assert.Equal(t, CommandList, cfg.Command)
	assert.Empty(t, cfg.Args)
	assert.Equal(t, DefaultServerAddr, cfg.ServerAddress)
	assert.Equal(t, DefaultChunkCount, cfg.ChunkCount)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.True(t, cfg.ShowProgress)
	assert.False(t, cfg.FailFast)
}

func TestParseMatchesDefault(t *testing.T) {
	cfg, err := Parse([]string{"ping"})
	require.NoError(t, err)

	want := Default()
	want.Command = CommandPing
	want.Args = cfg.Args
	assert.Equal(t, want, cfg)
}

func TestParseFlagsAndArgs(t *testing.T) {
	cfg, err := Parse([]string{
		"--connect", "10.0.0.5:1306",
		"--chunks", "16",
		"--fail-fast",
		"--io-timeout", "30s",
		"download", "report.pdf", "/tmp/report.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, CommandDownload, cfg.Command)
	assert.Equal(t, []string{"report.pdf", "/tmp/report.pdf"}, cfg.Args)
	assert.Equal(t, "10.0.0.5:1306", cfg.ServerAddress)
	assert.Equal(t, 16, cfg.ChunkCount)
	assert.True(t, cfg.FailFast)
	assert.Equal(t, 30*time.Second, cfg.IOTimeout)
}

func TestParseEnvironment(t *testing.T) {
	t.Setenv("HERMES_STORAGE_DIR", "/srv/hermes")
	t.Setenv("HERMES_IDLE_TIMEOUT", "2m")
	t.Setenv("HERMES_CHUNKS", "6")

	cfg, err := Parse([]string{"serve"})
	require.NoError(t, err)

	assert.Equal(t, "/srv/hermes", cfg.StorageDir)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 6, cfg.ChunkCount)
}

func TestParseFlagBeatsEnvironment(t *testing.T) {
	t.Setenv("HERMES_CHUNKS", "6")

	cfg, err := Parse([]string{"--chunks", "3", "ping"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ChunkCount)
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hermes.yaml")
	content := "listen: 127.0.0.1:9000\nstorage-dir: /data\nmetrics-listen: 127.0.0.1:9100\nlog-format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Parse([]string{"--config", path, "serve"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	assert.Equal(t, "/data", cfg.StorageDir)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddress)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestParseMissingConfigFile(t *testing.T) {
	_, err := Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "ping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]string{"--no-such-flag", "ping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")

	_, err = Parse([]string{"--chunks", "0", "ping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = Parse(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a command is required")
}
