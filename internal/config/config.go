package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Constants for default values
const (
	DefaultListenAddr  = "0.0.0.0:1306"
	DefaultServerAddr  = "localhost:1306"
	DefaultStorageDir  = "./server_data"
	DefaultOutputDir   = "./client_data"
	DefaultChunkCount  = 4
	DefaultBufferSize  = 64 * 1024 // 64KB
	DefaultDialTimeout = 10 * time.Second
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
	MaxChunkCount      = 256
	EnvPrefix          = "HERMES"
	ConfigFileName     = "hermes"

	// Network constants
	TCPBufferSize = 1024 * 1024 // 1MB

	// File system constants
	StorageDirPerms = 0755
	DataFilePerms   = 0644
)

// Commands understood by the binary
const (
	CommandServe    = "serve"
	CommandUpload   = "upload"
	CommandDownload = "download"
	CommandList     = "list"
	CommandDelete   = "delete"
	CommandPing     = "ping"
)

// Config holds all configuration parameters for the application
type Config struct {
	Command string
	Args    []string

	// Server mode settings
	ListenAddress  string
	StorageDir     string
	MetricsAddress string
	IdleTimeout    time.Duration

	// Client mode settings
	ServerAddress string
	OutputDir     string
	ChunkCount    int
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	FailFast      bool
	ShowProgress  bool

	// Common parameters
	BufferSize int
	LogLevel   string
	LogFormat  string
	LogDir     string
}

// IsServer reports whether the configuration runs the server
func (c *Config) IsServer() bool {
	return c.Command == CommandServe
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.ChunkCount < 1 || c.ChunkCount > MaxChunkCount {
		return fmt.Errorf("chunk count must be between 1 and %d", MaxChunkCount)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.IOTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json")
	}

	switch c.Command {
	case CommandServe:
		if c.ListenAddress == "" {
			return fmt.Errorf("listen address is required in server mode")
		}
		if c.StorageDir == "" {
			return fmt.Errorf("storage directory is required in server mode")
		}
	case CommandUpload:
		if len(c.Args) != 1 {
			return fmt.Errorf("upload takes exactly one file path")
		}
	case CommandDownload:
		if len(c.Args) < 1 || len(c.Args) > 2 {
			return fmt.Errorf("download takes a file name and an optional destination path")
		}
	case CommandDelete:
		if len(c.Args) != 1 {
			return fmt.Errorf("delete takes exactly one file name")
		}
	case CommandList, CommandPing:
	case "":
		return fmt.Errorf("a command is required (serve, upload, download, list, delete, ping)")
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}

	if !c.IsServer() && c.ServerAddress == "" {
		return fmt.Errorf("server address is required in client mode")
	}

	return nil
}

// Parse builds a Config from command line arguments, HERMES_* environment
// variables (optionally loaded from a .env file) and an optional hermes.yaml.
// Flags win over the environment, which wins over the file.
func Parse(args []string) (*Config, error) {
	// A missing .env file is the common case
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("hermes", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	d := Default()
	configFile := fs.String("config", "", "Path to a YAML configuration file")

	// Server flags
	fs.String("listen", d.ListenAddress, "Address to listen on (serve)")
	fs.String("storage-dir", d.StorageDir, "Directory holding stored files (serve)")
	fs.String("metrics-listen", "", "Address for the Prometheus /metrics endpoint, empty disables it (serve)")
	fs.Duration("idle-timeout", 0, "Close connections idle for this long, 0 disables it (serve)")

	// Client flags
	fs.String("connect", d.ServerAddress, "Server address to connect to")
	fs.String("output", d.OutputDir, "Directory for downloaded files when no destination is given")
	fs.Int("chunks", d.ChunkCount, "Number of parallel chunks per transfer")
	fs.Duration("dial-timeout", d.DialTimeout, "Connection timeout")
	fs.Duration("io-timeout", 0, "Per-connection read/write deadline, 0 disables it")
	fs.Bool("fail-fast", false, "Cancel sibling chunks when one chunk fails")
	fs.Bool("progress", d.ShowProgress, "Show progress during transfer")

	// Common flags
	fs.Int("buffer", d.BufferSize, "Piece size in bytes for chunk streaming")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-format", d.LogFormat, "Log format (console, json)")
	fs.String("log-dir", "", "Directory for log files, empty logs to stdout only")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		ListenAddress:  v.GetString("listen"),
		StorageDir:     v.GetString("storage-dir"),
		MetricsAddress: v.GetString("metrics-listen"),
		IdleTimeout:    v.GetDuration("idle-timeout"),
		ServerAddress:  v.GetString("connect"),
		OutputDir:      v.GetString("output"),
		ChunkCount:     v.GetInt("chunks"),
		DialTimeout:    v.GetDuration("dial-timeout"),
		IOTimeout:      v.GetDuration("io-timeout"),
		FailFast:       v.GetBool("fail-fast"),
		ShowProgress:   v.GetBool("progress"),
		BufferSize:     v.GetInt("buffer"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
		LogDir:         v.GetString("log-dir"),
	}

	if positional := fs.Args(); len(positional) > 0 {
		cfg.Command = positional[0]
		cfg.Args = positional[1:]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied and no command
func Default() *Config {
	return &Config{
		ListenAddress: DefaultListenAddr,
		StorageDir:    DefaultStorageDir,
		ServerAddress: DefaultServerAddr,
		OutputDir:     DefaultOutputDir,
		ChunkCount:    DefaultChunkCount,
		DialTimeout:   DefaultDialTimeout,
		ShowProgress:  true,
		BufferSize:    DefaultBufferSize,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
	}
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	mode := "Client"
	if c.IsServer() {
		mode = "Server"
	}

	return fmt.Sprintf("Config{Mode: %s, Command: %s, Chunks: %d, BufferSize: %d, FailFast: %v}",
		mode, c.Command, c.ChunkCount, c.BufferSize, c.FailFast)
}
