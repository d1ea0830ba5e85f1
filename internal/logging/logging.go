package logging

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"hermeshub/internal/config"
	"hermeshub/internal/errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger atomic.Pointer[zap.Logger]

func init() {
	globalLogger.Store(zap.NewNop())
}

// L returns the global logger. It discards everything until SetupLogger runs.
func L() *zap.Logger {
	return globalLogger.Load()
}

// SetLogger replaces the global logger
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	globalLogger.Store(logger)
}

// Sync flushes any buffered log entries
func Sync() error {
	return L().Sync()
}

// SetupLogger initializes structured logging with console and optional file output
func SetupLogger(cfg *config.Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return errors.NewValidationError("log_level", cfg.LogLevel, "unknown log level")
	}

	var zc zap.Config
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	zc.DisableCaller = true
	zc.OutputPaths = []string{"stdout"}

	sessionID := time.Now().Format("20060102_150405")
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, config.StorageDirPerms); err != nil {
			return errors.NewFileSystemError("mkdir", cfg.LogDir, err)
		}
		logFile := filepath.Join(cfg.LogDir, fmt.Sprintf("hermes_%s_%s.log", cfg.Command, sessionID))
		zc.OutputPaths = append(zc.OutputPaths, logFile)
	}

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	SetLogger(logger)
	logger.Info("Logging initialized", zap.String("session_id", sessionID), zap.String("level", level.String()))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	L().Info("Configuration loaded",
		zap.Stringer("config", cfg),
		zap.String("command", cfg.Command),
		zap.Float64("buffer_size_kb", float64(cfg.BufferSize)/1024),
		zap.String("log_level", cfg.LogLevel))

	if cfg.IsServer() {
		L().Info("Server configuration",
			zap.String("listen_address", cfg.ListenAddress),
			zap.String("storage_dir", cfg.StorageDir),
			zap.String("metrics_address", cfg.MetricsAddress),
			zap.Duration("idle_timeout", cfg.IdleTimeout))
	} else {
		L().Info("Client configuration",
			zap.String("server_address", cfg.ServerAddress),
			zap.Int("chunks", cfg.ChunkCount),
			zap.Duration("dial_timeout", cfg.DialTimeout),
			zap.Duration("io_timeout", cfg.IOTimeout),
			zap.Bool("fail_fast", cfg.FailFast))
	}
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var (
		netErr   *errors.NetworkError
		fsErr    *errors.FileSystemError
		protoErr *errors.ProtocolError
		valErr   *errors.ValidationError
		shortErr *errors.ShortReadError
		chunkErr *errors.ChunkError
	)

	logger := L()
	if stderrors.As(err, &chunkErr) {
		logger = logger.With(zap.Int("chunk", chunkErr.Index),
			zap.Int64("start", chunkErr.Start), zap.Int64("end", chunkErr.End))
	}

	switch {
	case stderrors.As(err, &shortErr):
		logger.Error("Connection closed early",
			zap.String("context", context),
			zap.String("operation", shortErr.Op),
			zap.Int64("expected_bytes", shortErr.Expected),
			zap.Int64("received_bytes", shortErr.Received),
			zap.String("error_type", "short_read"))
	case stderrors.As(err, &netErr):
		logger.Error("Network error",
			zap.String("context", context),
			zap.String("operation", netErr.Op),
			zap.String("address", netErr.Addr),
			zap.Error(netErr.Err),
			zap.String("error_type", "network"))
	case stderrors.As(err, &fsErr):
		logger.Error("File system error",
			zap.String("context", context),
			zap.String("operation", fsErr.Op),
			zap.Error(fsErr.Err),
			zap.String("error_type", "filesystem"))
	case stderrors.As(err, &protoErr):
		logger.Error("Protocol error",
			zap.String("context", context),
			zap.String("operation", protoErr.Op),
			zap.String("message", protoErr.Message),
			zap.String("error_type", "protocol"))
	case stderrors.As(err, &valErr):
		logger.Error("Validation error",
			zap.String("context", context),
			zap.String("field", valErr.Field),
			zap.String("message", valErr.Message),
			zap.String("error_type", "validation"))
	case stderrors.Is(err, errors.ErrAlreadyExists), stderrors.Is(err, errors.ErrNotFound):
		logger.Warn("Request rejected",
			zap.String("context", context),
			zap.Error(err))
	default:
		logger.Error("Unhandled error",
			zap.String("context", context),
			zap.Error(err),
			zap.String("error_type", "unknown"))
	}
}

// LogTransferProgress logs transfer progress information
func LogTransferProgress(name string, transferred, total int64, rate float64) {
	percent := 100.0
	if total > 0 {
		percent = float64(transferred) / float64(total) * 100
	}
	L().Info("Transfer progress",
		zap.String("name", name),
		zap.Float64("transferred_mb", float64(transferred)/(1024*1024)),
		zap.Float64("total_mb", float64(total)/(1024*1024)),
		zap.Float64("percent_complete", percent),
		zap.Float64("transfer_rate_mbps", rate))
}

// LogTransferComplete logs successful transfer completion
func LogTransferComplete(name string, size int64, duration time.Duration) {
	L().Info("Transfer completed successfully",
		zap.String("name", name),
		zap.Float64("total_size_mb", float64(size)/(1024*1024)),
		zap.Duration("duration", duration),
		zap.Float64("average_rate_mbps", rateMBps(size, duration)))
}

// LogChunkTransfer logs individual chunk transfer information
func LogChunkTransfer(sessionID string, chunkIndex int, start, end int64, totalChunks int) {
	L().Debug("Chunk transfer",
		zap.String("session_id", sessionID),
		zap.Int("chunk", chunkIndex),
		zap.Int64("start", start),
		zap.Int64("end", end),
		zap.Int("total_chunks", totalChunks))
}

// LogSessionStart logs the start of a transfer session
func LogSessionStart(sessionID, mode, name string, totalSize int64, chunks int) {
	L().Info("Transfer session started",
		zap.String("session_id", sessionID),
		zap.String("mode", mode),
		zap.String("name", name),
		zap.Int64("total_size", totalSize),
		zap.Int("chunks", chunks))
}

// LogSessionEnd logs the end of a transfer session
func LogSessionEnd(sessionID string, success bool, totalBytes int64, duration time.Duration) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}

	L().Info("Transfer session ended",
		zap.String("session_id", sessionID),
		zap.String("status", status),
		zap.Int64("total_bytes_transferred", totalBytes),
		zap.Duration("duration", duration),
		zap.Float64("average_throughput_mbps", rateMBps(totalBytes, duration)))
}

func rateMBps(bytes int64, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	return float64(bytes) / (1024 * 1024) / duration.Seconds()
}
