package server

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"hermeshub/internal/config"
	"hermeshub/internal/errors"
	"hermeshub/internal/filesystem"
	"hermeshub/internal/logging"
	"hermeshub/internal/metrics"
	"hermeshub/internal/network"
	"hermeshub/internal/protocol"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Server accepts connections and serves the transfer protocol from a Store.
// Every connection gets its own goroutine; there is no limit on how many run
// at once.
type Server struct {
	cfg   *config.Config
	store *filesystem.Store

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  atomic.Bool
	handlers *conc.WaitGroup
}

// New creates a server for store
func New(cfg *config.Config, store *filesystem.Store) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		conns:    make(map[net.Conn]struct{}),
		handlers: conc.NewWaitGroup(),
	}
}

// Run starts the server with the given configuration and blocks until it is
// interrupted.
func Run(cfg *config.Config) error {
	logging.L().Info("Starting server",
		zap.String("address", cfg.ListenAddress),
		zap.String("storage_dir", cfg.StorageDir))

	store, err := filesystem.NewStore(cfg.StorageDir)
	if err != nil {
		return err
	}

	srv := New(cfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddress)
		go func() {
			logging.L().Info("Serving metrics", zap.String("address", cfg.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logging.L().Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	context.AfterFunc(ctx, func() {
		logging.L().Info("Shutting down server")
		if metricsServer != nil {
			metricsServer.Close()
		}
		srv.Close()
	})

	return srv.ListenAndServe()
}

// ListenAndServe listens on the configured address and serves connections
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.NewNetworkError("listen", s.cfg.ListenAddress, err)
	}
	logging.L().Info("Server ready to accept connections", zap.Stringer("address", ln.Addr()))
	return s.Serve(ln)
}

// Serve accepts connections on ln until the listener is closed. A closed
// listener ends Serve with a nil error; other accept errors are logged and
// the loop continues.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	defer ln.Close()

	if s.closing.Load() {
		return nil
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.L().Error("Failed to accept connection", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.start(conn) {
			conn.Close()
			return nil
		}
	}
}

// Addr returns the listener address, or nil before Serve is called
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every open connection and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.closing.Store(true)

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.handlers.Wait()
	if stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// start registers conn and launches its handler. Registration happens under
// the lock so Close never waits on a group that is still growing.
func (s *Server) start(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}

	s.handlers.Go(func() {
		var pc panics.Catcher
		pc.Try(func() { s.handleConnection(conn) })
		if r := pc.Recovered(); r != nil {
			logging.L().Error("Connection handler panicked",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Error(r.AsError()))
		}
	})
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// session is the per-connection state of one client
type session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	log    *zap.Logger
}

// handleConnection runs the command loop for one client connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, s.cfg.BufferSize),
		writer: bufio.NewWriterSize(conn, s.cfg.BufferSize),
	}
	sess.log = logging.L().With(
		zap.String("conn_id", sess.id),
		zap.String("remote_addr", conn.RemoteAddr().String()))
	sess.log.Debug("New connection")

	if err := network.OptimizeTCPConnection(conn); err != nil {
		sess.log.Warn("Failed to optimize TCP connection", zap.Error(err))
	}

	for {
		if err := network.SetReadTimeout(conn, s.cfg.IdleTimeout); err != nil {
			sess.log.Error("Failed to set idle timeout", zap.Error(err))
			return
		}

		header, err := protocol.ReadHeader(sess.reader)
		if err != nil {
			switch {
			case err == io.EOF:
				sess.log.Debug("Connection closed by client")
			case s.closing.Load():
			default:
				sess.log.Error("Failed to read command", zap.Error(err))
			}
			return
		}

		if s.cfg.IdleTimeout > 0 {
			if err := network.SetReadTimeout(conn, 0); err != nil {
				sess.log.Error("Failed to clear idle timeout", zap.Error(err))
				return
			}
		}

		start := time.Now()
		keepOpen, err := s.dispatch(sess, header)
		metrics.RecordCommand(header.Command.String(), time.Since(start), err == nil)
		if err != nil {
			s.logCommandError(sess, header.Command, err)
			return
		}
		if !keepOpen {
			return
		}
	}
}

// dispatch runs one command. It reports whether the connection should keep
// reading commands.
func (s *Server) dispatch(sess *session, header protocol.Header) (bool, error) {
	switch header.Command {
	case protocol.CmdPing:
		return true, s.handlePing(sess, header)
	case protocol.CmdList:
		return true, s.handleList(sess, header)
	case protocol.CmdRequestUpload:
		return s.handleRequestUpload(sess, header)
	case protocol.CmdRequestDownload:
		return true, s.handleRequestDownload(sess, header)
	case protocol.CmdUploadChunk:
		return true, s.handleUploadChunk(sess, header)
	case protocol.CmdDownloadChunk:
		return true, s.handleDownloadChunk(sess, header)
	case protocol.CmdDelete:
		return true, s.handleDelete(sess, header)
	default:
		return false, errors.NewProtocolError("dispatch", fmt.Sprintf("unknown command %s", header.Command), nil)
	}
}

func (s *Server) logCommandError(sess *session, cmd protocol.Command, err error) {
	fields := []zap.Field{zap.Stringer("command", cmd), zap.Error(err)}
	switch {
	case stderrors.Is(err, errors.ErrValidation), stderrors.Is(err, errors.ErrNotFound):
		sess.log.Warn("Rejected command", fields...)
	case s.closing.Load():
		sess.log.Debug("Command interrupted by shutdown", fields...)
	default:
		sess.log.Error("Command failed", fields...)
	}
}

// discardPayload skips a header payload the command does not use
func discardPayload(sess *session, header protocol.Header) error {
	if header.Length == 0 {
		return nil
	}
	return protocol.CopyExact(io.Discard, sess.reader, int64(header.Length))
}

func readName(sess *session, header protocol.Header) (string, error) {
	name, err := protocol.ReadName(sess.reader, header.Length)
	if err != nil {
		return "", err
	}
	if err := filesystem.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// readRange reads the name and inclusive range of a chunk command and checks
// it lies inside the stored file.
func (s *Server) readRange(sess *session, header protocol.Header) (string, int64, int64, error) {
	name, err := readName(sess, header)
	if err != nil {
		return "", 0, 0, err
	}
	start, err := protocol.ReadU32(sess.reader)
	if err != nil {
		return "", 0, 0, err
	}
	end, err := protocol.ReadU32(sess.reader)
	if err != nil {
		return "", 0, 0, err
	}
	if end < start {
		return "", 0, 0, errors.NewProtocolError("read_range", fmt.Sprintf("range %d-%d is empty", start, end), nil)
	}

	size, exists, err := s.store.Size(name)
	if err != nil {
		return "", 0, 0, err
	}
	if !exists {
		return "", 0, 0, errors.NewNotFoundError(name)
	}
	if int64(end) >= size {
		return "", 0, 0, errors.NewValidationError("range", fmt.Sprintf("%d-%d", start, end),
			fmt.Sprintf("outside file of %d bytes", size))
	}
	return name, int64(start), int64(end), nil
}

func flush(sess *session) error {
	if err := sess.writer.Flush(); err != nil {
		return errors.NewNetworkError("flush", sess.conn.RemoteAddr().String(), err)
	}
	return nil
}

func (s *Server) handlePing(sess *session, header protocol.Header) error {
	if err := discardPayload(sess, header); err != nil {
		return err
	}
	if err := protocol.WriteBool(sess.writer, true); err != nil {
		return err
	}
	return flush(sess)
}

func (s *Server) handleList(sess *session, header protocol.Header) error {
	if err := discardPayload(sess, header); err != nil {
		return err
	}

	records, err := s.store.List()
	if err != nil {
		return err
	}
	payload := protocol.FormatListing(records)
	if uint64(len(payload)) > math.MaxUint32 {
		return errors.NewProtocolError("list", "listing does not fit a u32 length", nil)
	}

	if err := protocol.WriteU32(sess.writer, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := sess.writer.Write(payload); err != nil {
		return errors.NewNetworkError("write_list", sess.conn.RemoteAddr().String(), err)
	}
	sess.log.Debug("Listed files", zap.Int("count", len(records)))
	return flush(sess)
}

// handleRequestUpload reserves name and pre-allocates it. When the name is
// taken it answers true and ends the session.
func (s *Server) handleRequestUpload(sess *session, header protocol.Header) (bool, error) {
	name, err := readName(sess, header)
	if err != nil {
		return false, err
	}

	file, err := s.store.Reserve(name)
	if stderrors.Is(err, errors.ErrAlreadyExists) {
		sess.log.Info("Upload refused, file exists", zap.String("name", name))
		if err := protocol.WriteBool(sess.writer, true); err != nil {
			return false, err
		}
		return false, flush(sess)
	}
	if err != nil {
		return false, err
	}

	if err := protocol.WriteBool(sess.writer, false); err != nil {
		s.store.Discard(name, file)
		return false, err
	}
	if err := flush(sess); err != nil {
		s.store.Discard(name, file)
		return false, err
	}

	size, err := protocol.ReadU32(sess.reader)
	if err != nil {
		s.store.Discard(name, file)
		return false, err
	}
	if err := filesystem.PreallocateFile(file, int64(size)); err != nil {
		s.store.Discard(name, file)
		return false, err
	}
	if err := file.Close(); err != nil {
		s.store.Discard(name, nil)
		return false, errors.NewFileSystemError("close", name, err)
	}

	sess.log.Info("Upload reserved", zap.String("name", name), zap.Uint32("size", size))
	return true, nil
}

func (s *Server) handleRequestDownload(sess *session, header protocol.Header) error {
	name, err := readName(sess, header)
	if err != nil {
		return err
	}

	size, exists, err := s.store.Size(name)
	if err != nil {
		return err
	}
	if size > math.MaxUint32 {
		return errors.NewValidationError("size", size, "file is too large for a u32 size field")
	}

	if err := protocol.WriteBool(sess.writer, exists); err != nil {
		return err
	}
	if err := protocol.WriteU32(sess.writer, uint32(size)); err != nil {
		return err
	}
	sess.log.Info("Download requested", zap.String("name", name), zap.Bool("exists", exists), zap.Int64("size", size))
	return flush(sess)
}

// handleUploadChunk streams one range into the stored file. It sends no reply.
func (s *Server) handleUploadChunk(sess *session, header protocol.Header) error {
	name, start, end, err := s.readRange(sess, header)
	if err != nil {
		return err
	}

	n := end - start + 1
	if err := s.store.WriteRange(name, start, n, sess.reader); err != nil {
		return fmt.Errorf("upload chunk %s [%d-%d]: %w", name, start, end, err)
	}
	metrics.RecordBytesReceived(n)
	sess.log.Debug("Chunk received", zap.String("name", name), zap.Int64("start", start), zap.Int64("end", end))
	return nil
}

// handleDownloadChunk streams one range of the stored file with no length prefix
func (s *Server) handleDownloadChunk(sess *session, header protocol.Header) error {
	name, start, end, err := s.readRange(sess, header)
	if err != nil {
		return err
	}

	n := end - start + 1
	if err := s.store.ReadRange(name, start, n, sess.writer); err != nil {
		return fmt.Errorf("download chunk %s [%d-%d]: %w", name, start, end, err)
	}
	if err := flush(sess); err != nil {
		return err
	}
	metrics.RecordBytesSent(n)
	sess.log.Debug("Chunk sent", zap.String("name", name), zap.Int64("start", start), zap.Int64("end", end))
	return nil
}

func (s *Server) handleDelete(sess *session, header protocol.Header) error {
	name, err := readName(sess, header)
	if err != nil {
		return err
	}

	removed, err := s.store.Remove(name)
	if err != nil {
		return err
	}
	sess.log.Info("Delete requested", zap.String("name", name), zap.Bool("removed", removed))

	if err := protocol.WriteBool(sess.writer, removed); err != nil {
		return err
	}
	return flush(sess)
}
