package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"hermeshub/internal/chunk"
	"hermeshub/internal/config"
	"hermeshub/internal/errors"
	"hermeshub/internal/filesystem"
	"hermeshub/internal/logging"
	"hermeshub/internal/protocol"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ProgressFunc receives progress of one chunk: the bytes moved since the
// previous call and the fraction of that chunk now complete. It is called
// concurrently from every chunk worker.
type ProgressFunc func(chunkIndex int, bytesDelta int64, fraction float64)

// Client talks to one transfer server
type Client struct {
	cfg *config.Config
}

// New creates a client for the server in cfg
func New(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

// transfer is the state of one Upload or Download call
type transfer struct {
	id         string
	name       string
	size       int64
	plan       []chunk.Descriptor
	onProgress ProgressFunc
}

func (c *Client) newTransfer(name string, size int64, chunkCount int, onProgress ProgressFunc) (*transfer, error) {
	if chunkCount <= 0 {
		chunkCount = c.cfg.ChunkCount
	}
	plan, err := chunk.Plan(size, chunkCount)
	if err != nil {
		return nil, err
	}
	if err := chunk.Verify(plan, size); err != nil {
		return nil, err
	}
	if onProgress == nil {
		onProgress = func(int, int64, float64) {}
	}
	return &transfer{
		id:         uuid.NewString(),
		name:       name,
		size:       size,
		plan:       plan,
		onProgress: onProgress,
	}, nil
}

// Ping reports whether the server answers
func (c *Client) Ping(ctx context.Context) (bool, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return false, err
	}
	defer cn.Close()

	if err := cn.ping(); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the files stored on the server
func (c *Client) List(ctx context.Context) ([]protocol.FileRecord, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cn.Close()

	if err := cn.request(protocol.CmdList, ""); err != nil {
		return nil, err
	}
	length, err := protocol.ReadU32(cn.reader)
	if err != nil {
		return nil, err
	}
	var payload bytes.Buffer
	if err := protocol.CopyExact(&payload, cn.reader, int64(length)); err != nil {
		return nil, err
	}
	return protocol.ParseListing(payload.Bytes())
}

// Delete removes name from the server. An absent name is a NotFoundError.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := filesystem.ValidateName(name); err != nil {
		return err
	}

	cn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cn.Close()

	if err := cn.request(protocol.CmdDelete, name); err != nil {
		return err
	}
	removed, err := protocol.ReadBool(cn.reader)
	if err != nil {
		return err
	}
	if !removed {
		return errors.NewNotFoundError(name)
	}
	return nil
}

// Upload sends the file at path to the server under its base name, moving
// chunkCount ranges in parallel. A chunkCount of zero or less uses the
// configured default.
func (c *Client) Upload(ctx context.Context, path string, chunkCount int, onProgress ProgressFunc) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.NewFileSystemError("open", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.NewFileSystemError("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return errors.NewValidationError("file_path", path, "not a regular file")
	}
	if info.Size() > math.MaxUint32 {
		return errors.NewValidationError("file_size", info.Size(), "larger than a u32 size field allows")
	}

	name := filepath.Base(path)
	if err := filesystem.ValidateName(name); err != nil {
		return err
	}

	t, err := c.newTransfer(name, info.Size(), chunkCount, onProgress)
	if err != nil {
		return err
	}

	logging.LogSessionStart(t.id, "upload", t.name, t.size, len(t.plan))
	start := time.Now()

	if err := c.requestUpload(ctx, t); err != nil {
		logging.LogSessionEnd(t.id, false, 0, time.Since(start))
		return err
	}

	err = c.runChunks(ctx, t, func(ctx context.Context, d chunk.Descriptor) error {
		return c.uploadChunk(ctx, t, src, d)
	})
	logging.LogSessionEnd(t.id, err == nil, chunk.TotalBytes(t.plan), time.Since(start))
	if err != nil {
		return err
	}

	logging.LogTransferComplete(t.name, t.size, time.Since(start))
	return nil
}

// requestUpload runs the control exchange. It returns once the server has
// pre-allocated the file, so chunk writers always find it in place.
func (c *Client) requestUpload(ctx context.Context, t *transfer) error {
	cn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cn.Close()

	if err := cn.request(protocol.CmdRequestUpload, t.name); err != nil {
		return err
	}
	exists, err := protocol.ReadBool(cn.reader)
	if err != nil {
		return err
	}
	if exists {
		return errors.NewAlreadyExistsError(t.name)
	}

	if err := protocol.WriteU32(cn.writer, uint32(t.size)); err != nil {
		return err
	}
	return cn.ping()
}

func (c *Client) uploadChunk(ctx context.Context, t *transfer, src *os.File, d chunk.Descriptor) error {
	cn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cn.Close()

	logging.LogChunkTransfer(t.id, d.Index, d.Start, d.End, len(t.plan))
	if err := cn.rangeRequest(protocol.CmdUploadChunk, t.name, d.Start, d.End); err != nil {
		return err
	}

	reader := io.NewSectionReader(src, d.Start, d.Len())
	buf := make([]byte, min(int64(c.cfg.BufferSize), d.Len()))
	total := d.Len()
	var sent int64
	for sent < total {
		n := min(int64(len(buf)), total-sent)
		if _, err := io.ReadFull(reader, buf[:n]); err != nil {
			return errors.NewFileSystemError("read_chunk", src.Name(), err)
		}
		if err := cn.refreshDeadline(); err != nil {
			return err
		}
		if _, err := cn.writer.Write(buf[:n]); err != nil {
			return errors.NewNetworkError("write_chunk", cn.addr, err)
		}
		if err := cn.flush(); err != nil {
			return err
		}
		sent += n
		t.onProgress(d.Index, n, float64(sent)/float64(total))
	}

	// UPLOAD_CHUNK has no reply; the PING answer confirms the range is on disk
	return cn.ping()
}

// Download fetches name from the server into destPath, moving chunkCount
// ranges in parallel. An empty destPath stores the file under its name in the
// configured output directory.
func (c *Client) Download(ctx context.Context, name, destPath string, chunkCount int, onProgress ProgressFunc) error {
	if err := filesystem.ValidateName(name); err != nil {
		return err
	}
	if destPath == "" {
		if err := filesystem.EnsureDirectoryExists(c.cfg.OutputDir); err != nil {
			return err
		}
		destPath = filepath.Join(c.cfg.OutputDir, name)
	}

	size, err := c.requestDownload(ctx, name)
	if err != nil {
		return err
	}

	t, err := c.newTransfer(name, size, chunkCount, onProgress)
	if err != nil {
		return err
	}

	logging.LogSessionStart(t.id, "download", t.name, t.size, len(t.plan))
	start := time.Now()

	if err := allocateDestination(destPath, size); err != nil {
		logging.LogSessionEnd(t.id, false, 0, time.Since(start))
		return err
	}

	err = c.runChunks(ctx, t, func(ctx context.Context, d chunk.Descriptor) error {
		return c.downloadChunk(ctx, t, destPath, d)
	})
	logging.LogSessionEnd(t.id, err == nil, chunk.TotalBytes(t.plan), time.Since(start))
	if err != nil {
		return err
	}

	logging.LogTransferComplete(t.name, t.size, time.Since(start))
	return nil
}

func (c *Client) requestDownload(ctx context.Context, name string) (int64, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer cn.Close()

	if err := cn.request(protocol.CmdRequestDownload, name); err != nil {
		return 0, err
	}
	exists, err := protocol.ReadBool(cn.reader)
	if err != nil {
		return 0, err
	}
	size, err := protocol.ReadU32(cn.reader)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errors.NewNotFoundError(name)
	}
	return int64(size), nil
}

// allocateDestination creates or truncates path and sizes it for the download
func allocateDestination(path string, size int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, config.DataFilePerms)
	if err != nil {
		return errors.NewFileSystemError("create", path, err)
	}
	if err := filesystem.PreallocateFile(file, size); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.NewFileSystemError("close", path, err)
	}
	return nil
}

func (c *Client) downloadChunk(ctx context.Context, t *transfer, destPath string, d chunk.Descriptor) error {
	cn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cn.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY, 0)
	if err != nil {
		return errors.NewFileSystemError("open", destPath, err)
	}
	defer out.Close()

	logging.LogChunkTransfer(t.id, d.Index, d.Start, d.End, len(t.plan))
	if err := cn.rangeRequest(protocol.CmdDownloadChunk, t.name, d.Start, d.End); err != nil {
		return err
	}

	writer := io.NewOffsetWriter(out, d.Start)
	buf := make([]byte, min(int64(c.cfg.BufferSize), d.Len()))
	total := d.Len()
	var received int64
	for received < total {
		n := min(int64(len(buf)), total-received)
		if err := cn.refreshDeadline(); err != nil {
			return err
		}
		if err := cn.readFull(buf[:n]); err != nil {
			return err
		}
		if _, err := writer.Write(buf[:n]); err != nil {
			return errors.NewFileSystemError("write_chunk", destPath, err)
		}
		received += n
		t.onProgress(d.Index, n, float64(received)/float64(total))
	}

	if err := out.Close(); err != nil {
		return errors.NewFileSystemError("close", destPath, err)
	}
	return nil
}

// runChunks runs work for every chunk of t, one goroutine per chunk, and waits
// for all of them. Zero-length chunks are reported complete without a
// connection. Unless fail-fast is configured a failing chunk does not stop
// the others; the first failure is returned either way.
func (c *Client) runChunks(ctx context.Context, t *transfer, work func(context.Context, chunk.Descriptor) error) error {
	p := pool.New().
		WithMaxGoroutines(len(t.plan)).
		WithContext(ctx).
		WithFirstError()
	if c.cfg.FailFast {
		p = p.WithCancelOnError()
	}

	for _, d := range t.plan {
		p.Go(func(ctx context.Context) error {
			if d.Empty() {
				t.onProgress(d.Index, 0, 1.0)
				return nil
			}
			if err := work(ctx, d); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = fmt.Errorf("%w: %w", ctxErr, err)
				}
				logging.L().Debug("Chunk failed",
					zap.String("session_id", t.id),
					zap.Stringer("chunk", d),
					zap.Error(err))
				return errors.NewChunkError(d.Index, d.Start, d.End, err)
			}
			return nil
		})
	}
	return p.Wait()
}
