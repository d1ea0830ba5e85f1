package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"hermeshub/internal/errors"
	"hermeshub/internal/network"
	"hermeshub/internal/protocol"
)

// connection is one dialed socket with its buffered reader and writer. It is
// closed when the context it was opened with is done.
type connection struct {
	conn      net.Conn
	addr      string
	reader    *bufio.Reader
	writer    *bufio.Writer
	ioTimeout time.Duration
	stop      func() bool
}

func (c *Client) connect(ctx context.Context) (*connection, error) {
	conn, err := network.Dial(ctx, c.cfg.ServerAddress, c.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	cn := &connection{
		conn:      conn,
		addr:      c.cfg.ServerAddress,
		reader:    bufio.NewReaderSize(conn, c.cfg.BufferSize),
		writer:    bufio.NewWriterSize(conn, c.cfg.BufferSize),
		ioTimeout: c.cfg.IOTimeout,
		stop:      network.CloseOnCancel(ctx, conn),
	}
	if err := cn.refreshDeadline(); err != nil {
		cn.Close()
		return nil, err
	}
	return cn, nil
}

// refreshDeadline pushes the I/O deadline forward before the next exchange
func (cn *connection) refreshDeadline() error {
	if cn.ioTimeout <= 0 {
		return nil
	}
	return network.SetIODeadline(cn.conn, cn.ioTimeout)
}

func (cn *connection) Close() error {
	cn.stop()
	return cn.conn.Close()
}

func (cn *connection) flush() error {
	if err := cn.writer.Flush(); err != nil {
		return errors.NewNetworkError("flush", cn.addr, err)
	}
	return nil
}

// request sends a command with a name payload and flushes it
func (cn *connection) request(cmd protocol.Command, name string) error {
	if err := protocol.WriteRequest(cn.writer, cmd, name); err != nil {
		return err
	}
	return cn.flush()
}

// rangeRequest sends a chunk command for the inclusive range [start, end]
func (cn *connection) rangeRequest(cmd protocol.Command, name string, start, end int64) error {
	if err := protocol.WriteRequest(cn.writer, cmd, name); err != nil {
		return err
	}
	if err := protocol.WriteU32(cn.writer, uint32(start)); err != nil {
		return err
	}
	if err := protocol.WriteU32(cn.writer, uint32(end)); err != nil {
		return err
	}
	return cn.flush()
}

// ping sends PING and waits for the server's true. Because a connection's
// commands run in order, a reply also means every earlier command on this
// connection has finished.
func (cn *connection) ping() error {
	if err := protocol.WriteHeader(cn.writer, protocol.CmdPing, 0); err != nil {
		return err
	}
	if err := cn.flush(); err != nil {
		return err
	}
	ok, err := protocol.ReadBool(cn.reader)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewProtocolError("ping", "server answered false", nil)
	}
	return nil
}

// readFull fills buf from the connection or fails with a ShortReadError
func (cn *connection) readFull(buf []byte) error {
	n, err := io.ReadFull(cn.reader, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.NewShortReadError("read_chunk", int64(len(buf)), int64(n))
		}
		return errors.NewNetworkError("read_chunk", cn.addr, err)
	}
	return nil
}
