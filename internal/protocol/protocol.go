package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"hermeshub/internal/errors"
)

// Command identifies the operation requested by a frame header
type Command byte

// Command operation codes, shared by client and server
const (
	CmdPing            Command = 0 // Liveness check
	CmdList            Command = 1 // Enumerate stored files
	CmdRequestUpload   Command = 2 // Reserve a name and declare its size
	CmdRequestDownload Command = 3 // Query existence and size
	CmdUploadChunk     Command = 4 // Write one byte range
	CmdDownloadChunk   Command = 5 // Read one byte range
	CmdDelete          Command = 6 // Remove a stored file
)

// Frame layout
const (
	HeaderSize    = 5 // u8 command + u32 payload length
	BoolSize      = 1
	U32Size       = 4
	MaxNameLength = 4096
)

var commandNames = map[Command]string{
	CmdPing:            "PING",
	CmdList:            "LIST",
	CmdRequestUpload:   "REQUEST_UPLOAD",
	CmdRequestDownload: "REQUEST_DOWNLOAD",
	CmdUploadChunk:     "UPLOAD_CHUNK",
	CmdDownloadChunk:   "DOWNLOAD_CHUNK",
	CmdDelete:          "DELETE",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(c))
}

// Valid reports whether c is one of the defined commands
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// Header precedes every client request
type Header struct {
	Command Command
	Length  uint32
}

// WriteHeader writes the 5-byte frame header
func WriteHeader(w io.Writer, cmd Command, length uint32) error {
	var buf [HeaderSize]byte
	buf[0] = byte(cmd)
	binary.BigEndian.PutUint32(buf[1:], length)
	if _, err := w.Write(buf[:]); err != nil {
		return errors.NewProtocolError("write_header", fmt.Sprintf("failed to send %s header", cmd), err)
	}
	return nil
}

// ReadHeader reads a frame header. It returns io.EOF when the peer closed the
// connection cleanly before sending any byte of a new header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if err == io.EOF {
			return Header{}, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return Header{}, errors.NewShortReadError("read_header", HeaderSize, int64(n))
		}
		return Header{}, errors.NewNetworkError("read_header", "", err)
	}

	h := Header{
		Command: Command(buf[0]),
		Length:  binary.BigEndian.Uint32(buf[1:]),
	}
	if !h.Command.Valid() {
		return h, errors.NewProtocolError("read_header", fmt.Sprintf("unknown command %d", buf[0]), nil)
	}
	return h, nil
}

// WriteRequest writes a header whose payload is name, followed by the name bytes
func WriteRequest(w io.Writer, cmd Command, name string) error {
	if err := WriteHeader(w, cmd, uint32(len(name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return errors.NewProtocolError("write_request", "failed to send name", err)
	}
	return nil
}

// WriteU32 writes v big-endian
func WriteU32(w io.Writer, v uint32) error {
	var buf [U32Size]byte
	binary.BigEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return errors.NewProtocolError("write_u32", "failed to send integer", err)
	}
	return nil
}

// ReadU32 reads a big-endian uint32
func ReadU32(r io.Reader) (uint32, error) {
	buf, err := ReadExact(r, U32Size)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// WriteBool writes a single 0/1 byte
func WriteBool(w io.Writer, v bool) error {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	if _, err := w.Write(b); err != nil {
		return errors.NewProtocolError("write_bool", "failed to send boolean", err)
	}
	return nil
}

// ReadBool reads a single byte that must be 0 or 1
func ReadBool(r io.Reader) (bool, error) {
	buf, err := ReadExact(r, BoolSize)
	if err != nil {
		return false, err
	}
	switch buf[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.NewProtocolError("read_bool", fmt.Sprintf("invalid boolean byte %d", buf[0]), nil)
	}
}

// ReadExact reads exactly n bytes. A connection that closes early yields a
// ShortReadError, never a short buffer.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.NewShortReadError("read_exact", int64(n), int64(read))
		}
		return nil, errors.NewNetworkError("read_exact", "", err)
	}
	return buf, nil
}

// ReadName reads a header payload of the declared length as a file name
func ReadName(r io.Reader, length uint32) (string, error) {
	if length > MaxNameLength {
		return "", errors.NewProtocolError("read_name", fmt.Sprintf("name length %d exceeds %d", length, MaxNameLength), nil)
	}
	buf, err := ReadExact(r, int(length))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// CopyExact copies exactly n bytes from src to dst. If src ends before n bytes
// the result is a ShortReadError.
func CopyExact(dst io.Writer, src io.Reader, n int64) error {
	copied, err := io.CopyN(dst, src, n)
	if err != nil {
		if err == io.EOF {
			return errors.NewShortReadError("copy_exact", n, copied)
		}
		return err
	}
	return nil
}
