package errors

import (
	"errors"
	"fmt"
)

// Error types for different categories of failures
var (
	ErrNetwork               = errors.New("network error")
	ErrFileSystem            = errors.New("file system error")
	ErrProtocol              = errors.New("protocol error")
	ErrValidation            = errors.New("validation error")
	ErrConnectionClosedEarly = errors.New("connection closed early")
	ErrAlreadyExists         = errors.New("file already exists")
	ErrNotFound              = errors.New("file not found")
	ErrMalformedListEntry    = errors.New("malformed list entry")
)

// NetworkError represents network-related errors
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// FileSystemError represents file system-related errors
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file system error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// ProtocolError represents protocol-related errors
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ShortReadError is returned when the peer closes the connection before a
// declared number of bytes arrived. It is fatal to the connection.
type ShortReadError struct {
	Op       string
	Expected int64
	Received int64
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("connection closed early during %s: expected %d bytes, received %d",
		e.Op, e.Expected, e.Received)
}

func (e *ShortReadError) Is(target error) bool {
	return target == ErrConnectionClosedEarly || target == ErrNetwork
}

// AlreadyExistsError is returned when an upload targets a name the server already stores
type AlreadyExistsError struct {
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("file %q already exists on the server", e.Name)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// NotFoundError is returned when a download or delete targets an absent name
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file %q is not on the server", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MalformedListEntryError is returned when a LIST line cannot be parsed
type MalformedListEntryError struct {
	Line   string
	Reason string
}

func (e *MalformedListEntryError) Error() string {
	return fmt.Sprintf("malformed list entry %q: %s", e.Line, e.Reason)
}

func (e *MalformedListEntryError) Is(target error) bool {
	return target == ErrMalformedListEntry
}

// ChunkError reports the failure of a single chunk worker
type ChunkError struct {
	Index int
	Start int64
	End   int64
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d [%d-%d] failed: %v", e.Index, e.Start, e.End, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Helper functions for creating errors

func NewNetworkError(op, addr string, err error) error {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func NewProtocolError(op, message string, err error) error {
	return &ProtocolError{Op: op, Message: message, Err: err}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func NewShortReadError(op string, expected, received int64) error {
	return &ShortReadError{Op: op, Expected: expected, Received: received}
}

func NewAlreadyExistsError(name string) error {
	return &AlreadyExistsError{Name: name}
}

func NewNotFoundError(name string) error {
	return &NotFoundError{Name: name}
}

func NewMalformedListEntryError(line, reason string) error {
	return &MalformedListEntryError{Line: line, Reason: reason}
}

func NewChunkError(index int, start, end int64, err error) error {
	return &ChunkError{Index: index, Start: start, End: end, Err: err}
}
