package vfs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a path exists in neither the overlay nor the backing store.
	ErrNotFound = errors.New("file not found")

	// ErrIsDirectory indicates a file operation on a directory record.
	ErrIsDirectory = errors.New("is a directory")
)

// Error wraps overlay failures with the operation and the normalized path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("vfs %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vfs %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const (
	opRead  = "read"
	opStat  = "stat"
	opList  = "list"
	opOpen  = "open"
	opWrite = "write"
)
