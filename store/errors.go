package store

import (
	"errors"
	"strconv"

	"go.spiff.io/caddyfile"
)

var (
	// ErrNotFound is returned when a config, block, directive, argument, or key/value row does
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrRawBody is returned when a key/value edit targets a directive whose body cannot be
	// decomposed into key/value lines.
	ErrRawBody = errors.New("directive body is raw text")
	// ErrInvalidArg is returned when an edit's input would not produce valid Caddyfile text.
	ErrInvalidArg = errors.New("invalid argument")
)

// MappingError is returned when a parsed file cannot be written as rows.
type MappingError struct {
	Config string
	Err    error
}

func (e *MappingError) Error() string {
	return "map " + strconv.Quote(e.Config) + ": " + e.Err.Error()
}

func (e *MappingError) Unwrap() error { return e.Err }

// Stage returns caddyfile.StageMap.
func (*MappingError) Stage() caddyfile.Stage { return caddyfile.StageMap }

// ExportError is returned when stored rows cannot be reconstructed into a file, for example
// because a directive holds both a raw body and key/value rows.
type ExportError struct {
	Config string
	// Block and Line locate the offending row. Line is -1 for block-level problems.
	Block int
	Line  int
	Msg   string
}

func (e *ExportError) Error() string {
	loc := e.Config + ":" + strconv.Itoa(e.Block)
	if e.Line >= 0 {
		loc += ":" + strconv.Itoa(e.Line)
	}
	return "[" + loc + "] " + e.Msg
}

// Stage returns caddyfile.StageExport.
func (*ExportError) Stage() caddyfile.Stage { return caddyfile.StageExport }
