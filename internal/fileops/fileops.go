// Package fileops reads and writes Caddyfiles on behalf of the command line tool.
//
// Nothing here escalates privileges. When a file cannot be accessed for lack of permission,
// the returned *PermissionError names a command the user can run instead.
package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/renameio/v2"
)

// Access reads and writes whole files.
type Access interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// PermissionError is returned when a file cannot be read or written for lack of permission.
type PermissionError struct {
	Op   string // "read" or "write"
	Path string
	// Command is a command line that performs the same operation with elevated privileges.
	Command string
	Err     error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied: %s %s", e.Op, e.Path)
	if e.Command != "" {
		msg += "; run: " + e.Command
	}
	return msg
}

func (e *PermissionError) Unwrap() error { return e.Err }

// OS accesses the local file system. Writes go to a temporary file in the target's
// directory, which is then renamed over the target.
type OS struct {
	// Program is the command name used in suggested commands. Defaults to "caddydb".
	Program string
	// Config is passed as --config in suggested commands when set.
	Config string
}

var _ Access = OS{}

func (o OS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrPermission) {
		return nil, o.permissionError("read", path, err)
	}
	return data, err
}

func (o OS) WriteFile(path string, data []byte) error {
	err := renameio.WriteFile(path, data, 0o644,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithExistingPermissions())
	if errors.Is(err, fs.ErrPermission) {
		return o.permissionError("write", path, err)
	}
	return err
}

func (o OS) permissionError(op, path string, err error) *PermissionError {
	prog := o.Program
	if prog == "" {
		prog = "caddydb"
	}
	args := []string{"sudo", prog}
	if o.Config != "" {
		args = append(args, "--config", o.Config)
	}
	switch op {
	case "read":
		args = append(args, "import", "--caddyfile", path)
	default:
		args = append(args, "export", "--caddyfile", path)
	}
	return &PermissionError{Op: op, Path: path, Command: shellescape.QuoteCommand(args), Err: err}
}
