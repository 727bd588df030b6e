// Package caddybin runs the caddy binary to validate and reload Caddyfiles.
package caddybin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.spiff.io/caddyfile/internal/ctxlog"
)

// ErrNotFound is returned when no caddy binary can be located.
var ErrNotFound = errors.New("unable to locate caddy binary")

// Validator checks that a Caddyfile is accepted by caddy.
type Validator interface {
	Validate(ctx context.Context, src []byte) error
}

// Error is returned when caddy exits unsuccessfully.
type Error struct {
	Op     string // "validate" or "reload"
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	return "caddy " + e.Op + " failed"
}

func (e *Error) Unwrap() error { return e.Err }

// Exec runs a caddy binary.
type Exec struct {
	Bin string
}

var _ Validator = (*Exec)(nil)

// Lookup returns an Exec for bin, or for caddy on $PATH if bin is empty.
func Lookup(bin string) (*Exec, error) {
	if bin == "" {
		bin = "caddy"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &Exec{Bin: path}, nil
}

// Validate writes src to a temporary file and runs caddy validate on it.
func (e *Exec) Validate(ctx context.Context, src []byte) error {
	dir, err := os.MkdirTemp("", "caddydb-validate-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "Caddyfile")
	if err := os.WriteFile(path, src, 0o600); err != nil {
		return err
	}
	return e.ValidateFile(ctx, path)
}

// ValidateFile runs caddy validate on the Caddyfile at path.
func (e *Exec) ValidateFile(ctx context.Context, path string) error {
	return e.run(ctx, "validate", path)
}

// Reload runs caddy reload with the Caddyfile at path.
func (e *Exec) Reload(ctx context.Context, path string) error {
	return e.run(ctx, "reload", path)
}

func (e *Exec) run(ctx context.Context, op, path string) error {
	args := []string{op, "--config", path, "--adapter", "caddyfile"}
	ctxlog.FromContext(ctx).Debug("Running caddy", "bin", e.Bin, "args", args)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &Error{Op: op, Stderr: stderr.String(), Err: err}
	}
	return nil
}
