// Package drift compares the text exported from the database with a Caddyfile on disk.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// MaxDiffLines bounds the number of diff lines kept in a Report.
const MaxDiffLines = 200

// truncated is appended to a diff cut at MaxDiffLines.
const truncated = "... diff truncated ..."

// Report is the outcome of comparing generated text with a target file.
type Report struct {
	Target        string
	InSync        bool
	GeneratedHash string
	// TargetHash is empty when the target could not be read.
	TargetHash string
	Diff       []string
	// Err is set when the target could not be read. InSync is false and Diff is empty.
	Err error
}

// Compare builds a Report for the generated text and the contents of the target file.
func Compare(target string, generated, current []byte) *Report {
	r := &Report{
		Target:        target,
		GeneratedHash: Hash(generated),
		TargetHash:    Hash(current),
	}
	r.InSync = r.GeneratedHash == r.TargetHash
	if r.InSync {
		return r
	}
	r.Diff = unified(target, string(current), string(generated))
	return r
}

// Failed returns a Report for a target that could not be read.
func Failed(target string, generated []byte, err error) *Report {
	return &Report{
		Target:        target,
		GeneratedHash: Hash(generated),
		Err:           err,
	}
}

// Summary is a one line description of the report.
func (r *Report) Summary() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("Drift: %v", r.Err)
	case r.InSync:
		return fmt.Sprintf("Drift: %s matches the database", r.Target)
	case len(r.Diff) > 0:
		return fmt.Sprintf("Drift: differences detected for %s", r.Target)
	}
	return "Drift: status unknown"
}

// Hash returns the hex sha256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func unified(target, current, generated string) []string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(generated),
		FromFile: target,
		ToFile:   "generated",
		Context:  3,
	})
	if err != nil {
		return []string{err.Error()}
	}

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) > MaxDiffLines {
		lines = append(lines[:MaxDiffLines:MaxDiffLines], truncated)
	}
	return lines
}
