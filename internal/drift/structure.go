package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"go.spiff.io/caddyfile"
)

// Structure is the outcome of comparing two parsed files block by block. Whitespace and
// comments outside of nested bodies are not part of the comparison, so two files that differ
// only in formatting match.
type Structure struct {
	Match      bool
	StoredHash string
	TargetHash string
	// Blocks is the number of block positions compared: the block count of the longer file.
	Blocks int
	// Mismatched is the number of block positions whose contents differ, including blocks
	// present in only one of the files.
	Mismatched int
}

// CompareStructure compares the blocks of the stored file with those of the target file.
func CompareStructure(stored, target *caddyfile.File) (*Structure, error) {
	storedHash, storedBlocks, err := StructuralHash(stored)
	if err != nil {
		return nil, err
	}
	targetHash, targetBlocks, err := StructuralHash(target)
	if err != nil {
		return nil, err
	}

	st := &Structure{
		Match:      storedHash == targetHash,
		StoredHash: storedHash,
		TargetHash: targetHash,
		Blocks:     max(len(storedBlocks), len(targetBlocks)),
	}
	for i := 0; i < st.Blocks; i++ {
		if i >= len(storedBlocks) || i >= len(targetBlocks) || storedBlocks[i] != targetBlocks[i] {
			st.Mismatched++
		}
	}
	return st, nil
}

// Summary is a one line description of the comparison.
func (st *Structure) Summary() string {
	status := "match"
	if !st.Match {
		status = "different"
	}
	return fmt.Sprintf("Structure: %s (%d of %d blocks differ)", status, st.Mismatched, st.Blocks)
}

// StructuralHash returns the hex sha256 of the structure of f and of each of its blocks, in
// block order.
func StructuralHash(f *caddyfile.File) (string, []string, error) {
	var bh blockHasher
	if err := caddyfile.Walk(f, &bh); err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256([]byte(strings.Join(bh.sums, "\n")))
	return hex.EncodeToString(sum[:]), bh.sums, nil
}

// blockHasher hashes the labels and directives of each block it walks.
type blockHasher struct {
	h    hash.Hash
	sums []string
}

var _ caddyfile.WalkExiter = (*blockHasher)(nil)

func (bh *blockHasher) EnterBlock(blk *caddyfile.Block) (caddyfile.Walker, error) {
	bh.h = sha256.New()
	writeFields(bh.h, "block", strconv.FormatBool(blk.Braced))
	writeFields(bh.h, "sites", blk.Labels()...)
	return bh, nil
}

func (bh *blockHasher) Directive(_ *caddyfile.Block, d *caddyfile.Directive) error {
	writeFields(bh.h, "directive", d.Matcher, d.Name)
	writeFields(bh.h, "args", d.ArgValues()...)
	switch body := d.Body.(type) {
	case caddyfile.RawBody:
		writeFields(bh.h, "raw", strings.Fields(string(body))...)
	case *caddyfile.KeyValueBody:
		for _, kv := range body.Pairs {
			writeFields(bh.h, "kv", kv.Section, kv.Key, strings.Join(strings.Fields(kv.Value), " "))
		}
	}
	return nil
}

func (bh *blockHasher) ExitBlock(caddyfile.Walker, *caddyfile.Block) error {
	bh.sums = append(bh.sums, hex.EncodeToString(bh.h.Sum(nil)))
	return nil
}

// writeFields writes a tagged, length-prefixed record so that no two distinct records hash
// the same.
func writeFields(h hash.Hash, tag string, fields ...string) {
	fmt.Fprintf(h, "%s %d", tag, len(fields))
	for _, f := range fields {
		fmt.Fprintf(h, " %q", f)
	}
	h.Write([]byte{'\n'})
}
