package store

import (
	"math"

	"golang.org/x/xerrors"
	"gorm.io/gorm"
)

// pendingIndex is the ordering value of a row inserted before its siblings are renumbered.
const pendingIndex = math.MinInt32

// ordering describes the ordering column of a table and the parent it is scoped to.
type ordering struct {
	table  string
	parent string
	column string
}

var (
	blockOrder     = ordering{"server_blocks", "config_id", "block_index"}
	directiveOrder = ordering{"directives", "block_id", "line_index"}
	argOrder       = ordering{"directive_args", "directive_id", "arg_index"}
	kvOrder        = ordering{"directive_kv", "directive_id", "kv_index"}
	fragmentOrder  = ordering{"raw_fragments", "block_id", "fragment_index"}
)

// ids returns the IDs of the ordered children of parent. Rows with a negative ordering value,
// such as the sentinel block or a pending row, are excluded.
func (o ordering) ids(tx *gorm.DB, parent uint) ([]uint, error) {
	var ids []uint
	err := tx.Table(o.table).
		Where(o.parent+" = ? AND "+o.column+" >= 0", parent).
		Order(o.column).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, xerrors.Errorf("list %s: %w", o.table, err)
	}
	return ids, nil
}

// apply sets the ordering value of each row to its position in ids. Rows are first moved to
// distinct negative values so that no intermediate state violates the unique index.
func (o ordering) apply(tx *gorm.DB, ids []uint) error {
	for pass := 0; pass < 2; pass++ {
		for i, id := range ids {
			pos := i
			if pass == 0 {
				pos = -2 - i
			}
			err := tx.Table(o.table).Where("id = ?", id).Update(o.column, pos).Error
			if err != nil {
				return xerrors.Errorf("renumber %s: %w", o.table, err)
			}
		}
	}
	return nil
}

// insert places the pending row id at position pos among the children of parent. A negative
// or out of range pos appends it.
func (o ordering) insert(tx *gorm.DB, parent, id uint, pos int) error {
	ids, err := o.ids(tx, parent)
	if err != nil {
		return err
	}
	if pos < 0 || pos > len(ids) {
		pos = len(ids)
	}
	ids = append(ids[:pos], append([]uint{id}, ids[pos:]...)...)
	return o.apply(tx, ids)
}

// compact renumbers the children of parent to 0..n-1, keeping their order.
func (o ordering) compact(tx *gorm.DB, parent uint) error {
	ids, err := o.ids(tx, parent)
	if err != nil {
		return err
	}
	return o.apply(tx, ids)
}

// position resolves a position for insertion among n siblings: negative values append.
func position(pos, n int) (int, error) {
	switch {
	case pos < 0:
		return n, nil
	case pos > n:
		return 0, xerrors.Errorf("position %d of %d: %w", pos, n, ErrNotFound)
	}
	return pos, nil
}
