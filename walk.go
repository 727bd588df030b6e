package caddyfile

// Walker is used by Walk to consume blocks and their directives.
//
// Optionally, Walkers may also implement WalkExiter to receive an ExitBlock call when exiting
// a block.
type Walker interface {
	Directive(*Block, *Directive) error
	EnterBlock(*Block) (Walker, error)
}

// WalkExiter is an optional interface implemented for a Walker to have Walk call ExitBlock when
// it has finished consuming all directives in a block.
type WalkExiter interface {
	Walker

	// ExitBlock is called with the parent Walker and the exited block.
	ExitBlock(Walker, *Block) error
}

// Walk calls walker.EnterBlock for each block of f, in order. If EnterBlock returns a non-nil
// Walker, that Walker's Directive method is called for each directive in the block (and
// ExitBlock, if implemented, afterward).
//
// Walk will return a *WalkError if any error occurs during a walk.
func Walk(f *File, walker Walker) error {
	for _, blk := range f.Blocks {
		sub, err := walker.EnterBlock(blk)
		if err != nil {
			return walkErr(f, blk, nil, err)
		}
		if sub == nil {
			continue
		}
		for _, d := range blk.Directives {
			if err = sub.Directive(blk, d); err != nil {
				return walkErr(f, blk, d, err)
			}
		}
		if ex, ok := sub.(WalkExiter); ok {
			if err = ex.ExitBlock(walker, blk); err != nil {
				return walkErr(f, blk, nil, err)
			}
		}
	}
	return nil
}

// WalkError is an error returned by Walk if an error occurs during a Walk call.
type WalkError struct {
	File *File
	// Block is the block being walked when the error occurred.
	Block *Block
	// Directive is the directive the error occurred for, if any.
	Directive *Directive
	// Err is the error that a Walker returned.
	Err error
}

func walkErr(f *File, blk *Block, d *Directive, err error) *WalkError {
	if we, ok := err.(*WalkError); ok {
		return we
	}
	return &WalkError{File: f, Block: blk, Directive: d, Err: err}
}

func (e *WalkError) Error() string {
	loc, what := e.Block.Start, "block "+e.Block.Summary()
	if e.Directive != nil {
		loc, what = e.Directive.Start, e.Directive.Name+" in "+what
	}
	return "[" + loc.String() + "] " + what + ": " + e.Err.Error()
}

func (e *WalkError) Unwrap() error { return e.Err }

// Select returns the directives of blk whose name is present in names.
func Select(blk *Block, names ...string) []*Directive {
	if len(names) == 0 {
		return nil
	}

	match := func(name string) bool { return name == names[0] }
	if len(names) > 1 {
		nameset := make(map[string]struct{}, len(names))
		for _, k := range names {
			nameset[k] = struct{}{}
		}
		match = func(name string) bool {
			_, ok := nameset[name]
			return ok
		}
	}

	dirs := make([]*Directive, 0, len(blk.Directives))
	for _, d := range blk.Directives {
		if match(d.Name) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Imports returns the import directives of f in source order. Imports are not expanded.
func Imports(f *File) []*Directive {
	var dirs []*Directive
	for _, blk := range f.Blocks {
		dirs = append(dirs, Select(blk, "import")...)
	}
	return dirs
}
