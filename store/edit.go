package store

import (
	"context"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"go.spiff.io/caddyfile"
)

// Ref addresses rows of a stored config by position. Block is a block index, Line the index of
// a directive within that block, and Index the index of an argument or key/value pair within
// that directive. Fields that an operation does not use are ignored.
//
// For create operations, the position is where the new row is inserted; a negative position
// appends it.
type Ref struct {
	Config string
	Block  int
	Line   int
	Index  int
}

// DirectiveSpec is the content of a directive line.
type DirectiveSpec struct {
	// Matcher is the matcher name without its '@', or empty.
	Matcher string
	Name    string
	// Args are raw argument values. Each must be a single word or quoted string.
	Args []string
}

// KeyValueSpec is the content of a key/value line of a directive's body.
type KeyValueSpec struct {
	// Section is the name of the enclosing section, or empty.
	Section string
	Key     string
	Value   string
}

func (s *Store) edit(ctx context.Context, name, op string, fn func(tx *gorm.DB, cfg *Config) error) error {
	defer s.locks.lock(name)()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := loadConfig(tx, name)
		if err != nil {
			return err
		}
		if err := fn(tx, cfg); err != nil {
			return err
		}
		return tx.Model(&Config{}).Where("id = ?", cfg.ID).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return xerrors.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("Edited config", "config", name, "op", op)
	return nil
}

// CreateBlock inserts a braced block with the given labels at ref.Block. A block with no labels
// is a global options block, of which a config may have only one.
func (s *Store) CreateBlock(ctx context.Context, ref Ref, labels []string) error {
	return s.edit(ctx, ref.Config, "create block", func(tx *gorm.DB, cfg *Config) error {
		f, err := fileFromRows(cfg)
		if err != nil {
			return err
		}
		pos, err := position(ref.Block, len(f.Blocks))
		if err != nil {
			return err
		}
		if len(labels) == 0 {
			for _, blk := range f.Blocks {
				if blk.Global() {
					return xerrors.Errorf("config already has a global options block: %w", ErrInvalidArg)
				}
			}
		}
		sites, err := siteRows(labels, nil)
		if err != nil {
			return err
		}

		before := f.Leading
		for _, blk := range f.Blocks[:pos] {
			before += blk.String()
		}
		prelude := ""
		switch {
		case before == "":
		case strings.HasSuffix(before, "\n"):
			prelude = "\n"
		default:
			prelude = "\n\n"
		}

		row := ServerBlock{
			ConfigID:   cfg.ID,
			BlockIndex: pendingIndex,
			IsGlobal:   len(labels) == 0,
			Braced:     true,
			Prelude:    prelude,
			Postlude:   "\n",
			Sites:      sites,
			Fragments:  []RawFragment{{Kind: string(caddyfile.FragBlank), Content: "\n"}},
		}
		if err := tx.Create(&row).Error; err != nil {
			return xerrors.Errorf("insert block: %w", err)
		}
		return blockOrder.insert(tx, cfg.ID, row.ID, pos)
	})
}

// UpdateBlockLabels replaces the labels of a braced block. Separators of existing labels are
// kept where possible.
func (s *Store) UpdateBlockLabels(ctx context.Context, ref Ref, labels []string) error {
	return s.edit(ctx, ref.Config, "update block labels", func(tx *gorm.DB, cfg *Config) error {
		row, err := findBlock(cfg, ref.Block)
		if err != nil {
			return err
		}
		if !row.Braced {
			return xerrors.Errorf("block %d has no braces: %w", ref.Block, ErrInvalidArg)
		}
		if len(labels) == 0 {
			return xerrors.Errorf("block %d: no labels given: %w", ref.Block, ErrInvalidArg)
		}
		sites, err := siteRows(labels, row.Sites)
		if err != nil {
			return err
		}

		if err := tx.Where("block_id = ?", row.ID).Delete(&ServerBlockSite{}).Error; err != nil {
			return xerrors.Errorf("delete sites: %w", err)
		}
		for i := range sites {
			sites[i].BlockID = row.ID
		}
		if err := tx.Create(&sites).Error; err != nil {
			return xerrors.Errorf("insert sites: %w", err)
		}
		return tx.Model(&ServerBlock{}).Where("id = ?", row.ID).Update("is_global", false).Error
	})
}

// DeleteBlock deletes a block and everything in it.
func (s *Store) DeleteBlock(ctx context.Context, ref Ref) error {
	return s.edit(ctx, ref.Config, "delete block", func(tx *gorm.DB, cfg *Config) error {
		row, err := findBlock(cfg, ref.Block)
		if err != nil {
			return err
		}
		if err := tx.Delete(&ServerBlock{}, row.ID).Error; err != nil {
			return xerrors.Errorf("delete block: %w", err)
		}
		return blockOrder.compact(tx, cfg.ID)
	})
}

// CreateDirective inserts a directive line at ref.Line of block ref.Block. Its indentation is
// taken from the block's other directives; the text of neighboring directives is not changed.
func (s *Store) CreateDirective(ctx context.Context, ref Ref, spec DirectiveSpec) error {
	d, err := newDirective(spec)
	if err != nil {
		return err
	}
	return s.edit(ctx, ref.Config, "create directive", func(tx *gorm.DB, cfg *Config) error {
		row, blk, err := blockTree(cfg, ref.Block)
		if err != nil {
			return err
		}
		pos, err := position(ref.Line, len(blk.Directives))
		if err != nil {
			return err
		}

		before, after := directiveContext(blk, pos)
		indent := blockIndent(blk)
		d.Leading, d.Trailing = "\n"+indent, "\n"
		if lineStart(blk, before) {
			d.Leading = indent
		} else if strings.HasPrefix(after, "\n") {
			d.Trailing = ""
		}

		dr := directiveRow(pendingIndex, d)
		dr.BlockID = row.ID
		if err := tx.Create(&dr).Error; err != nil {
			return xerrors.Errorf("insert directive: %w", err)
		}
		return directiveOrder.insert(tx, row.ID, dr.ID, pos)
	})
}

// UpdateDirective replaces the matcher, name, and arguments of a directive, keeping its
// surrounding text, its body, and the spacing of arguments that remain.
func (s *Store) UpdateDirective(ctx context.Context, ref Ref, spec DirectiveSpec) error {
	d, err := newDirective(spec)
	if err != nil {
		return err
	}
	return s.edit(ctx, ref.Config, "update directive", func(tx *gorm.DB, cfg *Config) error {
		dr, err := findDirective(cfg, ref)
		if err != nil {
			return err
		}

		var matcher *string
		matcherSep := ""
		if d.Matcher != "" {
			matcher, matcherSep = &d.Matcher, dr.MatcherSep
			if matcherSep == "" {
				matcherSep = " "
			}
		}
		err = tx.Model(&Directive{}).Where("id = ?", dr.ID).Updates(map[string]any{
			"name":        d.Name,
			"matcher":     matcher,
			"matcher_sep": matcherSep,
		}).Error
		if err != nil {
			return xerrors.Errorf("update directive: %w", err)
		}

		if err := tx.Where("directive_id = ?", dr.ID).Delete(&DirectiveArg{}).Error; err != nil {
			return xerrors.Errorf("delete args: %w", err)
		}
		if len(d.Args) == 0 {
			return nil
		}
		args := make([]DirectiveArg, len(d.Args))
		for i, arg := range d.Args {
			args[i] = DirectiveArg{DirectiveID: dr.ID, ArgIndex: i, Value: arg.Value, Spacing: arg.Spacing}
			if i < len(dr.Args) {
				args[i].Spacing = dr.Args[i].Spacing
			}
		}
		if err := tx.Create(&args).Error; err != nil {
			return xerrors.Errorf("insert args: %w", err)
		}
		return nil
	})
}

// DeleteDirective deletes a directive line along with its leading text.
func (s *Store) DeleteDirective(ctx context.Context, ref Ref) error {
	return s.edit(ctx, ref.Config, "delete directive", func(tx *gorm.DB, cfg *Config) error {
		row, blk, err := blockTree(cfg, ref.Block)
		if err != nil {
			return err
		}
		dr, err := findDirective(cfg, ref)
		if err != nil {
			return err
		}
		pos := ref.Line

		if err := tx.Delete(&Directive{}, dr.ID).Error; err != nil {
			return xerrors.Errorf("delete directive: %w", err)
		}
		if err := directiveOrder.compact(tx, row.ID); err != nil {
			return err
		}

		// Keep the next line from joining the line before the deleted directive.
		before, _ := directiveContext(blk, pos)
		_, after := directiveContext(blk, pos+1)
		if lineStart(blk, before) || strings.HasPrefix(after, "\n") ||
			!strings.Contains(blk.Directives[pos].String(), "\n") {
			return nil
		}
		if pos+1 < len(blk.Directives) {
			next := row.Directives[pos+1]
			return tx.Model(&Directive{}).Where("id = ?", next.ID).
				Update("raw_leading", "\n"+next.RawLeading).Error
		}
		if !blk.Braced {
			return tx.Model(&ServerBlock{}).Where("id = ?", row.ID).
				Update("postlude", "\n"+row.Postlude).Error
		}
		frag := RawFragment{
			BlockID:       row.ID,
			FragmentIndex: pendingIndex,
			Kind:          string(caddyfile.FragBlank),
			Content:       "\n",
		}
		if err := tx.Create(&frag).Error; err != nil {
			return xerrors.Errorf("insert fragment: %w", err)
		}
		return fragmentOrder.insert(tx, row.ID, frag.ID, 0)
	})
}

// CreateArg inserts an argument at ref.Index of a directive.
func (s *Store) CreateArg(ctx context.Context, ref Ref, value string) error {
	if err := checkArg(value); err != nil {
		return err
	}
	return s.edit(ctx, ref.Config, "create arg", func(tx *gorm.DB, cfg *Config) error {
		dr, err := findDirective(cfg, ref)
		if err != nil {
			return err
		}
		// The first argument of a line with only a matcher would be read back as its name.
		if dr.Name == "" {
			return xerrors.Errorf("block %d directive %d has no name to follow: %w", ref.Block, ref.Line, ErrInvalidArg)
		}
		pos, err := position(ref.Index, len(dr.Args))
		if err != nil {
			return err
		}
		arg := DirectiveArg{DirectiveID: dr.ID, ArgIndex: pendingIndex, Value: value, Spacing: " "}
		if err := tx.Create(&arg).Error; err != nil {
			return xerrors.Errorf("insert arg: %w", err)
		}
		return argOrder.insert(tx, dr.ID, arg.ID, pos)
	})
}

// UpdateArg replaces the value of an argument, keeping its spacing.
func (s *Store) UpdateArg(ctx context.Context, ref Ref, value string) error {
	if err := checkArg(value); err != nil {
		return err
	}
	return s.edit(ctx, ref.Config, "update arg", func(tx *gorm.DB, cfg *Config) error {
		arg, err := findArg(cfg, ref)
		if err != nil {
			return err
		}
		return tx.Model(&DirectiveArg{}).Where("id = ?", arg.ID).Update("value", value).Error
	})
}

// DeleteArg deletes an argument.
func (s *Store) DeleteArg(ctx context.Context, ref Ref) error {
	return s.edit(ctx, ref.Config, "delete arg", func(tx *gorm.DB, cfg *Config) error {
		arg, err := findArg(cfg, ref)
		if err != nil {
			return err
		}
		if err := tx.Delete(&DirectiveArg{}, arg.ID).Error; err != nil {
			return xerrors.Errorf("delete arg: %w", err)
		}
		return argOrder.compact(tx, arg.DirectiveID)
	})
}

// CreateKeyValue inserts a key/value line at ref.Index of a directive's body. A directive with
// no body is given one. A raw body is decomposed first; if it cannot be, ErrRawBody is
// returned.
func (s *Store) CreateKeyValue(ctx context.Context, ref Ref, spec KeyValueSpec) error {
	if err := checkKeyValue(spec); err != nil {
		return err
	}
	return s.edit(ctx, ref.Config, "create key/value", func(tx *gorm.DB, cfg *Config) error {
		dr, err := findDirective(cfg, ref)
		if err != nil {
			return err
		}
		if err := structureBody(tx, dr); err != nil {
			return err
		}
		pos, err := position(ref.Index, len(dr.KeyValues))
		if err != nil {
			return err
		}

		kv := kvRows([]*caddyfile.KeyValue{{Section: spec.Section, Key: spec.Key, Value: spec.Value}})[0]
		kv.DirectiveID, kv.KVIndex = dr.ID, pendingIndex
		if err := tx.Create(&kv).Error; err != nil {
			return xerrors.Errorf("insert key/value: %w", err)
		}
		return kvOrder.insert(tx, dr.ID, kv.ID, pos)
	})
}

// UpdateKeyValue replaces a key/value line of a directive's body.
func (s *Store) UpdateKeyValue(ctx context.Context, ref Ref, spec KeyValueSpec) error {
	if err := checkKeyValue(spec); err != nil {
		return err
	}
	return s.edit(ctx, ref.Config, "update key/value", func(tx *gorm.DB, cfg *Config) error {
		kv, err := findKeyValue(tx, cfg, ref)
		if err != nil {
			return err
		}
		var section *string
		if spec.Section != "" {
			section = &spec.Section
		}
		return tx.Model(&DirectiveKeyValue{}).Where("id = ?", kv.ID).Updates(map[string]any{
			"section": section,
			"key":     spec.Key,
			"value":   spec.Value,
		}).Error
	})
}

// DeleteKeyValue deletes a key/value line of a directive's body. The body itself is kept, even
// if it is left empty.
func (s *Store) DeleteKeyValue(ctx context.Context, ref Ref) error {
	return s.edit(ctx, ref.Config, "delete key/value", func(tx *gorm.DB, cfg *Config) error {
		kv, err := findKeyValue(tx, cfg, ref)
		if err != nil {
			return err
		}
		if err := tx.Delete(&DirectiveKeyValue{}, kv.ID).Error; err != nil {
			return xerrors.Errorf("delete key/value: %w", err)
		}
		return kvOrder.compact(tx, kv.DirectiveID)
	})
}

func findBlock(cfg *Config, index int) (*ServerBlock, error) {
	if index >= 0 {
		for i := range cfg.Blocks {
			if cfg.Blocks[i].BlockIndex == index {
				return &cfg.Blocks[i], nil
			}
		}
	}
	return nil, xerrors.Errorf("block %d: %w", index, ErrNotFound)
}

// blockTree returns a block's row and its reconstructed form.
func blockTree(cfg *Config, index int) (*ServerBlock, *caddyfile.Block, error) {
	row, err := findBlock(cfg, index)
	if err != nil {
		return nil, nil, err
	}
	blk, err := blockFromRow(cfg.Name, row)
	if err != nil {
		return nil, nil, err
	}
	return row, blk, nil
}

func findDirective(cfg *Config, ref Ref) (*Directive, error) {
	blk, err := findBlock(cfg, ref.Block)
	if err != nil {
		return nil, err
	}
	if ref.Line < 0 || ref.Line >= len(blk.Directives) {
		return nil, xerrors.Errorf("block %d directive %d: %w", ref.Block, ref.Line, ErrNotFound)
	}
	return &blk.Directives[ref.Line], nil
}

func findArg(cfg *Config, ref Ref) (*DirectiveArg, error) {
	dr, err := findDirective(cfg, ref)
	if err != nil {
		return nil, err
	}
	if ref.Index < 0 || ref.Index >= len(dr.Args) {
		return nil, xerrors.Errorf("block %d directive %d arg %d: %w", ref.Block, ref.Line, ref.Index, ErrNotFound)
	}
	return &dr.Args[ref.Index], nil
}

func findKeyValue(tx *gorm.DB, cfg *Config, ref Ref) (*DirectiveKeyValue, error) {
	dr, err := findDirective(cfg, ref)
	if err != nil {
		return nil, err
	}
	if !dr.HasBlock {
		return nil, xerrors.Errorf("block %d directive %d has no body: %w", ref.Block, ref.Line, ErrNotFound)
	}
	if err := structureBody(tx, dr); err != nil {
		return nil, err
	}
	if ref.Index < 0 || ref.Index >= len(dr.KeyValues) {
		return nil, xerrors.Errorf("block %d directive %d key/value %d: %w", ref.Block, ref.Line, ref.Index, ErrNotFound)
	}
	return &dr.KeyValues[ref.Index], nil
}

// structureBody converts the body of dr to key/value rows, giving it an empty body first if it
// has none. dr is updated to match the stored rows.
func structureBody(tx *gorm.DB, dr *Directive) error {
	indent := lineIndent(dr.RawLeading)
	body := &caddyfile.KeyValueBody{Indent: indent + "\t", CloseIndent: indent}

	switch {
	case dr.HasBlock && dr.RawBlockBody == nil:
		return nil
	case dr.HasBlock && strings.TrimSpace(*dr.RawBlockBody) != "":
		var err error
		if body, err = caddyfile.DecomposeBody(*dr.RawBlockBody); err != nil {
			return xerrors.Errorf("directive %q: %v: %w", dr.Name, err, ErrRawBody)
		}
	}

	updates := map[string]any{
		"has_block":      true,
		"raw_block_body": nil,
		"body_indent":    body.Indent,
		"close_indent":   body.CloseIndent,
	}
	if !dr.HasBlock {
		updates["open_sep"] = " "
		dr.OpenSep = " "
	}
	if err := tx.Model(&Directive{}).Where("id = ?", dr.ID).Updates(updates).Error; err != nil {
		return xerrors.Errorf("update directive body: %w", err)
	}
	dr.HasBlock, dr.RawBlockBody = true, nil
	dr.BodyIndent, dr.CloseIndent = body.Indent, body.CloseIndent

	dr.KeyValues = kvRows(body.Pairs)
	if len(dr.KeyValues) == 0 {
		return nil
	}
	for i := range dr.KeyValues {
		dr.KeyValues[i].DirectiveID = dr.ID
	}
	if err := tx.Create(&dr.KeyValues).Error; err != nil {
		return xerrors.Errorf("insert key/values: %w", err)
	}
	return nil
}

// directiveContext returns the text of blk before and after the position pos among its
// directives.
func directiveContext(blk *caddyfile.Block, pos int) (before, after string) {
	var sb strings.Builder
	sb.WriteString(blk.Prelude)
	if blk.Braced {
		for _, site := range blk.Sites {
			sb.WriteString(site.Raw)
			sb.WriteString(site.Sep)
		}
		sb.WriteByte('{')
	}
	for _, d := range blk.Directives[:pos] {
		sb.WriteString(d.String())
	}
	before = sb.String()

	sb.Reset()
	for _, d := range blk.Directives[pos:] {
		sb.WriteString(d.String())
	}
	for _, frag := range blk.Fragments {
		sb.WriteString(frag.Text)
	}
	if blk.Braced {
		sb.WriteByte('}')
	}
	sb.WriteString(blk.Postlude)
	return before, sb.String()
}

// lineStart returns true if text following before in blk begins a new line.
func lineStart(blk *caddyfile.Block, before string) bool {
	return strings.HasSuffix(before, "\n") || (!blk.Braced && before == "")
}

// blockIndent returns the indentation of the first directive of blk that begins its own line.
func blockIndent(blk *caddyfile.Block) string {
	for _, d := range blk.Directives {
		if strings.Contains(d.Leading, "\n") {
			return lineIndent(d.Leading)
		}
	}
	if blk.Braced {
		return "\t"
	}
	return ""
}

// lineIndent returns the whitespace at the end of leading, after its last newline.
func lineIndent(leading string) string {
	last := leading[strings.LastIndexByte(leading, '\n')+1:]
	if strings.Trim(last, " \t") != "" {
		return ""
	}
	return last
}

func newDirective(spec DirectiveSpec) (*caddyfile.Directive, error) {
	if err := checkWord("directive name", spec.Name); err != nil {
		return nil, err
	}
	if strings.HasPrefix(spec.Name, "@") {
		return nil, xerrors.Errorf("directive name %q begins with '@': %w", spec.Name, ErrInvalidArg)
	}
	d := &caddyfile.Directive{Name: spec.Name}
	if spec.Matcher != "" {
		if err := checkWord("matcher", "@"+spec.Matcher); err != nil {
			return nil, err
		}
		d.Matcher, d.MatcherSep = spec.Matcher, " "
	}
	for _, arg := range spec.Args {
		if err := checkArg(arg); err != nil {
			return nil, err
		}
		d.Args = append(d.Args, &caddyfile.Arg{Spacing: " ", Value: arg})
	}
	return d, nil
}

// siteRows returns site rows for labels. Separators are taken from old where it has a label at
// the same position, so that line breaks between labels survive relabeling.
func siteRows(labels []string, old []ServerBlockSite) ([]ServerBlockSite, error) {
	rows := make([]ServerBlockSite, len(labels))
	for i, label := range labels {
		if err := checkWord("label", label); err != nil {
			return nil, err
		}
		if strings.ContainsRune(label, ',') {
			return nil, xerrors.Errorf("label %q contains a comma: %w", label, ErrInvalidArg)
		}

		site := &caddyfile.Site{Raw: label, Sep: ", "}
		switch last := i == len(labels)-1; {
		case last && len(old) > 0:
			site.Sep = old[len(old)-1].Separator
		case last:
			site.Sep = " "
		case i < len(old)-1:
			site.Sep = old[i].Separator
		}
		if addr, err := caddyfile.ParseAddress(label); err == nil {
			site.Addr = addr
		}
		rows[i] = siteRow(i, site)
	}
	return rows, nil
}

func checkWord(what, s string) error {
	tok, err := caddyfile.LexArg(s)
	if err != nil {
		return xerrors.Errorf("%s: %v: %w", what, err, ErrInvalidArg)
	}
	if tok.Kind != caddyfile.TWord {
		return xerrors.Errorf("%s %q is not a bare word: %w", what, s, ErrInvalidArg)
	}
	return nil
}

func checkArg(s string) error {
	if _, err := caddyfile.LexArg(s); err != nil {
		return xerrors.Errorf("argument: %v: %w", err, ErrInvalidArg)
	}
	return nil
}

func checkKeyValue(spec KeyValueSpec) error {
	if spec.Section != "" {
		if err := checkWord("section", spec.Section); err != nil {
			return err
		}
	}
	if err := checkWord("key", spec.Key); err != nil {
		return err
	}
	if spec.Value == "" {
		return nil
	}
	if strings.TrimSpace(spec.Value) != spec.Value {
		return xerrors.Errorf("value %q has surrounding whitespace: %w", spec.Value, ErrInvalidArg)
	}
	toks, err := caddyfile.Tokenize("", []byte(spec.Value))
	if err != nil {
		return xerrors.Errorf("value: %v: %w", err, ErrInvalidArg)
	}
	for _, tok := range toks {
		switch tok.Kind {
		case caddyfile.TNewline, caddyfile.TComment, caddyfile.TCurlOpen, caddyfile.TCurlClose:
			return xerrors.Errorf("value %q contains a %v: %w", spec.Value, tok.Kind, ErrInvalidArg)
		}
	}
	return nil
}
