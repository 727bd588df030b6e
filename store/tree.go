package store

import (
	"golang.org/x/xerrors"

	"go.spiff.io/caddyfile"
)

// blockRows converts a file into rows. The returned slice begins with the sentinel block.
func blockRows(f *caddyfile.File) []ServerBlock {
	rows := make([]ServerBlock, 0, len(f.Blocks)+1)
	rows = append(rows, ServerBlock{
		BlockIndex: sentinelIndex,
		Prelude:    f.Leading,
	})
	for i, blk := range f.Blocks {
		rows = append(rows, blockRow(i, blk))
	}
	return rows
}

func blockRow(index int, blk *caddyfile.Block) ServerBlock {
	row := ServerBlock{
		BlockIndex: index,
		IsGlobal:   blk.Global(),
		Braced:     blk.Braced,
		Prelude:    blk.Prelude,
		Postlude:   blk.Postlude,
		Sites:      make([]ServerBlockSite, len(blk.Sites)),
		Directives: make([]Directive, len(blk.Directives)),
		Fragments:  make([]RawFragment, len(blk.Fragments)),
	}
	for i, site := range blk.Sites {
		row.Sites[i] = siteRow(i, site)
	}
	for i, d := range blk.Directives {
		row.Directives[i] = directiveRow(i, d)
	}
	for i, frag := range blk.Fragments {
		row.Fragments[i] = RawFragment{
			FragmentIndex: i,
			Kind:          string(frag.Kind),
			Content:       frag.Text,
		}
	}
	return row
}

func siteRow(index int, site *caddyfile.Site) ServerBlockSite {
	row := ServerBlockSite{
		LabelIndex: index,
		RawLabel:   site.Raw,
		Separator:  site.Sep,
	}
	if addr := site.Addr; addr != nil {
		row.Host = &addr.Host
		row.Scheme = &addr.Scheme
		row.Path = &addr.Path
		row.IsIPv6 = &addr.IPv6
		row.IsWildcard = &addr.Wildcard
		if addr.Port != 0 {
			port := addr.Port
			row.Port = &port
		}
	}
	return row
}

func directiveRow(index int, d *caddyfile.Directive) Directive {
	row := Directive{
		LineIndex:   index,
		Name:        d.Name,
		MatcherSep:  d.MatcherSep,
		RawLeading:  d.Leading,
		RawTrailing: d.Trailing,
		Args:        make([]DirectiveArg, len(d.Args)),
	}
	if d.Matcher != "" {
		matcher := d.Matcher
		row.Matcher = &matcher
	}
	for i, arg := range d.Args {
		row.Args[i] = DirectiveArg{
			ArgIndex: i,
			Value:    arg.Value,
			Spacing:  arg.Spacing,
		}
	}

	switch body := d.Body.(type) {
	case caddyfile.RawBody:
		raw := string(body)
		row.HasBlock, row.OpenSep, row.RawBlockBody = true, d.OpenSep, &raw
	case *caddyfile.KeyValueBody:
		row.HasBlock, row.OpenSep = true, d.OpenSep
		row.BodyIndent, row.CloseIndent = body.Indent, body.CloseIndent
		row.KeyValues = kvRows(body.Pairs)
	}
	return row
}

func kvRows(pairs []*caddyfile.KeyValue) []DirectiveKeyValue {
	rows := make([]DirectiveKeyValue, len(pairs))
	for i, kv := range pairs {
		rows[i] = DirectiveKeyValue{
			KVIndex: i,
			Key:     kv.Key,
			Value:   kv.Value,
		}
		if kv.Section != "" {
			section := kv.Section
			rows[i].Section = &section
		}
	}
	return rows
}

// checkRows reports the first directive that would be stored with both a raw body and
// key/value rows, or with a body but no block.
func checkRows(rows []ServerBlock) error {
	for _, blk := range rows {
		for _, d := range blk.Directives {
			if err := checkDirective(&d); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDirective(d *Directive) error {
	switch {
	case d.RawBlockBody != nil && len(d.KeyValues) > 0:
		return xerrors.Errorf("directive %q has both a raw body and key/value lines", d.Name)
	case !d.HasBlock && (d.RawBlockBody != nil || len(d.KeyValues) > 0):
		return xerrors.Errorf("directive %q has a body but no block", d.Name)
	}
	return nil
}

// fileFromRows reconstructs a file from a config and its blocks, which must be loaded in
// order.
func fileFromRows(cfg *Config) (*caddyfile.File, error) {
	f := &caddyfile.File{Name: cfg.Path}
	for _, row := range cfg.Blocks {
		if row.BlockIndex == sentinelIndex {
			f.Leading = row.Prelude
			continue
		}
		blk, err := blockFromRow(cfg.Name, &row)
		if err != nil {
			return nil, err
		}
		f.Blocks = append(f.Blocks, blk)
	}
	return f, nil
}

func blockFromRow(config string, row *ServerBlock) (*caddyfile.Block, error) {
	fail := func(line int, msg string) error {
		return &ExportError{Config: config, Block: row.BlockIndex, Line: line, Msg: msg}
	}
	if row.BlockIndex < 0 {
		return nil, fail(-1, "block has a negative index")
	}
	if !row.Braced && len(row.Sites) > 0 {
		return nil, fail(-1, "unbraced block has site labels")
	}

	blk := &caddyfile.Block{
		Prelude:    row.Prelude,
		Braced:     row.Braced,
		Postlude:   row.Postlude,
		Sites:      make([]*caddyfile.Site, len(row.Sites)),
		Directives: make([]*caddyfile.Directive, len(row.Directives)),
		Fragments:  make([]*caddyfile.Fragment, len(row.Fragments)),
	}
	for i := range row.Sites {
		blk.Sites[i] = siteFromRow(&row.Sites[i])
	}
	for i := range row.Directives {
		d, err := directiveFromRow(&row.Directives[i])
		if err != nil {
			return nil, fail(row.Directives[i].LineIndex, err.Error())
		}
		blk.Directives[i] = d
	}
	for i, frag := range row.Fragments {
		blk.Fragments[i] = &caddyfile.Fragment{
			Kind: caddyfile.FragmentKind(frag.Kind),
			Text: frag.Content,
		}
	}
	return blk, nil
}

func siteFromRow(row *ServerBlockSite) *caddyfile.Site {
	site := &caddyfile.Site{Raw: row.RawLabel, Sep: row.Separator}
	if row.Host == nil {
		return site
	}
	addr := &caddyfile.Address{Host: *row.Host}
	if row.Scheme != nil {
		addr.Scheme = *row.Scheme
	}
	if row.Port != nil {
		addr.Port = *row.Port
	}
	if row.Path != nil {
		addr.Path = *row.Path
	}
	if row.IsIPv6 != nil {
		addr.IPv6 = *row.IsIPv6
	}
	if row.IsWildcard != nil {
		addr.Wildcard = *row.IsWildcard
	}
	site.Addr = addr
	return site
}

func directiveFromRow(row *Directive) (*caddyfile.Directive, error) {
	if err := checkDirective(row); err != nil {
		return nil, err
	}

	d := &caddyfile.Directive{
		Leading:    row.RawLeading,
		MatcherSep: row.MatcherSep,
		Name:       row.Name,
		Args:       make([]*caddyfile.Arg, len(row.Args)),
		Trailing:   row.RawTrailing,
	}
	if row.Matcher != nil {
		d.Matcher = *row.Matcher
	}
	for i, arg := range row.Args {
		d.Args[i] = &caddyfile.Arg{Spacing: arg.Spacing, Value: arg.Value}
	}

	if !row.HasBlock {
		return d, nil
	}
	d.OpenSep = row.OpenSep
	if row.RawBlockBody != nil {
		d.Body = caddyfile.RawBody(*row.RawBlockBody)
		return d, nil
	}
	d.Body = kvBodyFromRow(row)
	return d, nil
}

func kvBodyFromRow(row *Directive) *caddyfile.KeyValueBody {
	body := &caddyfile.KeyValueBody{
		Indent:      row.BodyIndent,
		CloseIndent: row.CloseIndent,
		Pairs:       make([]*caddyfile.KeyValue, len(row.KeyValues)),
	}
	for i, kv := range row.KeyValues {
		pair := &caddyfile.KeyValue{Key: kv.Key, Value: kv.Value}
		if kv.Section != nil {
			pair.Section = *kv.Section
		}
		body.Pairs[i] = pair
	}
	return body
}
