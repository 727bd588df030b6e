package caddyfile

import (
	"io"
	"strings"
)

// Format writes the text of f to w. For a File returned by Parse, the text is identical to the
// parsed input.
func Format(w io.Writer, f *File) error {
	_, err := io.WriteString(w, f.String())
	return err
}

func (f *File) String() string {
	var sb strings.Builder
	f.format(&sb)
	return sb.String()
}

func (f *File) format(sb *strings.Builder) {
	sb.WriteString(f.Leading)
	for _, b := range f.Blocks {
		b.format(sb)
	}
}

func (b *Block) String() string {
	var sb strings.Builder
	b.format(&sb)
	return sb.String()
}

func (b *Block) format(sb *strings.Builder) {
	sb.WriteString(b.Prelude)
	if b.Braced {
		for _, s := range b.Sites {
			sb.WriteString(s.Raw)
			sb.WriteString(s.Sep)
		}
		sb.WriteByte('{')
	}
	for _, d := range b.Directives {
		d.format(sb)
	}
	for _, frag := range b.Fragments {
		sb.WriteString(frag.Text)
	}
	if b.Braced {
		sb.WriteByte('}')
	}
	sb.WriteString(b.Postlude)
}

func (d *Directive) String() string {
	var sb strings.Builder
	d.format(&sb)
	return sb.String()
}

func (d *Directive) format(sb *strings.Builder) {
	sb.WriteString(d.Leading)
	if d.Matcher != "" {
		sb.WriteByte('@')
		sb.WriteString(d.Matcher)
		sb.WriteString(d.MatcherSep)
	}
	sb.WriteString(d.Name)
	for _, a := range d.Args {
		sb.WriteString(a.Spacing)
		sb.WriteString(a.Value)
	}
	if d.Body != nil {
		sb.WriteString(d.OpenSep)
		sb.WriteByte('{')
		sb.WriteString(BodyText(d.Body))
		sb.WriteByte('}')
	}
	sb.WriteString(d.Trailing)
}
