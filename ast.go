package caddyfile // import "go.spiff.io/caddyfile"

import "strings"

// File is the parsed form of a Caddyfile.
//
// Every byte of the source is held by exactly one field of the File or its descendants, and
// Format writes those fields back in order.
type File struct {
	// Name is the name given to the Lexer, usually a file path.
	Name string
	// Leading is whitespace and comments preceding the first block. It is stored as the
	// prelude of the sentinel block.
	Leading string
	// Blocks are the server blocks of the file in source order.
	Blocks []*Block
	// Degraded lists labels and nested bodies that could not be decomposed and are held only
	// as raw text.
	Degraded []*Degradation
}

// Block is a server block: a braced set of directives optionally labeled by site addresses, or
// a run of unbraced top-level directive lines (such as import statements).
type Block struct {
	// Start is the location of the block's opening brace, or of its first token for an
	// unbraced block.
	Start Location

	Prelude string
	Sites   []*Site
	Braced  bool

	Directives []*Directive
	// Fragments are comments and blank lines following the last directive, up to the closing
	// brace.
	Fragments []*Fragment

	// Postlude is the text after the closing brace through the end of that line. For the last
	// block of a file, it also holds any remaining whitespace and comments.
	Postlude string
}

// Global returns true if the block is the braced, unlabeled global options block.
func (b *Block) Global() bool {
	return b.Braced && len(b.Sites) == 0
}

// Snippet returns true if the block defines a snippet, i.e., it has a single label in parentheses.
func (b *Block) Snippet() bool {
	return len(b.Sites) == 1 && b.Sites[0].Snippet()
}

// Labels returns the raw labels of the block's sites.
func (b *Block) Labels() []string {
	labels := make([]string, len(b.Sites))
	for i, s := range b.Sites {
		labels[i] = s.Raw
	}
	return labels
}

// Summary returns a short human-readable description of the block's labels.
func (b *Block) Summary() string {
	switch {
	case b.Global():
		return "(global options)"
	case !b.Braced:
		names := make([]string, len(b.Directives))
		for i, d := range b.Directives {
			names[i] = d.Name
		}
		return "(top-level " + strings.Join(names, ", ") + ")"
	}
	return strings.Join(b.Labels(), ", ")
}

// Site is a single label of a block's address list.
type Site struct {
	// Raw is the label text as written. It is authoritative.
	Raw string
	// Sep is the text following the label up to the next label or the block's opening brace.
	// It holds commas, whitespace, and line breaks exactly as written.
	Sep string
	// Addr is the decomposed address, or nil if the label could not be decomposed.
	Addr *Address
}

// Snippet returns true if the label names a snippet.
func (s *Site) Snippet() bool {
	return len(s.Raw) > 2 && s.Raw[0] == '(' && s.Raw[len(s.Raw)-1] == ')'
}

// Directive is a single logical directive line within a block.
type Directive struct {
	Start Location

	// Leading is the text between the end of the previous node and the directive's first
	// token: indentation, blank lines, and comment lines.
	Leading string

	// Matcher is the matcher name without its '@', or empty.
	Matcher    string
	MatcherSep string

	Name string
	Args []*Arg

	// OpenSep is the text between the last argument and the opening brace of Body.
	OpenSep string
	// Body is the nested block of the directive, or nil if it has none.
	Body Body

	// Trailing is the text following the directive's last token through the end of its line,
	// newline included: spaces and an inline comment. A directive closed by a brace on its own
	// line has only the spaces before the brace.
	Trailing string
}

// HasBlock returns true if the directive has a nested block.
func (d *Directive) HasBlock() bool {
	return d.Body != nil
}

// ArgValues returns the raw text of each argument.
func (d *Directive) ArgValues() []string {
	vals := make([]string, len(d.Args))
	for i, a := range d.Args {
		vals[i] = a.Value
	}
	return vals
}

// Arg is a positional argument of a directive.
type Arg struct {
	// Spacing is the whitespace preceding the argument.
	Spacing string
	// Value is the raw token text, including quotes if quoted.
	Value string
}

// Body is the nested block of a directive. It is either a RawBody or a *KeyValueBody.
type Body interface {
	body()
}

// RawBody is a nested block held verbatim: everything between the braces.
type RawBody string

func (RawBody) body() {}

// KeyValueBody is a nested block decomposed into key/value lines, optionally grouped by one
// level of named sections.
type KeyValueBody struct {
	// Indent is the indentation of each top-level line.
	Indent string
	// CloseIndent is the indentation before the closing brace.
	CloseIndent string
	Pairs       []*KeyValue
}

func (*KeyValueBody) body() {}

// KeyValue is a single key and value line of a nested block.
type KeyValue struct {
	// Section is the name of the enclosing section, or empty for top-level lines.
	Section string
	Key     string
	// Value is the raw remainder of the line after the key and a single space.
	Value string
}

// FragmentKind identifies the content of a Fragment.
type FragmentKind string

// Fragment kinds.
const (
	FragComment FragmentKind = "comment" // A line holding a comment.
	FragBlank   FragmentKind = "blank"   // A line holding only whitespace.
	FragSpace   FragmentKind = "space"   // Whitespace with no line ending, e.g. indentation before '}'.
)

// Fragment is inert text that is not attached to any directive.
type Fragment struct {
	Kind FragmentKind
	Text string
}

func splitFragments(s string) []*Fragment {
	var frags []*Fragment
	for s != "" {
		var chunk string
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			chunk, s = s[:i+1], s[i+1:]
		} else {
			chunk, s = s, ""
		}
		kind := FragBlank
		switch {
		case strings.IndexByte(chunk, rComment) >= 0:
			kind = FragComment
		case !strings.HasSuffix(chunk, "\n"):
			kind = FragSpace
		}
		frags = append(frags, &Fragment{Kind: kind, Text: chunk})
	}
	return frags
}
