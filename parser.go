package caddyfile

import (
	"strings"
)

type tokenConsumer func(Token) (tokenConsumer, error)

// TokenReader is anything capable of reading a token and returning either it or an error.
type TokenReader interface {
	ReadToken() (Token, error)
}

// Parser consumes tokens from a TokenReader and constructs a *File from them.
//
// The Parser places every token it reads into the File, either as a structural element (label,
// directive name, argument) or as verbatim text attached to the nearest element. Whitespace and
// comments are assigned as follows:
//
//   - Before the first block: File.Leading.
//   - Between blocks: the next block's Prelude, except for the rest of the line following
//     a closing brace, which is the closed block's Postlude.
//   - Between directives: the next directive's Leading. A directive's Trailing text ends with
//     the first newline after its last token, so an inline comment is always trailing text and
//     a following blank line never is.
//   - After the last directive of a block: the block's Fragments.
//   - At the end of the file: the last block's Postlude.
type Parser struct {
	file *File
	next tokenConsumer

	// parseErr is the last error returned by Parse() -- if any error occurs during Parse,
	// subsequent calls to Parse will return this.
	parseErr error

	state parseState
}

// parseState holds everything the parser knows between two tokens.
type parseState struct {
	started bool
	trivia  strings.Builder
	line    []Token

	block  *Block // braced block being filled
	closed *Block // block whose postlude is being read

	dir   *Directive // directive whose nested body or trailing text is being read
	opens []Location // unclosed braces of the nested body
	body  strings.Builder
}

// NewParser allocates a new *Parser and returns it. The name is recorded as the File's name.
func NewParser(name string) *Parser {
	return &Parser{
		file: &File{Name: name},
	}
}

// Parse parses src as a Caddyfile named name.
func Parse(name string, src []byte) (*File, error) {
	p := NewParser(name)
	if err := p.Parse(NewLexer(name, src)); err != nil {
		return nil, err
	}
	return p.File(), nil
}

// Parse consumes tokens from a TokenReader until EOF and constructs a File from its tokens.
//
// If an error occurs during parsing, Parse will return that error for all subsequent calls to
// Parse, as the parser has been left in a middle-of-parsing state.
func (p *Parser) Parse(tr TokenReader) (err error) {
	if p.parseErr != nil {
		return p.parseErr
	}

	defer func() {
		if err != nil {
			p.parseErr = err
		}
	}()

	if p.next == nil {
		p.next = p.topLevel
	}

	var tok Token
	for p.next != nil {
		if tok, err = tr.ReadToken(); err != nil {
			return err
		}
		if p.next, err = p.next(tok); err != nil {
			return err
		}
	}

	return nil
}

// File returns the file constructed by Parser.
func (p *Parser) File() *File {
	return p.file
}

func (p *Parser) takeTrivia() string {
	s := p.state.trivia.String()
	p.state.trivia.Reset()
	return s
}

// begin moves trivia preceding the first non-trivia token into the file's leading text.
func (p *Parser) begin() {
	if !p.state.started {
		p.file.Leading = p.takeTrivia()
		p.state.started = true
	}
}

func (p *Parser) degrade(loc Location, what, raw string, err error) {
	p.file.Degraded = append(p.file.Degraded, &Degradation{
		Loc:  loc,
		What: what,
		Raw:  raw,
		Err:  err,
	})
}

func (p *Parser) topLevel(tok Token) (tokenConsumer, error) {
	switch tok.Kind {
	case TWhitespace, TNewline, TComment:
		p.state.trivia.Write(tok.Raw)
		return p.topLevel, nil
	case TEOF:
		p.finish()
		return nil, nil
	case TCurlClose:
		return nil, structural(tok, "no block to close")
	case TCurlOpen:
		p.begin()
		return p.openBlock(nil, tok), nil
	}
	p.begin()
	p.state.line = append(p.state.line[:0], tok)
	return p.header, nil
}

// header reads the tokens of a top-level line. The line is a block's address list if it ends
// in an opening brace, or an unbraced directive otherwise.
func (p *Parser) header(tok Token) (tokenConsumer, error) {
	switch tok.Kind {
	case TCurlOpen:
		return p.openBlock(p.state.line, tok), nil
	case TCurlClose:
		return nil, structural(tok, "no block to close")
	case TNewline:
		p.state.line = append(p.state.line, tok)
		if continuesHeader(p.state.line) {
			return p.header, nil
		}
		p.bareDirective()
		return p.topLevel, nil
	case TEOF:
		p.bareDirective()
		return p.topLevel(tok)
	}
	p.state.line = append(p.state.line, tok)
	return p.header, nil
}

// continuesHeader returns true if the last label of line ends in a comma, continuing the address
// list onto the next line.
func continuesHeader(line []Token) bool {
	for i := len(line) - 1; i >= 0; i-- {
		if tok := line[i]; !tok.Trivia() {
			return tok.Kind == TWord && strings.HasSuffix(tok.Value, ",")
		}
	}
	return false
}

// bareDirective adds the current line as a directive of an unbraced block. Consecutive unbraced
// lines share a block.
func (p *Parser) bareDirective() {
	var blk *Block
	if n := len(p.file.Blocks); n > 0 && !p.file.Blocks[n-1].Braced {
		blk = p.file.Blocks[n-1]
	} else {
		blk = &Block{Start: p.state.line[0].Start, Prelude: p.takeTrivia()}
		p.file.Blocks = append(p.file.Blocks, blk)
	}
	blk.Directives = append(blk.Directives, p.directive(p.state.line))
	p.state.line = p.state.line[:0]
}

func (p *Parser) openBlock(header []Token, open Token) tokenConsumer {
	blk := &Block{
		Start:   open.Start,
		Prelude: p.takeTrivia(),
		Braced:  true,
		Sites:   p.sites(header),
	}
	p.file.Blocks = append(p.file.Blocks, blk)
	p.state.block = blk
	p.state.line = p.state.line[:0]
	return p.inBlock
}

// sites splits the tokens of a block header into labels. Commas may appear inside of words
// ("a.com,b.com"), so words are split on them; everything between two labels is kept as the
// separator of the first.
func (p *Parser) sites(header []Token) []*Site {
	var (
		sites []*Site
		cur   *Site
		sep   strings.Builder
	)

	add := func(raw string, loc Location) {
		if cur != nil {
			cur.Sep = sep.String()
			sep.Reset()
		}
		cur = &Site{Raw: raw}
		sites = append(sites, cur)
		p.address(cur, loc)
	}

	for _, tok := range header {
		if tok.Trivia() {
			sep.Write(tok.Raw)
			continue
		}
		if tok.Kind != TWord {
			add(string(tok.Raw), tok.Start)
			continue
		}

		text, loc := tok.Value, tok.Start
		for text != "" {
			i := strings.IndexByte(text, ',')
			switch {
			case i < 0:
				add(text, loc)
				i = len(text)
			case i > 0:
				add(text[:i], loc)
			default:
				if cur == nil {
					// A leading comma: hold it in an empty label.
					add("", loc)
				}
				sep.WriteByte(',')
				i = 1
			}
			text = text[i:]
			loc.Offset += i
			loc.Column += i
		}
	}

	if cur != nil {
		cur.Sep = sep.String()
	}
	return sites
}

func (p *Parser) address(site *Site, loc Location) {
	addr, err := ParseAddress(site.Raw)
	if err == ErrSnippetLabel {
		return
	} else if err != nil {
		p.degrade(loc, "label", site.Raw, err)
		return
	}
	site.Addr = addr
}

func (p *Parser) inBlock(tok Token) (tokenConsumer, error) {
	switch tok.Kind {
	case TWhitespace, TNewline, TComment:
		p.state.trivia.Write(tok.Raw)
		return p.inBlock, nil
	case TCurlClose:
		return p.closeBlock(), nil
	case TEOF:
		return nil, unclosed(tok, p.state.block.Start)
	case TCurlOpen:
		p.state.line = p.state.line[:0]
		return p.openBody(tok), nil
	}
	p.state.line = append(p.state.line[:0], tok)
	return p.directiveLine, nil
}

func (p *Parser) directiveLine(tok Token) (tokenConsumer, error) {
	switch tok.Kind {
	case TNewline:
		p.state.line = append(p.state.line, tok)
		p.addDirective()
		return p.inBlock, nil
	case TCurlOpen:
		return p.openBody(tok), nil
	case TCurlClose:
		p.addDirective()
		return p.closeBlock(), nil
	case TEOF:
		return nil, unclosed(tok, p.state.block.Start)
	}
	p.state.line = append(p.state.line, tok)
	return p.directiveLine, nil
}

func (p *Parser) addDirective() *Directive {
	d := p.directive(p.state.line)
	p.state.block.Directives = append(p.state.block.Directives, d)
	p.state.line = p.state.line[:0]
	return d
}

// directive builds a Directive from the tokens of a line. Whitespace and comments before the
// line are taken as its leading text.
func (p *Parser) directive(line []Token) *Directive {
	d := &Directive{Leading: p.takeTrivia()}
	if len(line) > 0 {
		d.Start = line[0].Start
	}

	var spacing strings.Builder
	named := false
	for i, tok := range line {
		switch tok.Kind {
		case TWhitespace:
			spacing.Write(tok.Raw)
			continue
		case TComment, TNewline:
			d.Trailing = spacing.String() + rawText(line[i:])
			return d
		}

		raw := string(tok.Raw)
		switch {
		case i == 0 && isMatcher(tok):
			d.Matcher = raw[1:]
		case !named:
			d.MatcherSep = spacing.String()
			d.Name, named = raw, true
		default:
			d.Args = append(d.Args, &Arg{Spacing: spacing.String(), Value: raw})
		}
		spacing.Reset()
	}
	d.Trailing = spacing.String()
	return d
}

func isMatcher(tok Token) bool {
	return tok.Kind == TWord && len(tok.Value) > 1 && tok.Value[0] == '@'
}

func rawText(toks []Token) string {
	var sb strings.Builder
	for _, tok := range toks {
		sb.Write(tok.Raw)
	}
	return sb.String()
}

// openBody ends the current line's directive at an opening brace and begins capturing its
// nested block.
func (p *Parser) openBody(open Token) tokenConsumer {
	d := p.addDirective()
	if len(d.Name) == 0 && len(d.Matcher) == 0 {
		d.Start = open.Start
	}
	d.OpenSep, d.Trailing = d.Trailing, ""
	p.state.dir = d
	p.state.opens = append(p.state.opens[:0], open.Start)
	p.state.body.Reset()
	return p.nestedBody
}

// nestedBody captures a nested block verbatim, tracking brace depth, until its matching close
// brace.
func (p *Parser) nestedBody(tok Token) (tokenConsumer, error) {
	switch tok.Kind {
	case TEOF:
		return nil, unclosed(tok, p.state.opens[len(p.state.opens)-1])
	case TCurlOpen:
		p.state.opens = append(p.state.opens, tok.Start)
	case TCurlClose:
		p.state.opens = p.state.opens[:len(p.state.opens)-1]
		if len(p.state.opens) == 0 {
			p.setBody(p.state.dir, p.state.body.String())
			return p.afterBody, nil
		}
	}
	p.state.body.Write(tok.Raw)
	return p.nestedBody, nil
}

func (p *Parser) setBody(d *Directive, raw string) {
	kv, err := DecomposeBody(raw)
	if err == nil {
		d.Body = kv
		return
	}
	d.Body = RawBody(raw)
	if err != errEmptyBody {
		p.degrade(d.Start, "body", raw, err)
	}
}

// afterBody reads the rest of the line following a nested block.
func (p *Parser) afterBody(tok Token) (tokenConsumer, error) {
	d := p.state.dir
	switch tok.Kind {
	case TWhitespace, TComment:
		d.Trailing += string(tok.Raw)
		return p.afterBody, nil
	case TNewline:
		d.Trailing += string(tok.Raw)
		p.state.dir = nil
		return p.inBlock, nil
	case TCurlClose:
		p.state.dir = nil
		return p.closeBlock(), nil
	case TEOF:
		return nil, unclosed(tok, p.state.block.Start)
	}
	return nil, structural(tok, "expected end of line after nested block of %q", d.Name)
}

func (p *Parser) closeBlock() tokenConsumer {
	blk := p.state.block
	blk.Fragments = splitFragments(p.takeTrivia())
	p.state.block, p.state.closed = nil, blk
	return p.afterBlock
}

// afterBlock reads the rest of the line following a block's closing brace.
func (p *Parser) afterBlock(tok Token) (tokenConsumer, error) {
	switch tok.Kind {
	case TWhitespace, TComment:
		p.state.trivia.Write(tok.Raw)
		return p.afterBlock, nil
	case TNewline:
		p.state.trivia.Write(tok.Raw)
		p.state.closed.Postlude = p.takeTrivia()
		p.state.closed = nil
		return p.topLevel, nil
	}
	p.state.closed.Postlude = p.takeTrivia()
	p.state.closed = nil
	return p.topLevel(tok)
}

func (p *Parser) finish() {
	rest := p.takeTrivia()
	if n := len(p.file.Blocks); n > 0 {
		p.file.Blocks[n-1].Postlude += rest
		return
	}
	p.file.Leading += rest
}
