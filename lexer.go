package caddyfile // import "go.spiff.io/caddyfile"

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnexpectedEOF is returned by the Lexer when EOF is encountered mid-token where a valid token
// cannot be cut off.
var ErrUnexpectedEOF = errors.New("unexpected EOF")

const eof rune = -1

// TokenKind is an enumeration of the kinds of tokens produced by a Lexer and consumed by a Parser.
type TokenKind uint

func (t TokenKind) String() string {
	i := int(t)
	if i < 0 || len(tokenNames) <= i {
		return "invalid"
	}
	return tokenNames[t]
}

// Lex-able Token kinds encountered in a Caddyfile.
const (
	tEmpty = TokenKind(iota)

	TEOF // !.

	// Space := !'\n' Unicode(White_Space)

	TWhitespace // Space+ (a '\r' directly before '\n' belongs to TNewline)
	TNewline    // '\n' | '\r\n'
	TComment    // '#' { !EOL . }, only at the start of a token

	TWord      // { !Space !'\n' . }+
	TString    // '"' ( '\\' . | [^"] )* '"'
	TRawString // '`' [^`]* '`'

	// Braces are words that consist of only a single brace. Braces inside of a longer word,
	// such as placeholders ({path}, {$ENV}), are part of the word.
	TCurlOpen  // '{'
	TCurlClose // '}'
)

var tokenNames = []string{
	tEmpty: "empty",

	TEOF: "EOF",

	TWhitespace: "whitespace",
	TNewline:    "newline",
	TComment:    "comment",

	TWord:      "word",
	TString:    "string",
	TRawString: "raw string",

	TCurlOpen:  "open brace",
	TCurlClose: "close brace",
}

// Token is a token with a kind and a start and end location.
//
// Raw is always the exact slice of input covered by the token, so concatenating the Raw fields of
// every token read from a Lexer reproduces its input. Value is the interpreted text of the token:
// the word itself for TWord, the unquoted and unescaped contents for TString and TRawString, and
// the comment text following '#' for TComment.
type Token struct {
	Start, End Location
	Kind       TokenKind
	Raw        []byte
	Value      string
}

// Trivia returns true if the token is whitespace, a newline, or a comment.
func (t Token) Trivia() bool {
	switch t.Kind {
	case TWhitespace, TNewline, TComment:
		return true
	}
	return false
}

// Location describes a location in an input byte sequence.
type Location struct {
	Name   string // Name is an identifier, usually a file path, for the location.
	Offset int    // A byte offset into an input sequence. Starts at 0.
	Line   int    // A line number, delimited by '\n'. Starts at 1.
	Column int    // A column number. Starts at 1.
}

func (l Location) String() string {
	pos := strconv.Itoa(l.Line) + ":" + strconv.Itoa(l.Column) + ":" + strconv.Itoa(l.Offset)
	if l.Name != "" {
		return l.Name + ":" + pos
	}
	return pos
}

func (l Location) add(r rune, size int) Location {
	l.Offset += size
	l.Column++
	if r == '\n' {
		l.Line++
		l.Column = 1
	}
	return l
}

var noToken Token

// Special lexer runes
const (
	rNewline     = '\n'
	rReturn      = '\r'
	rComment     = '#'
	rDoubleQuote = '"'
	rBackQuote   = '`'
	rEscape      = '\\'
)

// Lexer takes an input byte sequence and constructs Tokens from it.
//
// The Lexer never modifies or copies its input. Bytes that are not valid UTF-8 are consumed one at
// a time and passed through in the Raw field of the tokens containing them.
type Lexer struct {
	// Name is the name of the token source being lexed. It is used to identify the source of
	// a location by name. It is not necessarily a filename, but usually is.
	Name string

	src []byte

	pending  bool
	lastScan rune
	lastPos  Location

	startPos Location
	pos      Location

	next consumerFunc
	err  error

	strbuf strings.Builder
}

// NewLexer allocates a new Lexer that reads tokens from src.
func NewLexer(name string, src []byte) *Lexer {
	le := &Lexer{Name: name, src: src}
	le.Reset()
	return le
}

// Reset rewinds the Lexer to the start of its input.
func (l *Lexer) Reset() {
	l.pending = false
	l.pos = Location{Name: l.Name, Line: 1, Column: 1}
	l.lastPos = l.pos
	l.next = nil
	l.err = nil
	l.strbuf.Reset()
}

// ReadToken returns a token or an error. If EOF occurs, a TEOF token is returned without an error,
// and will be returned by all subsequent calls to ReadToken. Once ReadToken returns an error, it
// returns the same error for all subsequent calls until the Lexer is Reset.
func (l *Lexer) ReadToken() (tok Token, err error) {
	if l.err != nil {
		return noToken, l.err
	}

	l.strbuf.Reset()
	if l.next == nil {
		l.next = l.lexSegment
	}
	l.startPos = l.scanPos()

	for {
		r := l.readRune()
		tok, l.next, err = l.next(r)
		if err != nil {
			l.err = &LexError{Start: l.startPos, Pos: l.scanPos(), Err: err}
			return noToken, l.err
		}
		if tok.Kind != tEmpty {
			return tok, nil
		}
	}
}

// Tokenize returns all tokens of src, up to and including the TEOF token.
func Tokenize(name string, src []byte) ([]Token, error) {
	lex := NewLexer(name, src)
	var toks []Token
	for {
		tok, err := lex.ReadToken()
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
		if tok.Kind == TEOF {
			return toks, nil
		}
	}
}

// LexArg checks that s is exactly one word or quoted string, without surrounding whitespace,
// and returns its token. Braces, comments, and empty strings are rejected.
func LexArg(s string) (Token, error) {
	toks, err := Tokenize("", []byte(s))
	if err != nil {
		return noToken, err
	}
	if len(toks) != 2 {
		return noToken, fmt.Errorf("%q must be a single word or quoted string", s)
	}
	switch tok := toks[0]; tok.Kind {
	case TWord, TString, TRawString:
		return tok, nil
	default:
		return noToken, fmt.Errorf("%q must be a word or quoted string, not a %v", s, tok.Kind)
	}
}

func (l *Lexer) token(kind TokenKind) Token {
	end := l.scanPos()
	return Token{
		Start: l.startPos,
		End:   end,
		Kind:  kind,
		Raw:   l.src[l.startPos.Offset:end.Offset:end.Offset],
	}
}

func (l *Lexer) valueToken(kind TokenKind) Token {
	tok := l.token(kind)
	tok.Value = l.strbuf.String()
	return tok
}

func (l *Lexer) readRune() rune {
	if l.pending {
		l.pending = false
		return l.lastScan
	}

	l.lastPos = l.pos
	if l.pos.Offset >= len(l.src) {
		l.lastScan = eof
		return eof
	}
	r, size := utf8.DecodeRune(l.src[l.pos.Offset:])
	l.pos = l.pos.add(r, size)
	l.lastScan = r
	return r
}

// peek returns the next unread byte without consuming it, or 0 at EOF.
func (l *Lexer) peek() byte {
	off := l.scanPos().Offset
	if off >= len(l.src) {
		return 0
	}
	return l.src[off]
}

// unread takes the last-scanned rune and tells the lexer to return it on the next call to readRune.
// This can be used to walk back a single readRune call.
func (l *Lexer) unread() {
	if l.pending {
		panic("unread() called with pending rune")
	}
	l.pending = true
}

func (l *Lexer) scanPos() Location {
	if l.pending {
		return l.lastPos
	}
	return l.pos
}

// Rune cases

func isSpace(r rune) bool {
	return r != rNewline && r != eof && unicode.IsSpace(r)
}

func isWordSep(r rune) bool {
	return r == eof || r == rNewline || unicode.IsSpace(r)
}

// Branches

type consumerFunc func(rune) (Token, consumerFunc, error)

func (l *Lexer) lexSegment(r rune) (Token, consumerFunc, error) {
	switch {
	case r == eof:
		return l.token(TEOF), l.lexSegment, nil

	case r == rNewline:
		return l.token(TNewline), l.lexSegment, nil
	case r == rReturn && l.peek() == rNewline:
		l.readRune()
		return l.token(TNewline), l.lexSegment, nil

	case isSpace(r):
		return noToken, l.lexSpace, nil

	case r == rComment:
		return noToken, l.lexComment, nil

	case r == rDoubleQuote:
		return noToken, l.lexString, nil
	case r == rBackQuote:
		return noToken, l.lexRawString, nil
	}
	return noToken, l.lexWord, nil
}

func (l *Lexer) lexSpace(r rune) (Token, consumerFunc, error) {
	if isSpace(r) && !(r == rReturn && l.peek() == rNewline) {
		return noToken, l.lexSpace, nil
	}
	l.unread()
	return l.token(TWhitespace), l.lexSegment, nil
}

func (l *Lexer) lexComment(r rune) (Token, consumerFunc, error) {
	//
	// Comments run up to, but not including, the end of the line. A '\r' belonging to a '\r\n'
	// pair is left for the newline token.
	//
	if r == eof || r == rNewline || (r == rReturn && l.peek() == rNewline) {
		l.unread()
		return l.valueToken(TComment), l.lexSegment, nil
	}
	l.strbuf.WriteRune(r)
	return noToken, l.lexComment, nil
}

func (l *Lexer) lexWord(r rune) (Token, consumerFunc, error) {
	if !isWordSep(r) {
		return noToken, l.lexWord, nil
	}
	l.unread()
	tok := l.token(TWord)
	tok.Value = string(tok.Raw)
	switch tok.Value {
	case "{":
		tok.Kind = TCurlOpen
	case "}":
		tok.Kind = TCurlClose
	}
	return tok, l.lexSegment, nil
}

func (l *Lexer) lexString(r rune) (Token, consumerFunc, error) {
	//
	// Consume runes until an ending double-quote or backslash for escapes is found.
	//
	switch r {
	case eof:
		return noToken, nil, fmt.Errorf("unterminated string: %w", ErrUnexpectedEOF)
	case rEscape:
		return noToken, l.lexStringEscape, nil
	case rDoubleQuote:
		return l.valueToken(TString), l.lexSegment, nil
	}
	l.strbuf.WriteRune(r)
	return noToken, l.lexString, nil
}

func (l *Lexer) lexStringEscape(r rune) (Token, consumerFunc, error) {
	//
	// Only quotes and backslashes are escaped. Any other escape is kept as-is, backslash
	// included, so that regular expressions and placeholders pass through unchanged.
	//
	switch r {
	case eof:
		return noToken, nil, fmt.Errorf("unterminated escape in string: %w", ErrUnexpectedEOF)
	case rDoubleQuote, rEscape:
	default:
		l.strbuf.WriteRune(rEscape)
	}
	l.strbuf.WriteRune(r)
	return noToken, l.lexString, nil
}

func (l *Lexer) lexRawString(r rune) (Token, consumerFunc, error) {
	switch r {
	case eof:
		return noToken, nil, fmt.Errorf("unterminated raw string: %w", ErrUnexpectedEOF)
	case rBackQuote:
		return l.valueToken(TRawString), l.lexSegment, nil
	}
	l.strbuf.WriteRune(r)
	return noToken, l.lexRawString, nil
}
