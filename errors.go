package caddyfile

import "fmt"

// Stage names the step of processing in which an error occurred.
type Stage string

// Processing stages.
const (
	StageLex    Stage = "lex"
	StageParse  Stage = "parse"
	StageMap    Stage = "map"
	StageExport Stage = "export"
)

// StageError is implemented by errors that know the stage they occurred in.
type StageError interface {
	error
	Stage() Stage
}

// LexError is returned by the Lexer when its input contains a malformed token, such as an
// unterminated string.
type LexError struct {
	// Start is the start of the token being lexed.
	Start Location
	// Pos is the location at which the error was detected.
	Pos Location
	Err error
}

func (e *LexError) Error() string {
	return "[" + e.Start.String() + "] " + e.Err.Error()
}

func (e *LexError) Unwrap() error { return e.Err }

// Stage returns StageLex.
func (*LexError) Stage() Stage { return StageLex }

// StructuralError is returned by the Parser when tokens cannot form a valid block structure:
// unclosed blocks, orphan closing braces, or tokens following a nested block on its line.
type StructuralError struct {
	// Tok is the token at which the error was detected.
	Tok Token
	// Open is the location of the unclosed brace, if any.
	Open *Location
	// Msg is a message describing the problem.
	Msg string
}

func structural(tok Token, msg string, args ...interface{}) *StructuralError {
	return &StructuralError{
		Tok: tok,
		Msg: fmt.Sprintf(msg, args...),
	}
}

func unclosed(tok Token, open Location) *StructuralError {
	return &StructuralError{
		Tok:  tok,
		Open: &open,
		Msg:  "unclosed block beginning at " + open.String(),
	}
}

// Line returns the line the error is reported for: the unclosed brace's line if there is one,
// otherwise the line of the offending token.
func (e *StructuralError) Line() int {
	if e.Open != nil {
		return e.Open.Line
	}
	return e.Tok.Start.Line
}

func (e *StructuralError) Error() string {
	loc := e.Tok.Start
	if e.Open != nil {
		loc = *e.Open
	}
	return "[" + loc.String() + "] unexpected " + e.Tok.Kind.String() + ": " + e.Msg
}

// Stage returns StageParse.
func (*StructuralError) Stage() Stage { return StageParse }

// Degradation records a part of the input that was kept only as raw text because it could not
// be decomposed. It is informational: a degraded part still round-trips exactly.
type Degradation struct {
	Loc  Location
	What string // "label" or "body"
	Raw  string
	Err  error
}

func (d *Degradation) Error() string {
	return "[" + d.Loc.String() + "] " + d.What + " kept as raw text: " + d.Err.Error()
}

func (d *Degradation) Unwrap() error { return d.Err }
