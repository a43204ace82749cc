package dql

import "fmt"

// LexError reports an unrecognized character with its byte position.
type LexError struct {
	Position  int
	Character rune
}

func (e *LexError) Error() string {
	return fmt.Sprintf("unexpected character %q at position %d", e.Character, e.Position)
}

// ParseError reports a grammar violation: what was expected and what was
// actually found, with the byte position of the offending token.
type ParseError struct {
	Position int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: expected %s, found %s", e.Position, e.Expected, e.Found)
}
