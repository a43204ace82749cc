package dql

import (
	"strconv"
	"strings"
	"unicode"
)

// Lexer turns DQL source text into tokens in a single forward pass.
// Keywords are case-insensitive; identifiers keep their original case.
type Lexer struct {
	src []rune
	pos int
}

// NewLexer returns a lexer over the given source text.
func NewLexer(src string) *Lexer {
	return &Lexer{src: []rune(src)}
}

// Tokenize lexes the whole input. On success the final token is TokenEOF.
func Tokenize(src string) ([]Token, error) {
	lx := NewLexer(src)
	var out []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Type == TokenEOF {
			return out, nil
		}
	}
}

// Next returns the next token, or a *LexError on an unrecognized character.
func (lx *Lexer) Next() (Token, error) {
	lx.skipSpace()
	if lx.pos >= len(lx.src) {
		return Token{Type: TokenEOF, Pos: lx.pos}, nil
	}

	start := lx.pos
	ch := lx.src[lx.pos]

	switch {
	case isIdentStart(ch):
		return lx.lexIdent(start), nil
	case unicode.IsDigit(ch):
		return lx.lexNumber(start)
	case ch == '\'' || ch == '"':
		return lx.lexString(start, ch)
	}

	// Operators, longest match first.
	switch ch {
	case '<':
		if lx.peekAt(1) == '-' {
			lx.pos += 2
			return Token{Type: TokenLeftArrow, Pos: start}, nil
		}
		if lx.peekAt(1) == '=' {
			lx.pos += 2
			return Token{Type: TokenLte, Pos: start}, nil
		}
		lx.pos++
		return Token{Type: TokenLt, Pos: start}, nil
	case '>':
		if lx.peekAt(1) == '=' {
			lx.pos += 2
			return Token{Type: TokenGte, Pos: start}, nil
		}
		lx.pos++
		return Token{Type: TokenGt, Pos: start}, nil
	case '-':
		if lx.peekAt(1) == '>' {
			lx.pos += 2
			return Token{Type: TokenArrow, Pos: start}, nil
		}
		lx.pos++
		return Token{Type: TokenMinus, Pos: start}, nil
	case '!':
		if lx.peekAt(1) == '=' {
			lx.pos += 2
			return Token{Type: TokenNeq, Pos: start}, nil
		}
	case '=':
		lx.pos++
		return Token{Type: TokenEq, Pos: start}, nil
	case '+':
		lx.pos++
		return Token{Type: TokenPlus, Pos: start}, nil
	case '*':
		lx.pos++
		return Token{Type: TokenStar, Pos: start}, nil
	case '/':
		lx.pos++
		return Token{Type: TokenSlash, Pos: start}, nil
	case '.':
		lx.pos++
		return Token{Type: TokenDot, Pos: start}, nil
	case ',':
		lx.pos++
		return Token{Type: TokenComma, Pos: start}, nil
	case ';':
		lx.pos++
		return Token{Type: TokenSemicolon, Pos: start}, nil
	case ':':
		lx.pos++
		return Token{Type: TokenColon, Pos: start}, nil
	case '(':
		lx.pos++
		return Token{Type: TokenLParen, Pos: start}, nil
	case ')':
		lx.pos++
		return Token{Type: TokenRParen, Pos: start}, nil
	case '[':
		lx.pos++
		return Token{Type: TokenLBrack, Pos: start}, nil
	case ']':
		lx.pos++
		return Token{Type: TokenRBrack, Pos: start}, nil
	case '{':
		lx.pos++
		return Token{Type: TokenLBrace, Pos: start}, nil
	case '}':
		lx.pos++
		return Token{Type: TokenRBrace, Pos: start}, nil
	}

	return Token{}, &LexError{Position: start, Character: ch}
}

func (lx *Lexer) skipSpace() {
	for lx.pos < len(lx.src) {
		ch := lx.src[lx.pos]
		if unicode.IsSpace(ch) {
			lx.pos++
			continue
		}
		// Line comments run to end of line.
		if ch == '-' && lx.peekAt(1) == '-' {
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			continue
		}
		return
	}
}

func (lx *Lexer) peekAt(off int) rune {
	if lx.pos+off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+off]
}

func (lx *Lexer) lexIdent(start int) Token {
	for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
		lx.pos++
	}
	text := string(lx.src[start:lx.pos])
	if kw, ok := keywords[strings.ToUpper(text)]; ok {
		return Token{Type: kw, Text: text, Pos: start}
	}
	return Token{Type: TokenIdent, Text: text, Pos: start}
}

func (lx *Lexer) lexNumber(start int) (Token, error) {
	for lx.pos < len(lx.src) && unicode.IsDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	isFloat := false
	// A '.' only continues the number when followed by a digit, so that
	// ranges like 1..3 lex as integer, dot, dot, integer.
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' && unicode.IsDigit(lx.peekAt(1)) {
		isFloat = true
		lx.pos++
		for lx.pos < len(lx.src) && unicode.IsDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	text := string(lx.src[start:lx.pos])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, &LexError{Position: start, Character: lx.src[start]}
		}
		return Token{Type: TokenFloat, Text: text, Num: f, Pos: start}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		// Overflowing integers fall back to float.
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil {
			return Token{}, &LexError{Position: start, Character: lx.src[start]}
		}
		return Token{Type: TokenFloat, Text: text, Num: f, Pos: start}, nil
	}
	return Token{Type: TokenInteger, Text: text, Int: n, Pos: start}, nil
}

func (lx *Lexer) lexString(start int, quote rune) (Token, error) {
	lx.pos++ // opening quote
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		ch := lx.src[lx.pos]
		if ch == quote {
			lx.pos++
			return Token{Type: TokenString, Text: sb.String(), Pos: start}, nil
		}
		if ch == '\\' && lx.pos+1 < len(lx.src) {
			lx.pos++
			esc := lx.src[lx.pos]
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			default:
				sb.WriteRune(esc)
			}
			lx.pos++
			continue
		}
		sb.WriteRune(ch)
		lx.pos++
	}
	// Unterminated string.
	return Token{}, &LexError{Position: start, Character: quote}
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
