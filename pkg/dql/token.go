// Package dql implements the Deed Query Language front end: a single-pass
// lexer, a recursive-descent parser, and the AST they produce.
//
// DQL unifies relational and graph querying in one statement:
//
//	FROM Users u WHERE u.city = 'NYC'
//	TRAVERSE -[:PURCHASED]-> p
//	WHERE p.price > 100
//	SELECT u.name, p.name AS product
//	ORDER BY p.price DESC LIMIT 10
//
// Write statements cover INSERT INTO, UPDATE ... SET, DELETE FROM, and edge
// creation with CREATE (src)-[:TYPE]->(dst).
package dql

import "fmt"

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	TokenEOF TokenType = iota

	// Keywords.
	TokenFrom
	TokenWhere
	TokenSelect
	TokenTraverse
	TokenCreate
	TokenUpdate
	TokenDelete
	TokenSet
	TokenInsert
	TokenInto
	TokenValues
	TokenAnd
	TokenOr
	TokenNot
	TokenAs
	TokenLimit
	TokenOffset
	TokenOrder
	TokenGroup
	TokenBy
	TokenHaving
	TokenAsc
	TokenDesc
	TokenCount
	TokenSum
	TokenAvg
	TokenMin
	TokenMax
	TokenTrue
	TokenFalse
	TokenNull

	// Literals and identifiers.
	TokenIdent
	TokenString
	TokenInteger
	TokenFloat

	// Operators.
	TokenEq        // =
	TokenNeq       // !=
	TokenLt        // <
	TokenLte       // <=
	TokenGt        // >
	TokenGte       // >=
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenDot       // .
	TokenComma     // ,
	TokenSemicolon // ;
	TokenColon     // :

	// Graph arrows.
	TokenArrow     // ->
	TokenLeftArrow // <-

	// Brackets.
	TokenLParen // (
	TokenRParen // )
	TokenLBrack // [
	TokenRBrack // ]
	TokenLBrace // {
	TokenRBrace // }
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenFrom:      "FROM",
	TokenWhere:     "WHERE",
	TokenSelect:    "SELECT",
	TokenTraverse:  "TRAVERSE",
	TokenCreate:    "CREATE",
	TokenUpdate:    "UPDATE",
	TokenDelete:    "DELETE",
	TokenSet:       "SET",
	TokenInsert:    "INSERT",
	TokenInto:      "INTO",
	TokenValues:    "VALUES",
	TokenAnd:       "AND",
	TokenOr:        "OR",
	TokenNot:       "NOT",
	TokenAs:        "AS",
	TokenLimit:     "LIMIT",
	TokenOffset:    "OFFSET",
	TokenOrder:     "ORDER",
	TokenGroup:     "GROUP",
	TokenBy:        "BY",
	TokenHaving:    "HAVING",
	TokenAsc:       "ASC",
	TokenDesc:      "DESC",
	TokenCount:     "COUNT",
	TokenSum:       "SUM",
	TokenAvg:       "AVG",
	TokenMin:       "MIN",
	TokenMax:       "MAX",
	TokenTrue:      "TRUE",
	TokenFalse:     "FALSE",
	TokenNull:      "NULL",
	TokenIdent:     "identifier",
	TokenString:    "string",
	TokenInteger:   "integer",
	TokenFloat:     "float",
	TokenEq:        "=",
	TokenNeq:       "!=",
	TokenLt:        "<",
	TokenLte:       "<=",
	TokenGt:        ">",
	TokenGte:       ">=",
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenStar:      "*",
	TokenSlash:     "/",
	TokenDot:       ".",
	TokenComma:     ",",
	TokenSemicolon: ";",
	TokenColon:     ":",
	TokenArrow:     "->",
	TokenLeftArrow: "<-",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrack:    "[",
	TokenRBrack:    "]",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// keywords maps upper-cased identifier text to keyword token types.
var keywords = map[string]TokenType{
	"FROM":     TokenFrom,
	"WHERE":    TokenWhere,
	"SELECT":   TokenSelect,
	"TRAVERSE": TokenTraverse,
	"CREATE":   TokenCreate,
	"UPDATE":   TokenUpdate,
	"DELETE":   TokenDelete,
	"SET":      TokenSet,
	"INSERT":   TokenInsert,
	"INTO":     TokenInto,
	"VALUES":   TokenValues,
	"AND":      TokenAnd,
	"OR":       TokenOr,
	"NOT":      TokenNot,
	"AS":       TokenAs,
	"LIMIT":    TokenLimit,
	"OFFSET":   TokenOffset,
	"ORDER":    TokenOrder,
	"GROUP":    TokenGroup,
	"BY":       TokenBy,
	"HAVING":   TokenHaving,
	"ASC":      TokenAsc,
	"DESC":     TokenDesc,
	"COUNT":    TokenCount,
	"SUM":      TokenSum,
	"AVG":      TokenAvg,
	"MIN":      TokenMin,
	"MAX":      TokenMax,
	"TRUE":     TokenTrue,
	"FALSE":    TokenFalse,
	"NULL":     TokenNull,
}

// Token is one lexical unit with its byte position in the source text.
type Token struct {
	Type TokenType
	Text string // raw text for identifiers and literals
	Int  int64
	Num  float64
	Pos  int
}

func (t Token) String() string {
	switch t.Type {
	case TokenIdent:
		return fmt.Sprintf("identifier %q", t.Text)
	case TokenString:
		return fmt.Sprintf("string %q", t.Text)
	case TokenInteger:
		return fmt.Sprintf("integer %d", t.Int)
	case TokenFloat:
		return fmt.Sprintf("float %g", t.Num)
	default:
		return t.Type.String()
	}
}
