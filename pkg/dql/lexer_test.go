package dql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	t.Run("keywords are case-insensitive", func(t *testing.T) {
		tokens, err := Tokenize("from Users select name")
		require.NoError(t, err)
		require.Len(t, tokens, 5)
		assert.Equal(t, TokenFrom, tokens[0].Type)
		assert.Equal(t, TokenIdent, tokens[1].Type)
		assert.Equal(t, "Users", tokens[1].Text)
		assert.Equal(t, TokenSelect, tokens[2].Type)
		assert.Equal(t, TokenEOF, tokens[4].Type)
	})

	t.Run("identifiers keep case", func(t *testing.T) {
		tokens, err := Tokenize("UserAccounts")
		require.NoError(t, err)
		assert.Equal(t, "UserAccounts", tokens[0].Text)
	})

	t.Run("numbers", func(t *testing.T) {
		tokens, err := Tokenize("42 3.14")
		require.NoError(t, err)
		require.Equal(t, TokenInteger, tokens[0].Type)
		assert.Equal(t, int64(42), tokens[0].Int)
		require.Equal(t, TokenFloat, tokens[1].Type)
		assert.InDelta(t, 3.14, tokens[1].Num, 1e-9)
	})

	t.Run("hop range lexes as two dots", func(t *testing.T) {
		tokens, err := Tokenize("1..3")
		require.NoError(t, err)
		require.Len(t, tokens, 5)
		assert.Equal(t, TokenInteger, tokens[0].Type)
		assert.Equal(t, TokenDot, tokens[1].Type)
		assert.Equal(t, TokenDot, tokens[2].Type)
		assert.Equal(t, TokenInteger, tokens[3].Type)
	})

	t.Run("strings with escapes", func(t *testing.T) {
		tokens, err := Tokenize(`'it\'s' "two\nlines"`)
		require.NoError(t, err)
		assert.Equal(t, "it's", tokens[0].Text)
		assert.Equal(t, "two\nlines", tokens[1].Text)
	})

	t.Run("arrows", func(t *testing.T) {
		tokens, err := Tokenize("-> <- - <")
		require.NoError(t, err)
		assert.Equal(t, TokenArrow, tokens[0].Type)
		assert.Equal(t, TokenLeftArrow, tokens[1].Type)
		assert.Equal(t, TokenMinus, tokens[2].Type)
		assert.Equal(t, TokenLt, tokens[3].Type)
	})

	t.Run("bidirectional arrow splits into its halves", func(t *testing.T) {
		tokens, err := Tokenize("<->")
		require.NoError(t, err)
		require.Len(t, tokens, 3)
		assert.Equal(t, TokenLeftArrow, tokens[0].Type)
		assert.Equal(t, TokenGt, tokens[1].Type)
	})

	t.Run("comparison operators", func(t *testing.T) {
		tokens, err := Tokenize("= != < <= > >=")
		require.NoError(t, err)
		want := []TokenType{TokenEq, TokenNeq, TokenLt, TokenLte, TokenGt, TokenGte, TokenEOF}
		for i, tt := range want {
			assert.Equal(t, tt, tokens[i].Type)
		}
	})

	t.Run("line comments are skipped", func(t *testing.T) {
		tokens, err := Tokenize("FROM Users -- trailing note\nSELECT name")
		require.NoError(t, err)
		require.Len(t, tokens, 5)
		assert.Equal(t, TokenSelect, tokens[2].Type)
	})

	t.Run("unexpected character", func(t *testing.T) {
		_, err := Tokenize("FROM Users @")
		var lexErr *LexError
		require.ErrorAs(t, err, &lexErr)
		assert.Equal(t, 11, lexErr.Position)
		assert.Equal(t, '@', lexErr.Character)
	})

	t.Run("unterminated string", func(t *testing.T) {
		_, err := Tokenize("'no closing quote")
		var lexErr *LexError
		require.ErrorAs(t, err, &lexErr)
		assert.Equal(t, 0, lexErr.Position)
	})
}
