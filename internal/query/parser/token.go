package parser

import (
	"fmt"
	"strings"
)

// TokenType classifies a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenNumber
	TokenString

	keywordBeg
	TokenSelect
	TokenFrom
	TokenWhere
	TokenGroupBy
	TokenOrderBy
	TokenLimit
	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenBetween
	TokenAs
	TokenAsc
	TokenDesc
	TokenNull
	TokenIs
	TokenLike
	TokenDistinct
	TokenHaving
	TokenOffset
	TokenCount
	TokenSum
	TokenAvg
	TokenMin
	TokenMax
	keywordEnd

	TokenEq
	TokenNe
	TokenLt
	TokenGt
	TokenLe
	TokenGe
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenComma
	TokenLParen
	TokenRParen
	TokenDot
	TokenSemicolon
)

// keywords maps upper-cased words to their token. GROUP and ORDER are only
// keywords when followed by BY; the lexer handles them separately.
var keywords = map[string]TokenType{
	"SELECT":   TokenSelect,
	"FROM":     TokenFrom,
	"WHERE":    TokenWhere,
	"LIMIT":    TokenLimit,
	"AND":      TokenAnd,
	"OR":       TokenOr,
	"NOT":      TokenNot,
	"IN":       TokenIn,
	"BETWEEN":  TokenBetween,
	"AS":       TokenAs,
	"ASC":      TokenAsc,
	"DESC":     TokenDesc,
	"NULL":     TokenNull,
	"IS":       TokenIs,
	"LIKE":     TokenLike,
	"DISTINCT": TokenDistinct,
	"HAVING":   TokenHaving,
	"OFFSET":   TokenOffset,
	"COUNT":    TokenCount,
	"SUM":      TokenSum,
	"AVG":      TokenAvg,
	"MIN":      TokenMin,
	"MAX":      TokenMax,
}

// operators is ordered so two-character operators match first.
var operators = []struct {
	text string
	typ  TokenType
}{
	{"<=", TokenLe},
	{">=", TokenGe},
	{"<>", TokenNe},
	{"!=", TokenNe},
	{"=", TokenEq},
	{"<", TokenLt},
	{">", TokenGt},
	{"+", TokenPlus},
	{"-", TokenMinus},
	{"*", TokenStar},
	{"/", TokenSlash},
	{",", TokenComma},
	{"(", TokenLParen},
	{")", TokenRParen},
	{".", TokenDot},
	{";", TokenSemicolon},
}

var tokenNames = func() map[TokenType]string {
	names := map[TokenType]string{
		TokenEOF:     "EOF",
		TokenError:   "ERROR",
		TokenIdent:   "IDENT",
		TokenNumber:  "NUMBER",
		TokenString:  "STRING",
		TokenGroupBy: "GROUP BY",
		TokenOrderBy: "ORDER BY",
	}
	for word, typ := range keywords {
		names[typ] = word
	}
	for _, op := range operators {
		if _, ok := names[op.typ]; !ok {
			names[op.typ] = op.text
		}
	}
	return names
}()

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t > keywordBeg && t < keywordEnd
}

// isReserved reports whether name would not lex as a plain identifier.
func isReserved(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := keywords[upper]; ok {
		return true
	}
	return upper == "GROUP" || upper == "ORDER" || upper == "BY"
}

// Token is one lexical unit. Literal holds the normalized value: upper-case
// keywords, unescaped strings and identifiers. Raw is the source text.
type Token struct {
	Type    TokenType
	Literal string
	Raw     string
	Pos     int
	Quoted  bool // identifier written as "name" or `name`
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Type, t.Literal, t.Pos)
}

// Comment is a SQL comment found while lexing.
type Comment struct {
	Text  string // body without markers, trimmed
	Block bool
	Pos   int
}
