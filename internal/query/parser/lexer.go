// Package parser provides SQL parsing for the DHIS2 dialect.
//
// It understands the SELECT subset emitted by BI tools: quoted identifiers,
// aggregates, WHERE/GROUP BY/ORDER BY/LIMIT/OFFSET and a single derived
// table in FROM. Comments are collected rather than discarded so callers can
// read parameter overrides embedded in them.
package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer splits SQL text into tokens. Comments are skipped like whitespace
// but kept, in source order, for Comments.
type Lexer struct {
	src      string
	off      int
	comments []Comment
}

// NewLexer creates a Lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{src: input}
}

// Comments returns the comments seen so far.
func (l *Lexer) Comments() []Comment {
	return l.comments
}

// Tokenize returns every token up to and including EOF or the first error.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

// NextToken scans the next token. Past the end it keeps returning EOF.
func (l *Lexer) NextToken() Token {
	l.skipSpace()
	if l.off >= len(l.src) {
		return Token{Type: TokenEOF, Pos: len(l.src)}
	}

	c := l.src[l.off]
	switch {
	case c == '\'':
		return l.scanString()
	case c == '"' || c == '`':
		return l.scanQuotedIdent(c)
	case isDigit(c), c == '.' && l.off+1 < len(l.src) && isDigit(l.src[l.off+1]):
		return l.scanNumber()
	}
	if r, _ := utf8.DecodeRuneInString(l.src[l.off:]); isIdentStart(r) {
		return l.scanWord()
	}
	return l.scanOperator()
}

func (l *Lexer) skipSpace() {
	for l.off < len(l.src) {
		rest := l.src[l.off:]
		switch {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			l.comments = append(l.comments, Comment{Text: strings.TrimSpace(rest[2:end]), Pos: l.off})
			l.off += end
		case strings.HasPrefix(rest, "/*"):
			// An unterminated block comment runs to the end of input.
			body, consumed := rest[2:], len(rest)
			if end := strings.Index(body, "*/"); end >= 0 {
				body, consumed = body[:end], end+4
			}
			l.comments = append(l.comments, Comment{Text: strings.TrimSpace(body), Block: true, Pos: l.off})
			l.off += consumed
		default:
			r, size := utf8.DecodeRuneInString(rest)
			if !unicode.IsSpace(r) {
				return
			}
			l.off += size
		}
	}
}

func (l *Lexer) scanWord() Token {
	start := l.off
	l.off = wordEnd(l.src, l.off)
	word := l.src[start:l.off]
	upper := strings.ToUpper(word)

	if upper == "GROUP" || upper == "ORDER" {
		if end, ok := l.followedBy("BY"); ok {
			l.off = end
			typ := TokenGroupBy
			if upper == "ORDER" {
				typ = TokenOrderBy
			}
			return Token{Type: typ, Literal: upper + " BY", Raw: l.src[start:end], Pos: start}
		}
	}
	if typ, ok := keywords[upper]; ok {
		return Token{Type: typ, Literal: upper, Raw: word, Pos: start}
	}
	return Token{Type: TokenIdent, Literal: word, Raw: word, Pos: start}
}

// followedBy reports whether the next word after whitespace is kw, and
// where that word ends.
func (l *Lexer) followedBy(kw string) (int, bool) {
	i := l.off
	for i < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	end := wordEnd(l.src, i)
	if end == i || !strings.EqualFold(l.src[i:end], kw) {
		return 0, false
	}
	return end, true
}

func (l *Lexer) scanNumber() Token {
	start := l.off
	l.off = digitsEnd(l.src, l.off)
	if l.off < len(l.src) && l.src[l.off] == '.' {
		l.off = digitsEnd(l.src, l.off+1)
	}
	if l.off < len(l.src) && (l.src[l.off] == 'e' || l.src[l.off] == 'E') {
		j := l.off + 1
		if j < len(l.src) && (l.src[j] == '+' || l.src[j] == '-') {
			j++
		}
		if j < len(l.src) && isDigit(l.src[j]) {
			l.off = digitsEnd(l.src, j)
		}
	}
	text := l.src[start:l.off]
	return Token{Type: TokenNumber, Literal: text, Raw: text, Pos: start}
}

// scanString reads a single-quoted literal; '' stands for one quote.
func (l *Lexer) scanString() Token {
	start := l.off
	body, end, ok := unquote(l.src, start, '\'')
	if !ok {
		l.off = len(l.src)
		return Token{Type: TokenError, Literal: "unterminated string", Pos: start}
	}
	l.off = end
	return Token{Type: TokenString, Literal: body, Raw: l.src[start:end], Pos: start}
}

// scanQuotedIdent reads a "name" or `name` identifier. The name may contain
// spaces, dots, dashes and parentheses; a doubled quote is a literal quote.
func (l *Lexer) scanQuotedIdent(q byte) Token {
	start := l.off
	name, end, ok := unquote(l.src, start, q)
	if !ok {
		l.off = len(l.src)
		return Token{Type: TokenError, Literal: "unterminated quoted identifier", Pos: start}
	}
	l.off = end
	return Token{Type: TokenIdent, Literal: name, Raw: l.src[start:end], Pos: start, Quoted: true}
}

func (l *Lexer) scanOperator() Token {
	rest := l.src[l.off:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op.text) {
			tok := Token{Type: op.typ, Literal: op.text, Raw: op.text, Pos: l.off}
			l.off += len(op.text)
			return tok
		}
	}
	r, size := utf8.DecodeRuneInString(rest)
	tok := Token{Type: TokenError, Literal: string(r), Raw: rest[:size], Pos: l.off}
	l.off += size
	return tok
}

// unquote reads a quoted run starting at src[start] == q and returns its
// body and the offset just past the closing quote.
func unquote(src string, start int, q byte) (string, int, bool) {
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		if src[i] != q {
			b.WriteByte(src[i])
			continue
		}
		if i+1 < len(src) && src[i+1] == q {
			b.WriteByte(q)
			i++
			continue
		}
		return b.String(), i + 1, true
	}
	return "", 0, false
}

func wordEnd(src string, i int) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if !isIdentStart(r) && !unicode.IsDigit(r) {
			break
		}
		i += size
	}
	return i
}

func digitsEnd(src string, i int) int {
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	return i
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
