package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports where parsing stopped.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	got := e.Token.Literal
	if e.Token.Type == TokenEOF {
		got = "end of input"
	}
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, got)
}

// Parser is a recursive-descent parser with one token of lookahead.
type Parser struct {
	lexer *Lexer
	tok   Token
	next  Token
}

// NewParser creates a Parser over input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.tok = p.lexer.NextToken()
	p.next = p.lexer.NextToken()
	return p
}

// Parse parses a single statement.
func Parse(input string) (Statement, error) {
	return NewParser(input).ParseStatement()
}

func (p *Parser) advance() Token {
	tok := p.tok
	p.tok = p.next
	p.next = p.lexer.NextToken()
	return tok
}

func (p *Parser) at(t TokenType) bool {
	return p.tok.Type == t
}

// accept consumes the current token if it has type t.
func (p *Parser) accept(t TokenType) bool {
	if p.tok.Type != t {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(t TokenType, what string) (Token, error) {
	if p.tok.Type != t {
		return Token{}, p.errorf("expected %s", what)
	}
	return p.advance(), nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...), Position: p.tok.Pos, Token: p.tok}
}

// ParseStatement parses one SELECT, an optional semicolon and nothing else.
func (p *Parser) ParseStatement() (Statement, error) {
	if !p.at(TokenSelect) {
		return nil, p.errorf("expected SELECT")
	}
	stmt, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	p.accept(TokenSemicolon)
	if !p.at(TokenEOF) {
		return nil, p.errorf("unexpected trailing input")
	}
	return stmt, nil
}

// parseList parses item, comma-separated, at least once.
func parseList[T any](p *Parser, item func() (T, error)) ([]T, error) {
	var out []T
	for {
		v, err := item()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if !p.accept(TokenComma) {
			return out, nil
		}
	}
}

func (p *Parser) parseSelect() (*SelectStatement, error) {
	if _, err := p.expect(TokenSelect, "SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStatement{Distinct: p.accept(TokenDistinct)}

	var err error
	if stmt.Columns, err = parseList(p, p.parseSelectColumn); err != nil {
		return nil, err
	}

	clauses := []struct {
		keyword TokenType
		parse   func() error
	}{
		{TokenFrom, func() (err error) { stmt.From, err = p.parseTableRef(); return }},
		{TokenWhere, func() (err error) { stmt.Where, err = p.parseExpr(); return }},
		{TokenGroupBy, func() (err error) { stmt.GroupBy, err = parseList(p, p.parseExpr); return }},
		{TokenHaving, func() (err error) { stmt.Having, err = p.parseExpr(); return }},
		{TokenOrderBy, func() (err error) { stmt.OrderBy, err = parseList(p, p.parseOrderItem); return }},
		{TokenLimit, func() (err error) { stmt.Limit, err = p.parseCount("LIMIT"); return }},
		{TokenOffset, func() (err error) { stmt.Offset, err = p.parseCount("OFFSET"); return }},
	}
	for _, c := range clauses {
		if !p.accept(c.keyword) {
			continue
		}
		if err := c.parse(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseSelectColumn() (SelectColumn, error) {
	if p.accept(TokenStar) {
		return SelectColumn{Expr: &StarExpr{}}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return SelectColumn{}, err
	}
	alias, err := p.parseAlias()
	return SelectColumn{Expr: expr, Alias: alias}, err
}

// parseAlias parses an optional [AS] alias. After AS a string literal or a
// keyword (COUNT(*) AS count) is also a valid name.
func (p *Parser) parseAlias() (string, error) {
	if p.accept(TokenAs) {
		switch {
		case p.at(TokenIdent), p.at(TokenString):
			return p.advance().Literal, nil
		case p.tok.Type.IsKeyword():
			return p.advance().Raw, nil
		}
		return "", p.errorf("expected identifier after AS")
	}
	if p.at(TokenIdent) {
		return p.advance().Literal, nil
	}
	return "", nil
}

func (p *Parser) parseTableRef() (*TableRef, error) {
	ref := &TableRef{}
	switch {
	case p.at(TokenLParen) && p.next.Type == TokenSelect:
		p.advance()
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, ") after subquery"); err != nil {
			return nil, err
		}
		ref.Subquery = sub
	case p.at(TokenIdent):
		ref.Name = p.advance().Literal
		if p.accept(TokenDot) {
			name, err := p.expect(TokenIdent, "table name after schema")
			if err != nil {
				return nil, err
			}
			ref.Schema, ref.Name = ref.Name, name.Literal
		}
	default:
		return nil, p.errorf("expected table name")
	}

	alias, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	ref.Alias = alias
	return ref, nil
}

func (p *Parser) parseOrderItem() (OrderByClause, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return OrderByClause{}, err
	}
	item := OrderByClause{Expr: expr}
	if p.accept(TokenDesc) {
		item.Desc = true
	} else {
		p.accept(TokenAsc)
	}
	return item, nil
}

// parseCount parses the non-negative integer after LIMIT or OFFSET.
func (p *Parser) parseCount(clause string) (*int64, error) {
	tok, err := p.expect(TokenNumber, "number after "+clause)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil || n < 0 {
		return nil, &ParseError{Message: "invalid " + clause + " value", Position: tok.Pos, Token: tok}
	}
	return &n, nil
}

// Expression grammar, loosest binding first:
//
//	expr      = and { OR and }
//	and       = not { AND not }
//	not       = NOT not | predicate
//	predicate = sum { cmp sum | [NOT] IN (...) | [NOT] BETWEEN sum AND sum
//	                | [NOT] LIKE sum | IS [NOT] NULL }
//	sum       = product { (+|-) product }
//	product   = unary { (*|/) unary }
//	unary     = - unary | primary
func (p *Parser) parseExpr() (Expression, error) {
	return p.parseBinary(p.parseAnd, TokenOr)
}

func (p *Parser) parseAnd() (Expression, error) {
	return p.parseBinary(p.parseNot, TokenAnd)
}

// parseBinary folds a left-associative chain of the given operators.
func (p *Parser) parseBinary(operand func() (Expression, error), ops ...TokenType) (Expression, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.atAny(ops...) {
		op := p.advance().Literal
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

func (p *Parser) atAny(types ...TokenType) bool {
	for _, t := range types {
		if p.tok.Type == t {
			return true
		}
	}
	return false
}

func (p *Parser) parseNot() (Expression, error) {
	if !p.accept(TokenNot) {
		return p.parsePredicate()
	}
	operand, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Operator: "NOT", Operand: operand}, nil
}

var comparisons = []TokenType{TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe}

func (p *Parser) parsePredicate() (Expression, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atAny(comparisons...):
			op := p.advance().Literal
			right, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Left: left, Operator: op, Right: right}
		case p.at(TokenIs):
			p.advance()
			not := p.accept(TokenNot)
			if _, err := p.expect(TokenNull, "NULL after IS"); err != nil {
				return nil, err
			}
			left = &IsNullExpr{Expr: left, Not: not}
		case p.atAny(TokenIn, TokenBetween, TokenLike):
			if left, err = p.parseMembership(left, false); err != nil {
				return nil, err
			}
		case p.at(TokenNot) && (p.next.Type == TokenIn || p.next.Type == TokenBetween || p.next.Type == TokenLike):
			p.advance()
			if left, err = p.parseMembership(left, true); err != nil {
				return nil, err
			}
		default:
			return left, nil
		}
	}
}

// parseMembership parses the IN, BETWEEN or LIKE tail of a predicate.
func (p *Parser) parseMembership(left Expression, not bool) (Expression, error) {
	switch p.advance().Type {
	case TokenIn:
		if _, err := p.expect(TokenLParen, "( after IN"); err != nil {
			return nil, err
		}
		values, err := parseList(p, p.parseExpr)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, ") after IN values"); err != nil {
			return nil, err
		}
		return &InExpr{Expr: left, Values: values, Not: not}, nil

	case TokenBetween:
		low, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenAnd, "AND in BETWEEN expression"); err != nil {
			return nil, err
		}
		high, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil

	default:
		pattern, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Expr: left, Pattern: pattern, Not: not}, nil
	}
}

func (p *Parser) parseSum() (Expression, error) {
	return p.parseBinary(p.parseProduct, TokenPlus, TokenMinus)
}

func (p *Parser) parseProduct() (Expression, error) {
	return p.parseBinary(p.parseUnary, TokenStar, TokenSlash)
}

func (p *Parser) parseUnary() (Expression, error) {
	if !p.accept(TokenMinus) {
		return p.parsePrimary()
	}
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Operator: "-", Operand: operand}, nil
}

func (p *Parser) parsePrimary() (Expression, error) {
	switch p.tok.Type {
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		return &Literal{Value: p.advance().Literal}, nil
	case TokenNull:
		p.advance()
		return &Literal{Value: nil}, nil
	case TokenStar:
		p.advance()
		return &StarExpr{}, nil
	case TokenLParen:
		if p.next.Type == TokenSelect {
			return nil, p.errorf("subqueries are only supported in FROM")
		}
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &ParenExpr{Expr: inner}, nil
	case TokenCount, TokenSum, TokenAvg, TokenMin, TokenMax:
		name := p.advance().Literal
		if _, err := p.expect(TokenLParen, "( after aggregate function"); err != nil {
			return nil, err
		}
		return p.parseAggregateArgs(name)
	case TokenIdent:
		return p.parseIdent()
	case TokenError:
		return nil, p.errorf("invalid token")
	}
	return nil, p.errorf("unexpected token in expression")
}

// parseIdent parses column, table.column, table.* or a function call. A
// quoted name is never a function: "SUM(x)" is a column.
func (p *Parser) parseIdent() (Expression, error) {
	first := p.advance()

	if p.accept(TokenDot) {
		if p.accept(TokenStar) {
			return &StarExpr{Table: first.Literal}, nil
		}
		col, err := p.expect(TokenIdent, "column name after dot")
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: first.Literal, Column: col.Literal, Quoted: col.Quoted}, nil
	}

	if first.Quoted || !p.accept(TokenLParen) {
		return &ColumnRef{Column: first.Literal, Quoted: first.Quoted}, nil
	}
	call := &FunctionCall{Name: first.Literal}
	if !p.at(TokenRParen) {
		args, err := parseList(p, p.parseExpr)
		if err != nil {
			return nil, err
		}
		call.Args = args
	}
	if _, err := p.expect(TokenRParen, ") after function arguments"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseAggregateArgs(name string) (Expression, error) {
	agg := &AggregateExpr{Function: name, Distinct: p.accept(TokenDistinct)}
	switch {
	case p.accept(TokenStar):
		agg.Arg = &StarExpr{}
	case !p.at(TokenRParen):
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		agg.Arg = arg
	}
	if _, err := p.expect(TokenRParen, ") after aggregate argument"); err != nil {
		return nil, err
	}
	return agg, nil
}

// parseNumber yields int64 for integral literals that fit, float64 otherwise.
func (p *Parser) parseNumber() (Expression, error) {
	tok := p.advance()
	if !strings.ContainsAny(tok.Literal, ".eE") {
		if n, err := strconv.ParseInt(tok.Literal, 10, 64); err == nil {
			return &Literal{Value: n}, nil
		}
	}
	f, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return nil, &ParseError{Message: "invalid number", Position: tok.Pos, Token: tok}
	}
	return &Literal{Value: f}, nil
}
