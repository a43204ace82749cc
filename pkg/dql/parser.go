package dql

import "fmt"

// Parser is a recursive-descent parser over a token stream. Operator
// precedence, loosest to tightest: OR, AND, NOT, comparison, additive,
// multiplicative, unary minus.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse lexes and parses a single DQL statement.
func Parse(src string) (Statement, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	// Trailing semicolon is allowed, anything else is not.
	if p.cur().Type == TokenSemicolon {
		p.advance()
	}
	if p.cur().Type != TokenEOF {
		return nil, p.errHere("end of statement")
	}
	return stmt, nil
}

// ParseExpr parses a standalone expression, used by tests and the shell.
func ParseExpr(src string) (Expr, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().Type != TokenEOF {
		return nil, p.errHere("end of expression")
	}
	return expr, nil
}

func (p *Parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.cur()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	if p.cur().Type != tt {
		return Token{}, p.errHere(tt.String())
	}
	return p.advance(), nil
}

func (p *Parser) errHere(expected string) error {
	tok := p.cur()
	return &ParseError{Position: tok.Pos, Expected: expected, Found: tok.String()}
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.cur().Type {
	case TokenFrom:
		return p.parseQuery()
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenDelete:
		return p.parseDelete()
	case TokenCreate:
		return p.parseCreateEdge()
	default:
		return nil, p.errHere("FROM, INSERT, UPDATE, DELETE, or CREATE")
	}
}

// parseQuery parses FROM ... SELECT ... with optional interleaved WHERE and
// TRAVERSE clauses and trailing GROUP BY, HAVING, ORDER BY, LIMIT, OFFSET.
func (p *Parser) parseQuery() (*Query, error) {
	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	col, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	q := &Query{Collection: col.Text, Alias: col.Text}
	if p.cur().Type == TokenIdent {
		q.Alias = p.advance().Text
	}

	// WHERE and TRAVERSE interleave; each filter remembers how many
	// traversal steps preceded it so later stages see later bindings.
	for {
		switch p.cur().Type {
		case TokenWhere:
			p.advance()
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			q.Filters = append(q.Filters, QueryFilter{Stage: len(q.Traversals), Expr: expr})
			continue
		case TokenTraverse:
			p.advance()
			for {
				step, err := p.parseTraversalPattern()
				if err != nil {
					return nil, err
				}
				q.Traversals = append(q.Traversals, step)
				if p.cur().Type != TokenComma {
					break
				}
				p.advance()
			}
			continue
		}
		break
	}

	if _, err := p.expect(TokenSelect); err != nil {
		return nil, err
	}
	for {
		field, err := p.parseSelectField()
		if err != nil {
			return nil, err
		}
		q.Select = append(q.Select, field)
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}

	if p.cur().Type == TokenGroup {
		p.advance()
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			q.GroupBy = append(q.GroupBy, expr)
			if p.cur().Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if p.cur().Type == TokenHaving {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		q.Having = expr
	}
	if p.cur().Type == TokenOrder {
		p.advance()
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			key := OrderKey{Expr: expr}
			switch p.cur().Type {
			case TokenAsc:
				p.advance()
			case TokenDesc:
				p.advance()
				key.Descending = true
			}
			q.OrderBy = append(q.OrderBy, key)
			if p.cur().Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if p.cur().Type == TokenLimit {
		p.advance()
		n, err := p.parseCount("LIMIT")
		if err != nil {
			return nil, err
		}
		q.Limit = &n
	}
	if p.cur().Type == TokenOffset {
		p.advance()
		n, err := p.parseCount("OFFSET")
		if err != nil {
			return nil, err
		}
		q.Offset = &n
	}
	return q, nil
}

func (p *Parser) parseCount(clause string) (int64, error) {
	tok, err := p.expect(TokenInteger)
	if err != nil {
		return 0, err
	}
	if tok.Int < 0 {
		return 0, &ParseError{Position: tok.Pos, Expected: "non-negative " + clause, Found: tok.String()}
	}
	return tok.Int, nil
}

// parseTraversalPattern parses one pattern of a TRAVERSE clause:
//
//	-[:TYPE*min..max]-> alias      (outgoing)
//	<-[:TYPE]- alias               (incoming)
//	<-[:TYPE]-> alias              (either direction)
//
// A clause may chain several comma-separated patterns, each stepping from
// the alias bound by the previous one.
func (p *Parser) parseTraversalPattern() (TraversalStep, error) {
	var step TraversalStep

	leading := p.cur().Type
	switch leading {
	case TokenMinus, TokenLeftArrow:
		p.advance()
	default:
		return step, p.errHere("-[ or <-[")
	}
	if _, err := p.expect(TokenLBrack); err != nil {
		return step, err
	}

	if p.cur().Type == TokenColon {
		p.advance()
		name, err := p.expect(TokenIdent)
		if err != nil {
			return step, err
		}
		step.EdgeType = name.Text
	}

	step.MinHops, step.MaxHops = 1, 1
	if p.cur().Type == TokenStar {
		star := p.advance()
		min, err := p.expect(TokenInteger)
		if err != nil {
			return step, err
		}
		step.MinHops = int(min.Int)
		step.MaxHops = step.MinHops
		if p.cur().Type == TokenDot {
			p.advance()
			if _, err := p.expect(TokenDot); err != nil {
				return step, err
			}
			max, err := p.expect(TokenInteger)
			if err != nil {
				return step, err
			}
			step.MaxHops = int(max.Int)
		}
		if step.MinHops < 1 || step.MaxHops < step.MinHops {
			return step, &ParseError{
				Position: star.Pos,
				Expected: "hop range with 1 <= min <= max",
				Found:    fmt.Sprintf("*%d..%d", step.MinHops, step.MaxHops),
			}
		}
	}

	if _, err := p.expect(TokenRBrack); err != nil {
		return step, err
	}

	switch {
	case leading == TokenMinus:
		if _, err := p.expect(TokenArrow); err != nil {
			return step, err
		}
		step.Direction = TraverseOut
	case p.cur().Type == TokenMinus:
		p.advance()
		step.Direction = TraverseIn
	case p.cur().Type == TokenArrow:
		p.advance()
		step.Direction = TraverseBoth
	default:
		return step, p.errHere("- or ->")
	}

	alias, err := p.expect(TokenIdent)
	if err != nil {
		return step, err
	}
	step.Alias = alias.Text
	return step, nil
}

func (p *Parser) parseSelectField() (SelectField, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return SelectField{}, err
	}
	field := SelectField{Expr: expr}
	if p.cur().Type == TokenAs {
		p.advance()
		name, err := p.expect(TokenIdent)
		if err != nil {
			return SelectField{}, err
		}
		field.Alias = name.Text
	}
	return field, nil
}

func (p *Parser) parseInsert() (*Insert, error) {
	if _, err := p.expect(TokenInsert); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	col, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	ins := &Insert{Collection: col.Text}
	for {
		row, err := p.parsePropMap()
		if err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return ins, nil
}

func (p *Parser) parseUpdate() (*Update, error) {
	if _, err := p.expect(TokenUpdate); err != nil {
		return nil, err
	}
	col, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	u := &Update{Collection: col.Text, Alias: col.Text}
	if p.cur().Type == TokenIdent {
		u.Alias = p.advance().Text
	}
	if _, err := p.expect(TokenSet); err != nil {
		return nil, err
	}
	for {
		name, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEq); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		u.Set = append(u.Set, Assignment{Field: name.Text, Value: value})
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	if p.cur().Type == TokenWhere {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		u.Where = expr
	}
	return u, nil
}

func (p *Parser) parseDelete() (*Delete, error) {
	if _, err := p.expect(TokenDelete); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	col, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	d := &Delete{Collection: col.Text, Alias: col.Text}
	if p.cur().Type == TokenIdent {
		d.Alias = p.advance().Text
	}
	if p.cur().Type == TokenWhere {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.Where = expr
	}
	return d, nil
}

func (p *Parser) parseCreateEdge() (*CreateEdge, error) {
	if _, err := p.expect(TokenCreate); err != nil {
		return nil, err
	}
	src, err := p.parseEndpoint()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenMinus); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLBrack); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	typ, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRBrack); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenArrow); err != nil {
		return nil, err
	}
	dst, err := p.parseEndpoint()
	if err != nil {
		return nil, err
	}
	ce := &CreateEdge{Source: src, Target: dst, Type: typ.Text}
	if p.cur().Type == TokenLBrace {
		props, err := p.parsePropMap()
		if err != nil {
			return nil, err
		}
		ce.Props = props
	}
	return ce, nil
}

// parseEndpoint parses (id-string) or (Collection field = expr). The field
// may also be written Collection.field.
func (p *Parser) parseEndpoint() (EndpointMatch, error) {
	var m EndpointMatch
	if _, err := p.expect(TokenLParen); err != nil {
		return m, err
	}
	switch p.cur().Type {
	case TokenString:
		m.ID = p.advance().Text
	case TokenIdent:
		m.Collection = p.advance().Text
		if p.cur().Type == TokenDot {
			p.advance()
		}
		field, err := p.expect(TokenIdent)
		if err != nil {
			return m, err
		}
		m.Field = field.Text
		if _, err := p.expect(TokenEq); err != nil {
			return m, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return m, err
		}
		m.Value = value
	default:
		return m, p.errHere("entity id or collection match")
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return m, err
	}
	return m, nil
}

// parsePropMap parses {key: expr, ...}.
func (p *Parser) parsePropMap() (map[string]Expr, error) {
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	props := make(map[string]Expr)
	if p.cur().Type == TokenRBrace {
		p.advance()
		return props, nil
	}
	for {
		var key string
		switch p.cur().Type {
		case TokenIdent, TokenString:
			key = p.advance().Text
		default:
			return nil, p.errHere("property name")
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		props[key] = value
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return props, nil
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.cur().Type == TokenNot {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[TokenType]BinaryOp{
	TokenEq:  OpEq,
	TokenNeq: OpNeq,
	TokenLt:  OpLt,
	TokenLte: OpLte,
	TokenGt:  OpGt,
	TokenGte: OpGte,
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := comparisonOps[p.cur().Type]; ok {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.cur().Type {
		case TokenPlus:
			op = OpAdd
		case TokenMinus:
			op = OpSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.cur().Type {
		case TokenStar:
			op = OpMul
		case TokenSlash:
			op = OpDiv
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur().Type == TokenMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// Fold negation into numeric literals.
		if lit, ok := operand.(*Literal); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v}, nil
			case float64:
				return &Literal{Value: -v}, nil
			}
		}
		return &UnaryExpr{Op: OpNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

var aggTokens = map[TokenType]AggFunc{
	TokenCount: AggCount,
	TokenSum:   AggSum,
	TokenAvg:   AggAvg,
	TokenMin:   AggMin,
	TokenMax:   AggMax,
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Type {
	case TokenString:
		p.advance()
		return &Literal{Value: tok.Text}, nil
	case TokenInteger:
		p.advance()
		return &Literal{Value: tok.Int}, nil
	case TokenFloat:
		p.advance()
		return &Literal{Value: tok.Num}, nil
	case TokenTrue:
		p.advance()
		return &Literal{Value: true}, nil
	case TokenFalse:
		p.advance()
		return &Literal{Value: false}, nil
	case TokenNull:
		p.advance()
		return &Literal{Value: nil}, nil
	case TokenLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil
	case TokenIdent:
		p.advance()
		if p.cur().Type == TokenDot {
			p.advance()
			field, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			return &FieldRef{Alias: tok.Text, Field: field.Text}, nil
		}
		return &FieldRef{Field: tok.Text}, nil
	}

	if fn, ok := aggTokens[tok.Type]; ok {
		p.advance()
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		agg := &Aggregate{Func: fn}
		if p.cur().Type == TokenStar {
			if fn != AggCount {
				return nil, p.errHere("expression")
			}
			p.advance()
		} else {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			agg.Arg = arg
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return agg, nil
	}

	return nil, p.errHere("expression")
}
