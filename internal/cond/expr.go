package cond

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fwessels/cpip/internal/token"
)

var (
	ErrNoExpression  = errors.New("#if with no expression")
	ErrDivideByZero  = errors.New("division by zero in #if")
	ErrMissingParen  = errors.New("missing ')' in expression")
	ErrMissingColon  = errors.New("'?' without following ':'")
	ErrDefinedSyntax = errors.New("operator \"defined\" requires an identifier")
	ErrDefinedParen  = errors.New("missing ')' after \"defined\"")
)

// Value is the result of a constant expression, computed as intmax_t or
// uintmax_t.
type Value struct {
	bits     uint64
	unsigned bool
}

func Signed(n int64) Value { return Value{bits: uint64(n)} }

func Unsigned(n uint64) Value { return Value{bits: n, unsigned: true} }

func (v Value) Int() int64 { return int64(v.bits) }

func (v Value) Uint() uint64 { return v.bits }

func (v Value) IsUnsigned() bool { return v.unsigned }

func (v Value) Bool() bool { return v.bits != 0 }

func (v Value) String() string {
	if v.unsigned {
		return strconv.FormatUint(v.bits, 10)
	}
	return strconv.FormatInt(int64(v.bits), 10)
}

func boolValue(b bool) Value {
	if b {
		return Signed(1)
	}
	return Signed(0)
}

// ---------------- defined ----------------

// ReplaceDefined substitutes 1 or 0 for every "defined NAME" and
// "defined ( NAME )". It runs before macro expansion so the operand is never
// expanded.
func ReplaceDefined(toks []token.Token, isDefined func(name string) bool) ([]token.Token, error) {
	out := make([]token.Token, 0, len(toks))
	skip := func(i int) int {
		for i < len(toks) && toks[i].IsWhitespace() {
			i++
		}
		return i
	}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !t.IsIdent("defined") || t.Painted() {
			out = append(out, t)
			continue
		}
		j := skip(i + 1)
		paren := j < len(toks) && toks[j].IsOp("(")
		if paren {
			j = skip(j + 1)
		}
		if j >= len(toks) || toks[j].Kind != token.Identifier {
			return nil, ErrDefinedSyntax
		}
		name := toks[j].Text
		if paren {
			j = skip(j + 1)
			if j >= len(toks) || !toks[j].IsOp(")") {
				return nil, ErrDefinedParen
			}
		}
		v := "0"
		if isDefined(name) {
			v = "1"
		}
		out = append(out, token.New(v, token.PPNumber).At(t))
		i = j
	}
	return out, nil
}

// ---------------- Evaluation ----------------

// Evaluate reduces toks, already macro-expanded, to a truth value.
func Evaluate(toks []token.Token) (bool, error) {
	v, err := Eval(toks)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// Eval reduces toks to a single value. Identifiers still present are 0.
// Tokens left over after a complete expression are an error.
func Eval(toks []token.Token) (Value, error) {
	p := &exprParser{tokens: token.Strip(toks)}
	if len(p.tokens) == 0 {
		return Value{}, ErrNoExpression
	}
	v, err := p.parseConditional()
	if err != nil {
		return Value{}, err
	}
	if p.pos < len(p.tokens) {
		return Value{}, fmt.Errorf("missing binary operator before token %q", p.tokens[p.pos].Text)
	}
	return v, nil
}

type exprParser struct {
	tokens []token.Token
	pos    int
	// skip > 0 inside operands that are not evaluated
	skip int
}

func (p *exprParser) peek() (token.Token, bool) {
	if p.pos >= len(p.tokens) {
		return token.Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *exprParser) match(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.Kind != token.Operator {
		return "", false
	}
	for _, op := range ops {
		if t.Text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

// Precedence: conditional -> logicalOr -> logicalAnd -> bitwiseOr -> bitwiseXor -> bitwiseAnd
//             -> equality -> relational -> shift -> additive -> multiplicative -> unary -> primary

func (p *exprParser) parseConditional() (Value, error) {
	cond, err := p.parseLogicalOr()
	if err != nil {
		return Value{}, err
	}
	if _, ok := p.match("?"); !ok {
		return cond, nil
	}
	if !cond.Bool() {
		p.skip++
	}
	thenVal, err := p.parseConditional()
	if !cond.Bool() {
		p.skip--
	}
	if err != nil {
		return Value{}, err
	}
	if _, ok := p.match(":"); !ok {
		return Value{}, ErrMissingColon
	}
	if cond.Bool() {
		p.skip++
	}
	elseVal, err := p.parseConditional()
	if cond.Bool() {
		p.skip--
	}
	if err != nil {
		return Value{}, err
	}
	// the usual arithmetic conversions apply to the second and third operands
	unsigned := thenVal.unsigned || elseVal.unsigned
	if cond.Bool() {
		thenVal.unsigned = unsigned
		return thenVal, nil
	}
	elseVal.unsigned = unsigned
	return elseVal, nil
}

func (p *exprParser) parseLogicalOr() (Value, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return Value{}, err
	}
	for {
		if _, ok := p.match("||"); !ok {
			return left, nil
		}
		if left.Bool() {
			p.skip++
		}
		right, err := p.parseLogicalAnd()
		if left.Bool() {
			p.skip--
		}
		if err != nil {
			return Value{}, err
		}
		left = boolValue(left.Bool() || right.Bool())
	}
}

func (p *exprParser) parseLogicalAnd() (Value, error) {
	left, err := p.parseBinary(0)
	if err != nil {
		return Value{}, err
	}
	for {
		if _, ok := p.match("&&"); !ok {
			return left, nil
		}
		if !left.Bool() {
			p.skip++
		}
		right, err := p.parseBinary(0)
		if !left.Bool() {
			p.skip--
		}
		if err != nil {
			return Value{}, err
		}
		left = boolValue(left.Bool() && right.Bool())
	}
}

// binaryLevels lists the left-associative levels below && from loosest to
// tightest.
var binaryLevels = [][]string{
	{"|"},
	{"^"},
	{"&"},
	{"==", "!="},
	{"<=", ">=", "<", ">"},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *exprParser) parseBinary(level int) (Value, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return Value{}, err
	}
	for {
		op, ok := p.match(binaryLevels[level]...)
		if !ok {
			return left, nil
		}
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return Value{}, err
		}
		if left, err = p.apply(op, left, right); err != nil {
			return Value{}, err
		}
	}
}

func (p *exprParser) apply(op string, l, r Value) (Value, error) {
	// shifts keep the type of the left operand
	if op == "<<" || op == ">>" {
		n := r.bits
		if !r.unsigned && r.Int() < 0 {
			return Value{}, fmt.Errorf("negative shift count %d", r.Int())
		}
		if n >= 64 {
			if op == ">>" && !l.unsigned && l.Int() < 0 {
				return Value{bits: ^uint64(0)}, nil
			}
			return Value{unsigned: l.unsigned}, nil
		}
		if op == "<<" {
			return Value{bits: l.bits << n, unsigned: l.unsigned}, nil
		}
		if l.unsigned {
			return Value{bits: l.bits >> n, unsigned: true}, nil
		}
		return Signed(l.Int() >> n), nil
	}

	unsigned := l.unsigned || r.unsigned
	switch op {
	case "|":
		return Value{bits: l.bits | r.bits, unsigned: unsigned}, nil
	case "^":
		return Value{bits: l.bits ^ r.bits, unsigned: unsigned}, nil
	case "&":
		return Value{bits: l.bits & r.bits, unsigned: unsigned}, nil
	case "==":
		return boolValue(l.bits == r.bits), nil
	case "!=":
		return boolValue(l.bits != r.bits), nil
	case "<", ">", "<=", ">=":
		var c int
		switch {
		case unsigned && l.bits < r.bits, !unsigned && l.Int() < r.Int():
			c = -1
		case l.bits != r.bits:
			c = 1
		}
		switch op {
		case "<":
			return boolValue(c < 0), nil
		case ">":
			return boolValue(c > 0), nil
		case "<=":
			return boolValue(c <= 0), nil
		default:
			return boolValue(c >= 0), nil
		}
	case "+":
		return Value{bits: l.bits + r.bits, unsigned: unsigned}, nil
	case "-":
		return Value{bits: l.bits - r.bits, unsigned: unsigned}, nil
	case "*":
		return Value{bits: l.bits * r.bits, unsigned: unsigned}, nil
	case "/", "%":
		if r.bits == 0 {
			if p.skip > 0 {
				return Value{unsigned: unsigned}, nil
			}
			return Value{}, ErrDivideByZero
		}
		if unsigned {
			if op == "/" {
				return Unsigned(l.bits / r.bits), nil
			}
			return Unsigned(l.bits % r.bits), nil
		}
		if op == "/" {
			return Signed(l.Int() / r.Int()), nil
		}
		return Signed(l.Int() % r.Int()), nil
	}
	return Value{}, fmt.Errorf("token %q is not valid in preprocessor expressions", op)
}

func (p *exprParser) parseUnary() (Value, error) {
	op, ok := p.match("!", "-", "+", "~")
	if !ok {
		return p.parsePrimary()
	}
	v, err := p.parseUnary()
	if err != nil {
		return Value{}, err
	}
	switch op {
	case "!":
		return boolValue(!v.Bool()), nil
	case "-":
		return Value{bits: -v.bits, unsigned: v.unsigned}, nil
	case "~":
		return Value{bits: ^v.bits, unsigned: v.unsigned}, nil
	}
	return v, nil
}

func (p *exprParser) parsePrimary() (Value, error) {
	tok, ok := p.peek()
	if !ok {
		return Value{}, errors.New("#if expression ends unexpectedly")
	}
	p.pos++
	switch tok.Kind {
	case token.Operator:
		if tok.Text == "(" {
			v, err := p.parseConditional()
			if err != nil {
				return Value{}, err
			}
			if _, ok := p.match(")"); !ok {
				return Value{}, ErrMissingParen
			}
			return v, nil
		}
	case token.PPNumber:
		return parseNumber(tok.Text)
	case token.CharLiteral:
		return parseCharConst(tok.Text)
	case token.Identifier:
		// names left after expansion are not macros
		return Signed(0), nil
	}
	return Value{}, fmt.Errorf("token %q is not valid in preprocessor expressions", tok.Text)
}

// parseNumber parses an integer constant with its suffix.
func parseNumber(s string) (Value, error) {
	body := strings.TrimRight(s, "lLuU")
	suffix := s[len(body):]
	unsigned := strings.ContainsAny(suffix, "uU")
	switch strings.ReplaceAll(strings.ToLower(suffix), "u", "") {
	case "", "l", "ll":
	default:
		return Value{}, fmt.Errorf("invalid suffix %q on integer constant", suffix)
	}

	base := 10
	digits := body
	switch {
	case strings.HasPrefix(body, "0x"), strings.HasPrefix(body, "0X"):
		base, digits = 16, body[2:]
	case strings.HasPrefix(body, "0b"), strings.HasPrefix(body, "0B"):
		base, digits = 2, body[2:]
	case len(body) > 1 && body[0] == '0':
		base, digits = 8, body[1:]
	}
	if strings.ContainsAny(body, ".") || (base != 16 && strings.ContainsAny(body, "eEpP")) {
		return Value{}, fmt.Errorf("floating constant %q in preprocessor expression", s)
	}
	n, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid integer constant %q", s)
	}
	// a decimal constant too big for intmax_t, or any unsuffixed
	// constant above it, becomes unsigned
	if n > 1<<63-1 {
		unsigned = true
	}
	return Value{bits: n, unsigned: unsigned}, nil
}

var simpleEscapes = map[byte]rune{
	'n': '\n', 't': '\t', 'r': '\r', 'a': '\a', 'b': '\b', 'f': '\f', 'v': '\v',
	'\\': '\\', '\'': '\'', '"': '"', '?': '?',
}

// parseCharConst evaluates a character constant, with an optional L, u, U or
// u8 prefix, to its ordinal value. Multi-character plain constants combine
// their characters like GCC does.
func parseCharConst(s string) (Value, error) {
	prefix := s[:strings.IndexByte(s, '\'')]
	if len(s) < len(prefix)+2 || s[len(s)-1] != '\'' {
		return Value{}, fmt.Errorf("invalid character constant %s", s)
	}
	inner := s[len(prefix)+1 : len(s)-1]
	if inner == "" {
		return Value{}, fmt.Errorf("empty character constant %s", s)
	}
	var chars []rune
	for i := 0; i < len(inner); {
		if inner[i] != '\\' {
			chars = append(chars, rune(inner[i]))
			i++
			continue
		}
		if i+1 >= len(inner) {
			return Value{}, fmt.Errorf("invalid escape in %s", s)
		}
		c := inner[i+1]
		switch {
		case simpleEscapes[c] != 0:
			chars = append(chars, simpleEscapes[c])
			i += 2
		case c == 'x':
			j := i + 2
			for j < len(inner) && isHex(inner[j]) {
				j++
			}
			n, err := strconv.ParseUint(inner[i+2:j], 16, 32)
			if err != nil {
				return Value{}, fmt.Errorf("invalid hex escape in %s", s)
			}
			chars = append(chars, rune(n))
			i = j
		case c >= '0' && c <= '7':
			j := i + 1
			for j < len(inner) && j < i+4 && inner[j] >= '0' && inner[j] <= '7' {
				j++
			}
			n, _ := strconv.ParseUint(inner[i+1:j], 8, 32)
			chars = append(chars, rune(n))
			i = j
		case c == 'u' || c == 'U':
			n := 4
			if c == 'U' {
				n = 8
			}
			if i+2+n > len(inner) {
				return Value{}, fmt.Errorf("incomplete universal character name in %s", s)
			}
			r, err := strconv.ParseUint(inner[i+2:i+2+n], 16, 32)
			if err != nil {
				return Value{}, fmt.Errorf("invalid universal character name in %s", s)
			}
			chars = append(chars, rune(r))
			i += 2 + n
		default:
			return Value{}, fmt.Errorf("unknown escape sequence '\\%c' in %s", c, s)
		}
	}

	if prefix != "" && prefix != "u8" {
		// wide constants take the last character
		return Signed(int64(chars[len(chars)-1])), nil
	}
	if len(chars) == 1 {
		if chars[0] <= 0xFF {
			// plain char is signed
			return Signed(int64(int8(chars[0]))), nil
		}
		return Signed(int64(chars[0])), nil
	}
	var v int64
	for _, c := range chars {
		v = v<<8 | int64(c&0xFF)
	}
	return Signed(int64(int32(v))), nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
