package agent

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
)

// CalculationAgent evaluates arithmetic expressions deterministically,
// without the LLM. Supported: + - * / % ^, parentheses, unary minus,
// decimal numbers.
type CalculationAgent struct{}

// NewCalculationAgent creates the arithmetic specialist.
func NewCalculationAgent() *CalculationAgent { return &CalculationAgent{} }

func (a *CalculationAgent) Name() string { return NameCalculation }
func (a *CalculationAgent) Role() string { return "arithmetic evaluation" }
func (a *CalculationAgent) Capabilities() []string {
	return []string{"arithmetic", "expressions"}
}

func (a *CalculationAgent) Handle(_ context.Context, tc TaskContext) (Result, error) {
	expr := extractExpression(tc.EffectiveInput())
	if expr == "" {
		return Result{}, apperr.New(apperr.CodeInvalidRequest, "no arithmetic expression found in input")
	}
	value, err := evalExpression(expr)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeInvalidRequest, err, "cannot evaluate %q", expr)
	}
	return Result{Content: fmt.Sprintf("%s = %s", expr, formatNumber(value))}, nil
}

// extractExpression pulls the longest arithmetic-looking substring out of a
// natural-language query.
func extractExpression(input string) string {
	isExprRune := func(r rune) bool {
		return r >= '0' && r <= '9' || strings.ContainsRune("+-*/%^(). ", r)
	}

	var best, current []rune
	flush := func() {
		candidate := strings.TrimSpace(string(current))
		if strings.ContainsAny(candidate, "0123456789") && len(candidate) > len(strings.TrimSpace(string(best))) {
			best = []rune(candidate)
		}
		current = current[:0]
	}
	for _, r := range input {
		if isExprRune(r) {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()
	return strings.TrimSpace(string(best))
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', 12, 64)
}

// evalExpression is a recursive-descent evaluator with standard precedence:
// parentheses, unary minus, ^ (right-assoc), * / %, then + -.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *exprParser) parseAddSub() (float64, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peek()
		if !ok || (op != '+' && op != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseMulDiv()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseMulDiv() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peek()
		if !ok || (op != '*' && op != '/' && op != '%') {
			return left, nil
		}
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	op, ok := p.peek()
	if !ok || op != '^' {
		return base, nil
	}
	p.pos++
	// Right-associative.
	exp, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) parseUnary() (float64, error) {
	op, ok := p.peek()
	if ok && op == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	if ok && op == '+' {
		p.pos++
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	ch, ok := p.peek()
	if !ok {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if ch == '(' {
		p.pos++
		v, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		ch, ok = p.peek()
		if !ok || ch != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' || c == '.' {
			p.pos++
		} else {
			break
		}
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at offset %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}

var _ Agent = (*CalculationAgent)(nil)
