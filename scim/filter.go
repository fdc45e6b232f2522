package scim

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expression is a node of a parsed SCIM filter (RFC 7644 section
// 3.4.2.2). The concrete variants are AttributeExpression,
// ValuePathExpression, LogicalExpression and NotExpression. Expressions
// are immutable values: evaluation and serialization never modify them.
type Expression interface {
	fmt.Stringer
	isExpression()
}

// AttrPath is a reference to an attribute, optionally qualified by a
// schema URI and optionally carrying a sub-attribute:
// [uri ":"] name ["." sub].
type AttrPath struct {
	URI  string
	Name string
	Sub  string
}

func (p AttrPath) String() string {
	var sb strings.Builder
	if p.URI != "" {
		sb.WriteString(p.URI)
		sb.WriteByte(':')
	}
	sb.WriteString(p.Name)
	if p.Sub != "" {
		sb.WriteByte('.')
		sb.WriteString(p.Sub)
	}
	return sb.String()
}

// AttributeExpression compares an attribute against a value, or tests
// presence when Present is set (the "pr" operator).
type AttributeExpression struct {
	Path     AttrPath
	Operator string
	Value    any
	Present  bool
}

func (e *AttributeExpression) isExpression() {}

func (e *AttributeExpression) String() string {
	if e.Present {
		return e.Path.String() + " pr"
	}
	return fmt.Sprintf("%s %s %s", e.Path.String(), e.Operator, serializeValue(e.Value))
}

// ValuePathExpression applies an inner filter to the elements of the
// multi-valued attribute at Path: path "[" valFilter "]".
type ValuePathExpression struct {
	Path   AttrPath
	Filter Expression
}

func (e *ValuePathExpression) isExpression() {}

func (e *ValuePathExpression) String() string {
	return e.Path.String() + "[" + e.Filter.String() + "]"
}

// LogicalExpression joins two filters with "and" or "or".
type LogicalExpression struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (e *LogicalExpression) isExpression() {}

func (e *LogicalExpression) String() string {
	// A logical left operand needs grouping: the parser attaches logical
	// suffixes by recursing right, so an unparenthesized left-nested
	// expression would re-associate on reparse.
	left := e.Left.String()
	if _, ok := e.Left.(*LogicalExpression); ok {
		left = "(" + left + ")"
	}
	return left + " " + e.Operator + " " + e.Right.String()
}

// NotExpression negates its inner filter: not "(" FILTER ")".
type NotExpression struct {
	Inner Expression
}

func (e *NotExpression) isExpression() {}

func (e *NotExpression) String() string {
	return "not (" + e.Inner.String() + ")"
}

// ErrCodeInvalidSyntax is the code carried by every ParseError.
const ErrCodeInvalidSyntax = "INVALID_SYNTAX"

// ParseError reports a filter syntax error. Position is the byte offset
// into the trimmed input at which parsing failed.
type ParseError struct {
	Code     string
	Message  string
	Position int
	Input    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d in %q", e.Message, e.Position, e.Input)
}

// ParseFilter parses a SCIM filter expression. Outer whitespace is
// trimmed; any unparsed remainder is a syntax error.
func ParseFilter(input string) (Expression, error) {
	p := &filterParser{input: strings.TrimSpace(input)}
	if p.input == "" {
		return nil, p.errorf("empty filter")
	}
	expr, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.pos < len(p.input) {
		return nil, p.errorf("unexpected input after filter expression")
	}
	return expr, nil
}

// filterParser is a byte cursor over the trimmed filter input.
type filterParser struct {
	input string
	pos   int
}

func (p *filterParser) errorf(format string, args ...any) *ParseError {
	return &ParseError{
		Code:     ErrCodeInvalidSyntax,
		Message:  fmt.Sprintf(format, args...),
		Position: p.pos,
		Input:    p.input,
	}
}

// parseFilter parses a base expression, then greedily attaches a
// logical suffix, recursing right. "and" does not bind tighter than
// "or"; parentheses are the only precedence mechanism.
func (p *filterParser) parseFilter() (Expression, error) {
	left, err := p.parseBase()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()
	var op string
	switch {
	case p.matchKeyword("and"):
		op = "and"
	case p.matchKeyword("or"):
		op = "or"
	default:
		return left, nil
	}
	p.pos += len(op)
	p.skipWhitespace()

	right, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	return &LogicalExpression{Left: left, Operator: op, Right: right}, nil
}

// parseBase parses attrExp, valuePath, notExp or a parenthesized
// filter. Parentheses group only; they never introduce a Not node.
func (p *filterParser) parseBase() (Expression, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return nil, p.errorf("expected filter expression")
	}

	if p.matchKeyword("not") {
		p.pos += 3
		p.skipWhitespace()
		if p.peek() != '(' {
			return nil, p.errorf("expected '(' after not")
		}
		p.pos++
		inner, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != ')' {
			return nil, p.errorf("expected ')'")
		}
		p.pos++
		return &NotExpression{Inner: inner}, nil
	}

	if p.peek() == '(' {
		p.pos++
		inner, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != ')' {
			return nil, p.errorf("expected ')'")
		}
		p.pos++
		return inner, nil
	}

	path, err := p.parseAttrPath()
	if err != nil {
		return nil, err
	}

	if p.peek() == '[' {
		p.pos++
		inner, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != ']' {
			return nil, p.errorf("expected ']'")
		}
		p.pos++
		return &ValuePathExpression{Path: path, Filter: inner}, nil
	}

	p.skipWhitespace()
	op, ok := p.parseOperator()
	if !ok {
		return nil, p.errorf("expected comparison operator")
	}
	if op == "pr" {
		return &AttributeExpression{Path: path, Present: true}, nil
	}

	p.skipWhitespace()
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &AttributeExpression{Path: path, Operator: op, Value: value}, nil
}

var attrNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// parseAttrPath reads an attribute path, splitting off an optional URI
// qualifier. The URI ends at the last colon whose right-hand side is a
// valid attribute name (optionally dotted with a sub-attribute); the
// rule is needed to tell urn:...:User:userName apart from a bare
// userName, and is inherently ambiguous when an attribute name collides
// with a URI segment.
func (p *filterParser) parseAttrPath() (AttrPath, error) {
	start := p.pos
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if isAttrChar(ch) || ch == '.' || ch == ':' {
			p.pos++
			continue
		}
		break
	}
	token := p.input[start:p.pos]
	if token == "" {
		return AttrPath{}, p.errorf("expected attribute path")
	}

	path, ok := splitAttrPath(token)
	if !ok {
		p.pos = start
		return AttrPath{}, p.errorf("invalid attribute path %q", token)
	}
	return path, nil
}

// splitAttrPath applies the last-colon rule to a raw path token.
func splitAttrPath(token string) (AttrPath, bool) {
	uri := ""
	rest := token
	if idx := strings.LastIndex(token, ":"); idx >= 0 {
		uri = token[:idx]
		rest = token[idx+1:]
		if uri == "" {
			return AttrPath{}, false
		}
	}

	name := rest
	sub := ""
	if idx := strings.Index(rest, "."); idx >= 0 {
		name = rest[:idx]
		sub = rest[idx+1:]
		if sub == "" || !attrNameRe.MatchString(sub) {
			return AttrPath{}, false
		}
	}
	if !attrNameRe.MatchString(name) {
		return AttrPath{}, false
	}
	return AttrPath{URI: uri, Name: name, Sub: sub}, true
}

func isAttrChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
}

var compareOperators = []string{"eq", "ne", "co", "sw", "ew", "pr", "gt", "ge", "lt", "le"}

// parseOperator parses a comparison operator keyword.
func (p *filterParser) parseOperator() (string, bool) {
	for _, op := range compareOperators {
		if p.matchKeyword(op) {
			p.pos += len(op)
			return op, true
		}
	}
	return "", false
}

// parseValue parses a comparison value: JSON string, number, boolean
// or null.
func (p *filterParser) parseValue() (any, error) {
	if p.pos >= len(p.input) {
		return nil, p.errorf("expected comparison value")
	}

	if p.peek() == '"' {
		p.pos++
		var sb strings.Builder
		for p.pos < len(p.input) {
			ch := p.input[p.pos]
			if ch == '\\' && p.pos+1 < len(p.input) {
				next := p.input[p.pos+1]
				switch next {
				case '"', '\\':
					sb.WriteByte(next)
				default:
					sb.WriteByte(ch)
					sb.WriteByte(next)
				}
				p.pos += 2
				continue
			}
			if ch == '"' {
				p.pos++
				return sb.String(), nil
			}
			sb.WriteByte(ch)
			p.pos++
		}
		return nil, p.errorf("unterminated string")
	}

	if p.matchKeyword("true") {
		p.pos += 4
		return true, nil
	}
	if p.matchKeyword("false") {
		p.pos += 5
		return false, nil
	}
	if p.matchKeyword("null") {
		p.pos += 4
		return nil, nil
	}

	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if p.pos > start {
		numStr := p.input[start:p.pos]
		if strings.Contains(numStr, ".") {
			f, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return nil, p.errorf("invalid number %q", numStr)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", numStr)
		}
		return n, nil
	}

	return nil, p.errorf("expected comparison value")
}

func (p *filterParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *filterParser) skipWhitespace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

// matchKeyword reports whether the input at the cursor starts with the
// keyword as a full word. Keywords are case-insensitive.
func (p *filterParser) matchKeyword(keyword string) bool {
	if p.pos+len(keyword) > len(p.input) {
		return false
	}
	if !strings.EqualFold(p.input[p.pos:p.pos+len(keyword)], keyword) {
		return false
	}
	if p.pos+len(keyword) < len(p.input) {
		next := p.input[p.pos+len(keyword)]
		if isAttrChar(next) || next == ':' || next == '.' {
			return false
		}
	}
	return true
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// serializeValue renders a comparison value so that ParseFilter
// round-trips it. Strings are double-quoted with embedded quotes and
// backslashes escaped.
func serializeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case string:
		var sb strings.Builder
		sb.WriteByte('"')
		for i := 0; i < len(val); i++ {
			switch val[i] {
			case '"', '\\':
				sb.WriteByte('\\')
			}
			sb.WriteByte(val[i])
		}
		sb.WriteByte('"')
		return sb.String()
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
