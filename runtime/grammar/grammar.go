// Package grammar describes acceptable text continuations for constrained
// decoding. A Node is an immutable, composable description of what the next
// span of generated text may look like (exact literal, regular expression,
// ordered alternatives, concatenation, bounded repetition). Compile lowers a
// Node into a Machine, the per-request automaton that the generation engine
// feeds token by token to learn whether the text so far is still a valid
// prefix, already a complete match, or no longer acceptable.
//
// Design goals:
//   - Construction-time failure: malformed definitions (bad expression,
//     empty choice, invalid bounds) surface as *Error when the node is
//     built or compiled, never while decoding.
//   - Composition over special cases: higher-level shapes such as
//     "Observation " followed by digits are ordinary Sequence values.
//   - One Machine per in-flight generation request; Machines are not safe
//     for concurrent use and are discarded when the request completes.
package grammar

import (
	"fmt"
	"regexp/syntax"
	"strconv"
	"strings"
)

type (
	// Node is an immutable description of an acceptable continuation.
	// Implementations are Literal, Pattern, Choice, Sequence, and Repeat.
	// Nodes are composed, never mutated, and may be shared freely across
	// goroutines and compilations.
	Node interface {
		node()
		// String returns a compact description used in errors and logs.
		String() string
	}

	// Literal matches exactly Text and nothing else.
	Literal struct {
		// Text is the exact string to match. Empty matches the empty string.
		Text string
	}

	// Pattern matches strings accepted by a regular expression (RE2 syntax).
	// Matching is anchored at both ends: the consumed text as a whole must
	// satisfy the expression. Build with NewPattern so that malformed
	// expressions fail eagerly.
	Pattern struct {
		expr string
		re   *syntax.Regexp
	}

	// Choice matches any one of its alternatives. Alternatives keep their
	// declaration order; when several remain acceptable at once the first
	// listed retains priority, so outcomes are deterministic. Build with
	// NewChoice, which rejects empty alternative sets.
	Choice struct {
		alts []Node
	}

	// Sequence matches its nodes one after another in order. An empty
	// Sequence matches the empty string.
	Sequence struct {
		// Nodes are matched in order.
		Nodes []Node
	}

	// Repeat matches between Min and Max consecutive occurrences of its
	// child. Build with NewRepeat, which validates the bounds.
	Repeat struct {
		child Node
		min   int
		max   int
	}

	// Error reports an invalid grammar definition. It is returned by node
	// constructors and by Compile; decoding never produces one.
	Error struct {
		// Op names the construction step that failed ("pattern", "choice",
		// "repeat", "compile").
		Op string
		// Expr describes the offending expression or node.
		Expr string
		// Err is the underlying cause when one exists.
		Err error
	}
)

// Unbounded marks a Repeat with no upper bound.
const Unbounded = -1

// maxRepeat caps finite repetition counts, mirroring the RE2 limit, so that
// compiled programs stay small.
const maxRepeat = 1000

// Lit returns a Literal matching exactly text.
func Lit(text string) *Literal {
	return &Literal{Text: text}
}

// NewPattern returns a Pattern for the given RE2 expression. The expression
// is parsed eagerly; a malformed expression yields *Error.
func NewPattern(expr string) (*Pattern, error) {
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return nil, &Error{Op: "pattern", Expr: expr, Err: err}
	}
	return &Pattern{expr: expr, re: re}, nil
}

// MustPattern is NewPattern that panics on error, for expressions known good
// at compile time (package-level defaults, tests).
func MustPattern(expr string) *Pattern {
	p, err := NewPattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Expr returns the source expression the pattern was built from.
func (p *Pattern) Expr() string { return p.expr }

// NewChoice returns a Choice over the given alternatives in declaration
// order. At least one alternative is required and none may be nil; a Choice
// that could never match anything is a definition bug, reported eagerly.
func NewChoice(alts ...Node) (*Choice, error) {
	if len(alts) == 0 {
		return nil, &Error{Op: "choice", Expr: "()", Err: errNoAlternatives}
	}
	for i, a := range alts {
		if a == nil {
			return nil, &Error{Op: "choice", Expr: fmt.Sprintf("alternative %d", i), Err: errNilNode}
		}
	}
	return &Choice{alts: append([]Node(nil), alts...)}, nil
}

// ChoiceOf builds a Choice over literal strings, the common case of
// selecting among known names.
func ChoiceOf(names ...string) (*Choice, error) {
	alts := make([]Node, len(names))
	for i, n := range names {
		alts[i] = Lit(n)
	}
	return NewChoice(alts...)
}

// Alternatives returns the alternatives in declaration order. The returned
// slice is a copy.
func (c *Choice) Alternatives() []Node {
	return append([]Node(nil), c.alts...)
}

// Seq returns a Sequence over the given nodes in order.
func Seq(nodes ...Node) *Sequence {
	return &Sequence{Nodes: append([]Node(nil), nodes...)}
}

// NewRepeat returns a Repeat matching between min and max occurrences of n.
// Pass Unbounded for max to allow any number of repetitions at or above min.
func NewRepeat(n Node, min, max int) (*Repeat, error) {
	if n == nil {
		return nil, &Error{Op: "repeat", Expr: "(nil)", Err: errNilNode}
	}
	if min < 0 {
		return nil, &Error{Op: "repeat", Expr: n.String(), Err: fmt.Errorf("min %d is negative", min)}
	}
	if max != Unbounded && max < min {
		return nil, &Error{Op: "repeat", Expr: n.String(), Err: fmt.Errorf("max %d is below min %d", max, min)}
	}
	if min > maxRepeat || (max != Unbounded && max > maxRepeat) {
		return nil, &Error{Op: "repeat", Expr: n.String(), Err: fmt.Errorf("bounds exceed %d", maxRepeat)}
	}
	return &Repeat{child: n, min: min, max: max}, nil
}

// Optional returns a Repeat matching zero or one occurrence of n.
func Optional(n Node) (*Repeat, error) {
	return NewRepeat(n, 0, 1)
}

// Child returns the repeated node.
func (r *Repeat) Child() Node { return r.child }

// Bounds returns the repetition bounds; max is Unbounded when unlimited.
func (r *Repeat) Bounds() (min, max int) { return r.min, r.max }

func (l *Literal) String() string { return strconv.Quote(l.Text) }

func (p *Pattern) String() string { return "/" + p.expr + "/" }

func (c *Choice) String() string {
	parts := make([]string, len(c.alts))
	for i, a := range c.alts {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func (s *Sequence) String() string {
	parts := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		if n == nil {
			parts[i] = "(nil)"
			continue
		}
		parts[i] = n.String()
	}
	return strings.Join(parts, " ")
}

func (r *Repeat) String() string {
	max := "∞"
	if r.max != Unbounded {
		max = strconv.Itoa(r.max)
	}
	child := "(nil)"
	if r.child != nil {
		child = r.child.String()
	}
	return fmt.Sprintf("%s{%d,%s}", child, r.min, max)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("grammar: %s %s: %v", e.Op, e.Expr, e.Err)
	}
	return fmt.Sprintf("grammar: %s %s", e.Op, e.Expr)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

var (
	errNoAlternatives = fmt.Errorf("requires at least one alternative")
	errNilNode        = fmt.Errorf("nil node")
)

func (*Literal) node()  {}
func (*Pattern) node()  {}
func (*Choice) node()   {}
func (*Sequence) node() {}
func (*Repeat) node()   {}
