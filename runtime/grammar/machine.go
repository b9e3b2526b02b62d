package grammar

import (
	"fmt"
	"regexp/syntax"
	"strings"
)

type (
	// Verdict is the machine's view of the input consumed so far.
	Verdict int

	// Machine is the live matching state for one compiled Node. The
	// generation engine feeds it candidate text one token at a time and
	// reads back the verdict. A Machine is owned by a single in-flight
	// generation request, is not safe for concurrent use, and is discarded
	// (or Reset) when the request completes or is aborted.
	//
	// The implementation lowers the whole node tree to a single RE2 program
	// and runs it as a breadth-first thread set over the consumed runes.
	// Thread order follows declaration order, so when several Choice
	// alternatives remain viable the first listed keeps priority.
	Machine struct {
		prog *syntax.Prog
		node Node

		// pending holds the surviving thread program counters after the
		// consumed input, in priority order, not yet advanced through
		// zero-width instructions (those need the next rune to resolve).
		pending  []uint32
		prev     rune
		dead     bool
		consumed strings.Builder

		marks []uint64
		gen   uint64
	}

	// frontier is the result of advancing pending threads through
	// zero-width instructions for a given boundary context.
	frontier struct {
		// waiting lists threads stopped at rune instructions, priority order.
		waiting []uint32
		// matched reports that some thread reached the match instruction.
		matched bool
	}
)

const (
	// Reject means the consumed input can no longer lead to a match.
	Reject Verdict = iota
	// Continue means the consumed input is a proper prefix of at least one
	// match but is not itself complete.
	Continue
	// Accept means the consumed input is a complete match. More input may
	// still be acceptable; CanContinue distinguishes final from extendable.
	Accept
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Continue:
		return "continue"
	case Accept:
		return "accept"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Compile lowers node into a fresh Machine. Structural problems (nil or
// empty alternatives, invalid bounds, malformed expressions reached through
// zero-value structs) are reported as *Error here so that decoding can rely
// on a well-formed automaton.
func Compile(node Node) (*Machine, error) {
	if node == nil {
		return nil, &Error{Op: "compile", Expr: "(nil)", Err: errNilNode}
	}
	re, err := lower(node)
	if err != nil {
		return nil, err
	}
	prog, cerr := syntax.Compile(re.Simplify())
	if cerr != nil {
		return nil, &Error{Op: "compile", Expr: node.String(), Err: cerr}
	}
	m := &Machine{prog: prog, node: node}
	m.Reset()
	return m, nil
}

// lower converts a node tree to the RE2 syntax tree it is equivalent to.
func lower(n Node) (*syntax.Regexp, error) {
	switch v := n.(type) {
	case *Literal:
		if v.Text == "" {
			return &syntax.Regexp{Op: syntax.OpEmptyMatch, Flags: syntax.Perl}, nil
		}
		return &syntax.Regexp{Op: syntax.OpLiteral, Rune: []rune(v.Text), Flags: syntax.Perl}, nil
	case *Pattern:
		if v.re != nil {
			return v.re, nil
		}
		// Zero-value Pattern: parse the (possibly empty) expression now.
		re, err := syntax.Parse(v.expr, syntax.Perl)
		if err != nil {
			return nil, &Error{Op: "pattern", Expr: v.expr, Err: err}
		}
		return re, nil
	case *Choice:
		if len(v.alts) == 0 {
			return nil, &Error{Op: "choice", Expr: "()", Err: errNoAlternatives}
		}
		subs := make([]*syntax.Regexp, len(v.alts))
		for i, a := range v.alts {
			if a == nil {
				return nil, &Error{Op: "choice", Expr: fmt.Sprintf("alternative %d", i), Err: errNilNode}
			}
			sub, err := lower(a)
			if err != nil {
				return nil, err
			}
			subs[i] = sub
		}
		return &syntax.Regexp{Op: syntax.OpAlternate, Sub: subs, Flags: syntax.Perl}, nil
	case *Sequence:
		if len(v.Nodes) == 0 {
			return &syntax.Regexp{Op: syntax.OpEmptyMatch, Flags: syntax.Perl}, nil
		}
		subs := make([]*syntax.Regexp, len(v.Nodes))
		for i, child := range v.Nodes {
			if child == nil {
				return nil, &Error{Op: "sequence", Expr: fmt.Sprintf("node %d", i), Err: errNilNode}
			}
			sub, err := lower(child)
			if err != nil {
				return nil, err
			}
			subs[i] = sub
		}
		return &syntax.Regexp{Op: syntax.OpConcat, Sub: subs, Flags: syntax.Perl}, nil
	case *Repeat:
		if v.child == nil {
			return nil, &Error{Op: "repeat", Expr: "(nil)", Err: errNilNode}
		}
		if v.min < 0 || (v.max != Unbounded && v.max < v.min) {
			return nil, &Error{Op: "repeat", Expr: v.String(), Err: fmt.Errorf("invalid bounds {%d,%d}", v.min, v.max)}
		}
		if v.min > maxRepeat || (v.max != Unbounded && v.max > maxRepeat) {
			return nil, &Error{Op: "repeat", Expr: v.String(), Err: fmt.Errorf("bounds exceed %d", maxRepeat)}
		}
		sub, err := lower(v.child)
		if err != nil {
			return nil, err
		}
		return &syntax.Regexp{
			Op:    syntax.OpRepeat,
			Min:   v.min,
			Max:   v.max,
			Sub:   []*syntax.Regexp{sub},
			Flags: syntax.Perl,
		}, nil
	default:
		return nil, &Error{Op: "compile", Expr: fmt.Sprintf("%T", n), Err: fmt.Errorf("unknown node type")}
	}
}

// Node returns the node this machine was compiled from.
func (m *Machine) Node() Node { return m.node }

// Consumed returns the input fed so far.
func (m *Machine) Consumed() string { return m.consumed.String() }

// Reset returns the machine to its initial state.
func (m *Machine) Reset() {
	m.pending = append(m.pending[:0], uint32(m.prog.Start))
	m.prev = -1
	m.dead = false
	m.consumed.Reset()
}

// Feed consumes text and returns the verdict for everything consumed so
// far. Once a machine reports Reject it stays rejected until Reset.
func (m *Machine) Feed(text string) Verdict {
	if m.dead {
		return Reject
	}
	for _, r := range text {
		if !m.feedRune(r) {
			m.dead = true
			return Reject
		}
	}
	return m.Verdict()
}

// Peek reports the verdict Feed(text) would return without consuming text.
func (m *Machine) Peek(text string) Verdict {
	if m.dead {
		return Reject
	}
	clone := Machine{
		prog:    m.prog,
		node:    m.node,
		pending: append([]uint32(nil), m.pending...),
		prev:    m.prev,
	}
	return clone.Feed(text)
}

// Verdict reports the machine's view of the input consumed so far.
func (m *Machine) Verdict() Verdict {
	if m.dead {
		return Reject
	}
	if m.Accepted() {
		return Accept
	}
	if m.CanContinue() {
		return Continue
	}
	return Reject
}

// Accepted reports whether the consumed input is a complete match.
func (m *Machine) Accepted() bool {
	if m.dead {
		return false
	}
	return m.advance(m.prev, -1).matched
}

// CanContinue reports whether some additional input could still lead to a
// match. Boundary assertions are resolved against representative follow
// runes (word, non-word, newline), which covers every zero-width operator
// RE2 supports; a degenerate empty character class can make the check
// conservatively true, in which case the engine discovers the dead end on
// the next token instead.
func (m *Machine) CanContinue() bool {
	if m.dead {
		return false
	}
	for _, after := range [...]rune{'a', ' ', '\n'} {
		f := m.advance(m.prev, after)
		for _, pc := range f.waiting {
			inst := &m.prog.Inst[pc]
			switch inst.Op {
			case syntax.InstRune:
				if len(inst.Rune) > 0 {
					return true
				}
			case syntax.InstRune1, syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
				return true
			}
		}
	}
	return false
}

// feedRune advances every pending thread across r and reports whether any
// thread survived.
func (m *Machine) feedRune(r rune) bool {
	f := m.advance(m.prev, r)
	next := m.pending[:0:0]
	for _, pc := range f.waiting {
		inst := &m.prog.Inst[pc]
		if !matchRune(inst, r) {
			continue
		}
		if containsPC(next, inst.Out) {
			continue
		}
		next = append(next, inst.Out)
	}
	m.pending = next
	m.prev = r
	m.consumed.WriteRune(r)
	return len(next) > 0
}

// advance pushes pending threads through zero-width instructions using the
// boundary context (before, after), collecting threads stopped at rune
// instructions in priority order. after is -1 to treat the boundary as end
// of text.
func (m *Machine) advance(before, after rune) frontier {
	if len(m.marks) < len(m.prog.Inst) {
		m.marks = make([]uint64, len(m.prog.Inst))
	}
	m.gen++
	var f frontier
	var add func(pc uint32)
	add = func(pc uint32) {
		if m.marks[pc] == m.gen {
			return
		}
		m.marks[pc] = m.gen
		inst := &m.prog.Inst[pc]
		switch inst.Op {
		case syntax.InstAlt, syntax.InstAltMatch:
			add(inst.Out)
			add(inst.Arg)
		case syntax.InstCapture, syntax.InstNop:
			add(inst.Out)
		case syntax.InstEmptyWidth:
			if syntax.EmptyOp(inst.Arg)&^syntax.EmptyOpContext(before, after) == 0 {
				add(inst.Out)
			}
		case syntax.InstMatch:
			f.matched = true
		case syntax.InstFail:
			// Dead branch.
		case syntax.InstRune, syntax.InstRune1, syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
			f.waiting = append(f.waiting, pc)
		}
	}
	for _, pc := range m.pending {
		add(pc)
	}
	return f
}

func matchRune(inst *syntax.Inst, r rune) bool {
	switch inst.Op {
	case syntax.InstRune:
		return inst.MatchRune(r)
	case syntax.InstRune1:
		return len(inst.Rune) == 1 && r == inst.Rune[0]
	case syntax.InstRuneAny:
		return true
	case syntax.InstRuneAnyNotNL:
		return r != '\n'
	default:
		return false
	}
}

func containsPC(pcs []uint32, pc uint32) bool {
	for _, p := range pcs {
		if p == pc {
			return true
		}
	}
	return false
}
