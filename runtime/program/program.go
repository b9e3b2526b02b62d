// Package program maintains the textual state of a run: an append-only
// sequence of segments whose concatenation is the exact prefix sent to the
// backend on the next generation. Named segments double as captures, the
// values extracted from the transcript (thoughts, tool arguments,
// observations, the final answer). Captures are write-once; appending a
// segment under a name that already exists fails without mutating the
// program.
package program

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCaptureExists is returned by Append when a named segment reuses a
// capture name already present in the program.
var ErrCaptureExists = errors.New("capture already recorded")

// Kind classifies the origin of a segment.
type Kind string

const (
	// KindPrompt is scaffold text supplied by the caller (system prompt,
	// round templates).
	KindPrompt Kind = "prompt"
	// KindText is literal text committed by the runtime between generations
	// (markers, separators).
	KindText Kind = "text"
	// KindGenerated is model-produced text committed by the engine.
	KindGenerated Kind = "generated"
	// KindObservation is a tool result fed back into the transcript.
	KindObservation Kind = "observation"
)

type (
	// Segment is one contiguous span of transcript text.
	Segment struct {
		// Text is the literal content. Segments concatenate in append order
		// to form the transcript.
		Text string `json:"text"`
		// Kind classifies the segment's origin.
		Kind Kind `json:"kind"`
		// Name is the capture name, empty for unnamed segments. Named
		// segments are write-once per program.
		Name string `json:"name,omitempty"`
		// Round is the 1-based reasoning round the segment belongs to, zero
		// for text outside any round.
		Round int `json:"round,omitempty"`
	}

	// Program is the append-only transcript of a run. The zero value is not
	// usable; construct with New. Program is not safe for concurrent use:
	// the run loop owns it and mutates it from a single goroutine.
	Program struct {
		segments []Segment
		captures map[string]int
	}
)

// New returns an empty program.
func New() *Program {
	return &Program{captures: make(map[string]int)}
}

// Append adds a segment to the program. When the segment is named, the name
// is recorded as a capture; reusing an existing capture name returns
// ErrCaptureExists and leaves the program unchanged.
func (p *Program) Append(seg Segment) error {
	if seg.Name != "" {
		if _, ok := p.captures[seg.Name]; ok {
			return fmt.Errorf("program: capture %q: %w", seg.Name, ErrCaptureExists)
		}
		p.captures[seg.Name] = len(p.segments)
	}
	p.segments = append(p.segments, seg)
	return nil
}

// AppendText adds an unnamed literal text segment. It never fails.
func (p *Program) AppendText(text string) {
	p.segments = append(p.segments, Segment{Text: text, Kind: KindText})
}

// AppendPrompt adds an unnamed prompt segment. It never fails.
func (p *Program) AppendPrompt(text string) {
	p.segments = append(p.segments, Segment{Text: text, Kind: KindPrompt})
}

// Text returns the concatenation of all segment texts in append order. This
// is the exact prefix handed to the backend for the next generation.
func (p *Program) Text() string {
	var b strings.Builder
	for _, seg := range p.segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Capture returns the text recorded under name and whether it exists.
func (p *Program) Capture(name string) (string, bool) {
	i, ok := p.captures[name]
	if !ok {
		return "", false
	}
	return p.segments[i].Text, true
}

// Captures returns a copy of all recorded captures keyed by name.
func (p *Program) Captures() map[string]string {
	out := make(map[string]string, len(p.captures))
	for name, i := range p.captures {
		out[name] = p.segments[i].Text
	}
	return out
}

// Segments returns a copy of the segment sequence.
func (p *Program) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments.
func (p *Program) Len() int {
	return len(p.segments)
}

// MarshalJSON encodes the program as its segment sequence. Captures are
// derived state and are rebuilt on decode.
func (p *Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Segments []Segment `json:"segments"`
	}{Segments: p.segments})
}

// UnmarshalJSON decodes a segment sequence and rebuilds the capture index,
// enforcing the write-once rule on the decoded data.
func (p *Program) UnmarshalJSON(data []byte) error {
	var doc struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("program: decode: %w", err)
	}
	segments := make([]Segment, 0, len(doc.Segments))
	captures := make(map[string]int)
	for i, seg := range doc.Segments {
		if seg.Name != "" {
			if _, ok := captures[seg.Name]; ok {
				return fmt.Errorf("program: decode segment %d: capture %q: %w", i, seg.Name, ErrCaptureExists)
			}
			captures[seg.Name] = i
		}
		segments = append(segments, seg)
	}
	p.segments = segments
	p.captures = captures
	return nil
}
