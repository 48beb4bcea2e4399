// Package dsl parses the pulse-sequence description language into the
// hardware-agnostic sequence IR. Parsing is a pure function of the source
// text and the preset registry passed in; nothing global is consulted.
package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"awgc/pkg/seq"
)

// SyntaxError reports a malformed line with its number and offending token.
type SyntaxError struct {
	Line  int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error on line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("syntax error on line %d at %q: %s", e.Line, e.Token, e.Msg)
}

// UnknownPresetError reports a 'load preset' naming an unregistered preset.
type UnknownPresetError struct {
	Name string
	Line int
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("unknown preset '%s' on line %d", e.Name, e.Line)
}

// pulseKeywords maps a line keyword to its pulse shape.
var pulseKeywords = map[string]seq.Shape{
	"square":     seq.ShapeSquare,
	"gaussian":   seq.ShapeGaussian,
	"sech":       seq.ShapeSech,
	"lorentzian": seq.ShapeLorentzian,
	"sine":       seq.ShapeSine,
	"wave":       seq.ShapeWave,
}

var structureKeywords = map[string]bool{
	"variable": true,
	"loop":     true,
	"if":       true,
	"else":     true,
	"end":      true,
	"load":     true,
}

// blockFrame tracks one open loop or conditional while parsing.
type blockFrame struct {
	loop   *seq.Loop
	cond   *seq.Conditional
	inElse bool
	line   int
}

type parser struct {
	reg   *Registry
	desc  *seq.SequenceDescription
	stack []blockFrame
	body  bool // a keyword line has been seen; header is closed
}

// Parse converts DSL source text into a SequenceDescription. reg supplies
// named presets for 'load preset' lines and may be nil when the source uses
// none. On any malformed line Parse fails with a line-numbered error and no
// partial description is returned.
func Parse(source string, reg *Registry) (*seq.SequenceDescription, error) {
	p := &parser{
		reg:  reg,
		desc: &seq.SequenceDescription{Repeat: 1},
	}

	for i, raw := range strings.Split(source, "\n") {
		line := i + 1
		text := strings.TrimSpace(raw)
		if idx := strings.Index(text, "#"); idx >= 0 {
			text = strings.TrimSpace(text[:idx])
		}
		if text == "" {
			continue
		}
		if err := p.parseLine(text, line); err != nil {
			return nil, err
		}
	}

	if len(p.stack) > 0 {
		f := p.stack[len(p.stack)-1]
		return nil, &SyntaxError{Line: f.line, Msg: "block is never closed with 'end'"}
	}
	if p.desc.SampleRate.IsZero() {
		return nil, &SyntaxError{Line: 1, Msg: "header is missing sample_rate"}
	}
	return p.desc, nil
}

func (p *parser) parseLine(text string, line int) error {
	// Commas between fields are decorative, as in
	// "variable tau: start=100ns, stop=200ns, steps=2".
	fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
	keyword := fields[0]

	if _, isPulse := pulseKeywords[keyword]; !isPulse && !structureKeywords[keyword] {
		if p.body {
			return &SyntaxError{Line: line, Token: keyword, Msg: "expected a pulse, variable, loop, if or load line"}
		}
		return p.parseHeader(text, line)
	}
	p.body = true

	switch keyword {
	case "variable":
		return p.parseVariable(fields, line)
	case "loop":
		return p.parseLoop(fields, line)
	case "if":
		return p.parseIf(fields, line)
	case "else":
		return p.parseElse(line)
	case "end":
		return p.parseEnd(line)
	case "load":
		return p.parseLoad(fields, line)
	default:
		return p.parsePulse(fields, line)
	}
}

func (p *parser) parseHeader(text string, line int) error {
	key, value, ok := strings.Cut(text, "=")
	if !ok {
		return &SyntaxError{Line: line, Token: strings.Fields(text)[0], Msg: "expected 'key = value' header line"}
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" || strings.ContainsAny(key, " \t") {
		return &SyntaxError{Line: line, Token: text, Msg: "expected 'key = value' header line"}
	}

	switch key {
	case "name":
		p.desc.Name = value
	case "type":
		p.desc.Type = value
	case "duration":
		q, err := ParseQuantity(value, line)
		if err != nil {
			return err
		}
		if q.Dim != seq.DimTime {
			return &SyntaxError{Line: line, Token: value, Msg: "duration must be a time quantity"}
		}
		p.desc.Duration = q
	case "sample_rate":
		q, err := ParseQuantity(value, line)
		if err != nil {
			return err
		}
		if q.Dim != seq.DimFrequency {
			return &SyntaxError{Line: line, Token: value, Msg: "sample_rate must be a frequency quantity"}
		}
		p.desc.SampleRate = q
	case "repeat":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return &SyntaxError{Line: line, Token: value, Msg: "repeat must be a positive integer"}
		}
		p.desc.Repeat = n
	default:
		return &SyntaxError{Line: line, Token: key, Msg: "unknown header field"}
	}
	return nil
}

func (p *parser) parseVariable(fields []string, line int) error {
	if len(p.stack) > 0 {
		return &SyntaxError{Line: line, Msg: "variables must be declared at the top level"}
	}
	if len(fields) < 2 {
		return &SyntaxError{Line: line, Msg: "variable needs a name"}
	}
	name := strings.TrimSuffix(fields[1], ":")
	if !isIdentifier(name) {
		return &SyntaxError{Line: line, Token: name, Msg: "invalid variable name"}
	}
	if p.desc.Variable(name) != nil {
		return &SyntaxError{Line: line, Token: name, Msg: "variable already declared"}
	}

	attrs, err := parseAttrs(fields[2:], line)
	if err != nil {
		return err
	}
	v := &seq.Variable{Name: name, Steps: 1, Line: line}
	for key, val := range attrs {
		switch key {
		case "start":
			v.Start, err = ParseQuantity(val, line)
		case "stop":
			v.Stop, err = ParseQuantity(val, line)
		case "steps":
			v.Steps, err = strconv.Atoi(val)
			if err != nil || v.Steps < 1 {
				err = &SyntaxError{Line: line, Token: val, Msg: "steps must be a positive integer"}
			}
		default:
			err = &SyntaxError{Line: line, Token: key, Msg: "unknown variable field"}
		}
		if err != nil {
			return err
		}
	}
	if _, ok := attrs["start"]; !ok {
		return &SyntaxError{Line: line, Msg: "variable needs start="}
	}
	if _, ok := attrs["stop"]; !ok {
		v.Stop = v.Start
	}
	if v.Start.Dim != v.Stop.Dim {
		return &SyntaxError{Line: line, Token: name, Msg: "start and stop have different units"}
	}
	p.desc.Variables = append(p.desc.Variables, v)
	return nil
}

func (p *parser) parsePulse(fields []string, line int) error {
	shape := pulseKeywords[fields[0]]
	pulse := &seq.Pulse{Shape: shape, Line: line}

	rest := fields[1:]
	if shape == seq.ShapeWave {
		if len(rest) == 0 || strings.Contains(rest[0], "=") {
			return &SyntaxError{Line: line, Msg: "wave needs a waveform reference name"}
		}
		pulse.WaveRef = rest[0]
		rest = rest[1:]
	}

	attrs, err := parseAttrs(rest, line)
	if err != nil {
		return err
	}
	for key, val := range attrs {
		switch key {
		case "ch":
			pulse.Channel, err = strconv.Atoi(val)
			if err != nil || pulse.Channel < 1 {
				err = &SyntaxError{Line: line, Token: val, Msg: "ch must be a positive channel number"}
			}
		case "start":
			pulse.Start, err = p.parseRef(val, line)
		case "dur":
			pulse.Dur, err = p.parseRef(val, line)
		case "amp":
			pulse.Amp, err = p.parseRef(val, line)
		case "freq":
			if shape != seq.ShapeSine {
				err = &SyntaxError{Line: line, Token: key, Msg: "freq is only valid on sine pulses"}
			} else {
				pulse.Freq, err = p.parseRef(val, line)
			}
		default:
			err = &SyntaxError{Line: line, Token: key, Msg: "unknown pulse field"}
		}
		if err != nil {
			return err
		}
	}
	for _, req := range []string{"ch", "start", "dur", "amp"} {
		if _, ok := attrs[req]; !ok {
			return &SyntaxError{Line: line, Msg: fmt.Sprintf("pulse is missing %s=", req)}
		}
	}

	p.append(pulse)
	return nil
}

func (p *parser) parseLoop(fields []string, line int) error {
	if len(fields) != 2 || !isIdentifier(fields[1]) {
		return &SyntaxError{Line: line, Msg: "expected 'loop <variable>'"}
	}
	if p.desc.Variable(fields[1]) == nil {
		return &seq.UnresolvedVariableError{Name: fields[1], Line: line}
	}
	loop := &seq.Loop{Var: fields[1], Line: line}
	p.append(loop)
	p.stack = append(p.stack, blockFrame{loop: loop, line: line})
	return nil
}

func (p *parser) parseIf(fields []string, line int) error {
	if len(fields) != 4 {
		return &SyntaxError{Line: line, Msg: "expected 'if <variable> <op> <quantity>'"}
	}
	name := fields[1]
	if p.desc.Variable(name) == nil {
		return &seq.UnresolvedVariableError{Name: name, Line: line}
	}
	var op seq.CmpOp
	switch fields[2] {
	case "<":
		op = seq.CmpLess
	case "<=":
		op = seq.CmpLessEq
	case ">":
		op = seq.CmpGreater
	case ">=":
		op = seq.CmpGreaterEq
	case "==":
		op = seq.CmpEq
	case "!=":
		op = seq.CmpNotEq
	default:
		return &SyntaxError{Line: line, Token: fields[2], Msg: "unknown comparison operator"}
	}
	threshold, err := ParseQuantity(fields[3], line)
	if err != nil {
		return err
	}
	cond := &seq.Conditional{Var: name, Op: op, Threshold: threshold, Line: line}
	p.append(cond)
	p.stack = append(p.stack, blockFrame{cond: cond, line: line})
	return nil
}

func (p *parser) parseElse(line int) error {
	if len(p.stack) == 0 {
		return &SyntaxError{Line: line, Msg: "'else' outside an if block"}
	}
	top := &p.stack[len(p.stack)-1]
	if top.cond == nil {
		return &SyntaxError{Line: line, Msg: "'else' inside a loop block"}
	}
	if top.inElse {
		return &SyntaxError{Line: line, Msg: "duplicate 'else'"}
	}
	top.inElse = true
	return nil
}

func (p *parser) parseEnd(line int) error {
	if len(p.stack) == 0 {
		return &SyntaxError{Line: line, Msg: "'end' without an open block"}
	}
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *parser) parseLoad(fields []string, line int) error {
	if len(fields) != 3 || fields[1] != "preset" {
		return &SyntaxError{Line: line, Msg: "expected 'load preset <name>'"}
	}
	name := fields[2]
	if p.reg == nil {
		return &UnknownPresetError{Name: name, Line: line}
	}
	preset, ok := p.reg.Lookup(name)
	if !ok {
		return &UnknownPresetError{Name: name, Line: line}
	}
	for _, v := range preset.Variables {
		if p.desc.Variable(v.Name) != nil {
			return &SyntaxError{Line: line, Token: v.Name,
				Msg: fmt.Sprintf("preset '%s' redeclares a variable", name)}
		}
		p.desc.Variables = append(p.desc.Variables, v)
	}
	for _, n := range preset.Nodes {
		p.append(n)
	}
	return nil
}

// parseRef reads a pulse field value: a token starting with a digit, sign
// or dot is a quantity literal, anything else must be a variable name.
func (p *parser) parseRef(val string, line int) (seq.Ref, error) {
	if val == "" {
		return seq.Ref{}, &SyntaxError{Line: line, Msg: "expected a quantity or variable name"}
	}
	c := val[0]
	if c >= '0' && c <= '9' || c == '-' || c == '+' || c == '.' {
		q, err := ParseQuantity(val, line)
		if err != nil {
			return seq.Ref{}, err
		}
		return seq.Lit(q), nil
	}
	if !isIdentifier(val) {
		return seq.Ref{}, &SyntaxError{Line: line, Token: val, Msg: "expected a quantity or variable name"}
	}
	return seq.VarRef(val), nil
}

// append adds a node to the innermost open block, or to the top-level body.
func (p *parser) append(n seq.Node) {
	if len(p.stack) == 0 {
		p.desc.Body = append(p.desc.Body, n)
		return
	}
	top := &p.stack[len(p.stack)-1]
	switch {
	case top.loop != nil:
		top.loop.Body = append(top.loop.Body, n)
	case top.inElse:
		top.cond.Else = append(top.cond.Else, n)
	default:
		top.cond.Then = append(top.cond.Then, n)
	}
}

// parseAttrs splits key=value fields into a map, rejecting duplicates.
func parseAttrs(fields []string, line int) (map[string]string, error) {
	attrs := make(map[string]string, len(fields))
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok || key == "" || val == "" {
			return nil, &SyntaxError{Line: line, Token: f, Msg: "expected key=value"}
		}
		if _, dup := attrs[key]; dup {
			return nil, &SyntaxError{Line: line, Token: key, Msg: "duplicate field"}
		}
		attrs[key] = val
	}
	return attrs, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
