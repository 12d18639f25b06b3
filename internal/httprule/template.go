// Package httprule compiles google.api.http URL templates into a form the
// route synthesizer and request dispatcher can match paths against.
package httprule

import (
	"fmt"
	"strings"
)

// SegmentKind distinguishes a literal path segment from a path-variable one.
type SegmentKind int

const (
	Literal SegmentKind = iota
	Variable
)

// Segment is one `/`-delimited piece of a compiled template.
type Segment struct {
	Kind SegmentKind

	// Literal is set when Kind == Literal.
	Literal string

	// VarName, Pattern and Greedy are set when Kind == Variable. Pattern is
	// "" (defaults to a single-segment wildcard), "*" (explicit
	// single-segment wildcard) or "**" (greedy, only legal as the last
	// segment - it consumes the remainder of the path, `/` included).
	VarName string
	Pattern string
	Greedy  bool
}

// Template is a compiled URL template: an ordered list of segments plus the
// set of variable names it binds, which must be unique within the template.
type Template struct {
	Raw      string
	Segments []Segment
	Vars     []string
}

// Parse compiles a URL template of the form "/v1/items/{id}" or
// "/v1/files/{path=**}" into a Template.
func Parse(tmpl string) (*Template, error) {
	if tmpl == "" || tmpl[0] != '/' {
		return nil, fmt.Errorf("httprule: template %q must start with '/'", tmpl)
	}

	raw := tmpl
	parts := strings.Split(strings.TrimPrefix(tmpl, "/"), "/")
	t := &Template{Raw: raw}
	seen := make(map[string]bool, len(parts))

	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("httprule: template %q has an empty segment", tmpl)
		}
		if strings.HasPrefix(part, "{") {
			if !strings.HasSuffix(part, "}") {
				return nil, fmt.Errorf("httprule: unterminated variable segment %q in %q", part, tmpl)
			}
			body := part[1 : len(part)-1]
			name := body
			pattern := ""
			if eq := strings.IndexByte(body, '='); eq >= 0 {
				name = body[:eq]
				pattern = body[eq+1:]
			}
			if name == "" {
				return nil, fmt.Errorf("httprule: empty variable name in %q", tmpl)
			}
			if seen[name] {
				return nil, fmt.Errorf("httprule: duplicate variable %q in %q", name, tmpl)
			}
			seen[name] = true

			greedy := pattern == "**"
			if greedy && i != len(parts)-1 {
				return nil, fmt.Errorf("httprule: greedy variable %q must be the last segment in %q", name, tmpl)
			}

			t.Segments = append(t.Segments, Segment{
				Kind:    Variable,
				VarName: name,
				Pattern: pattern,
				Greedy:  greedy,
			})
			t.Vars = append(t.Vars, name)
			continue
		}
		t.Segments = append(t.Segments, Segment{Kind: Literal, Literal: part})
	}

	return t, nil
}

// Key returns a canonical string identifying this template for route
// collision detection: literal segments compare verbatim, variable
// segments compare positionally regardless of their bound name (two
// templates that differ only in variable naming still collide).
func (t *Template) Key() string {
	var b strings.Builder
	for _, s := range t.Segments {
		b.WriteByte('/')
		switch s.Kind {
		case Literal:
			b.WriteString(s.Literal)
		case Variable:
			if s.Greedy {
				b.WriteString("{**}")
			} else {
				b.WriteString("{*}")
			}
		}
	}
	return b.String()
}

// Match attempts to match path against the template, returning the bound
// path variables (name -> raw string value, unescaped at the segment
// level) on success.
func (t *Template) Match(path string) (map[string]string, bool) {
	path = strings.TrimPrefix(path, "/")
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}

	vars := make(map[string]string)
	pi := 0
	for si, seg := range t.Segments {
		if seg.Kind == Variable && seg.Greedy {
			if pi > len(parts) {
				return nil, false
			}
			vars[seg.VarName] = strings.Join(parts[pi:], "/")
			return vars, si == len(t.Segments)-1
		}
		if pi >= len(parts) {
			return nil, false
		}
		switch seg.Kind {
		case Literal:
			if parts[pi] != seg.Literal {
				return nil, false
			}
		case Variable:
			if parts[pi] == "" {
				return nil, false
			}
			vars[seg.VarName] = parts[pi]
		}
		pi++
	}
	if pi != len(parts) {
		return nil, false
	}
	return vars, true
}
