// Package command maps symbolic command names to receiver wire strings and
// feeds them to the connection's write queue.
package command

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind int

const (
	Action Kind = iota
	Query
	Setter
	QueryGroup
	Macro
)

func (k Kind) String() string {
	switch k {
	case Action:
		return "action"
	case Query:
		return "query"
	case Setter:
		return "setter"
	case QueryGroup:
		return "query_group"
	case Macro:
		return "macro"
	default:
		return "unknown"
	}
}

// valuePlaceholder marks where a setter's encoded value goes in Template.
const valuePlaceholder = "{value}"

// MacroPause spaces the steps of a macro. Menu-driving sequences need the
// receiver's screen to settle between keys.
const MacroPause = 200 * time.Millisecond

// Spec describes one command. Primitive commands carry a wire Template;
// composites (QueryGroup, Macro) carry the ordered names of the primitives
// they expand to.
type Spec struct {
	Name        string
	Template    string
	Kind        Kind
	Encode      Encoder
	Commands    []string
	Description string
	// Pause overrides the connection's write interval between the lines
	// of this command. Zero keeps the connection default.
	Pause time.Duration
}

// ExpectsValue reports whether the command requires a value.
func (s Spec) ExpectsValue() bool { return s.Kind == Setter }

func (s Spec) composite() bool { return s.Kind == QueryGroup || s.Kind == Macro }

// Registry is an immutable name → Spec table.
type Registry struct {
	specs map[string]Spec
	names []string
}

// NewRegistry merges groups into one table. Duplicate names, setters without
// an encoder or placeholder, and composites referencing unknown or composite
// members are rejected.
func NewRegistry(groups ...[]Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec)}
	for _, g := range groups {
		for _, s := range g {
			if s.Name == "" {
				return nil, fmt.Errorf("command with empty name (template %q)", s.Template)
			}
			if _, dup := r.specs[s.Name]; dup {
				return nil, fmt.Errorf("duplicate command %q", s.Name)
			}
			if err := checkSpec(s); err != nil {
				return nil, err
			}
			r.specs[s.Name] = s
			r.names = append(r.names, s.Name)
		}
	}
	for _, s := range r.specs {
		if !s.composite() {
			continue
		}
		for _, member := range s.Commands {
			m, ok := r.specs[member]
			if !ok {
				return nil, fmt.Errorf("command %s: unknown member %q", s.Name, member)
			}
			if m.composite() || m.ExpectsValue() {
				return nil, fmt.Errorf("command %s: member %s must be an action or query", s.Name, member)
			}
		}
	}
	sort.Strings(r.names)
	return r, nil
}

func checkSpec(s Spec) error {
	switch {
	case s.composite():
		if len(s.Commands) == 0 {
			return fmt.Errorf("command %s: composite without members", s.Name)
		}
	case s.Kind == Setter:
		if s.Encode == nil || strings.Count(s.Template, valuePlaceholder) != 1 {
			return fmt.Errorf("command %s: setter needs an encoder and one %s placeholder", s.Name, valuePlaceholder)
		}
	default:
		if s.Template == "" || strings.Contains(s.Template, valuePlaceholder) {
			return fmt.Errorf("command %s: invalid template %q", s.Name, s.Template)
		}
	}
	return nil
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all command names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Registry) Len() int { return len(r.specs) }

// Pause returns the write spacing name asks for, or 0 for the connection
// default.
func (r *Registry) Pause(name string) time.Duration {
	return r.specs[name].Pause
}

// Expand resolves a command and value to the wire lines to send, in order.
func (r *Registry) Expand(name, value string) ([]string, error) {
	s, ok := r.specs[name]
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}

	if s.ExpectsValue() {
		if strings.TrimSpace(value) == "" {
			return nil, &InvalidArgumentError{Command: name, Reason: "value required"}
		}
		enc, err := s.Encode(value)
		if err != nil {
			return nil, &InvalidArgumentError{Command: name, Value: value, Reason: err.Error()}
		}
		return []string{strings.Replace(s.Template, valuePlaceholder, enc, 1)}, nil
	}

	if value != "" {
		return nil, &InvalidArgumentError{Command: name, Value: value, Reason: "command takes no value"}
	}
	if !s.composite() {
		return []string{s.Template}, nil
	}

	lines := make([]string, 0, len(s.Commands))
	for _, member := range s.Commands {
		lines = append(lines, r.specs[member].Template)
	}
	return lines, nil
}

var defaultRegistry = mustRegistry(catalog()...)

func mustRegistry(groups ...[]Spec) *Registry {
	r, err := NewRegistry(groups...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the built-in command table.
func Default() *Registry { return defaultRegistry }
