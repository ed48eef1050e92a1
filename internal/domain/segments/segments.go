// Package segments evaluates audience segment predicates over subscriber
// merge fields and derives the tags and mirror memberships a subscriber
// receives on signup.
package segments

import (
	"strings"
)

// Match selects how a segment combines its conditions.
type Match string

const (
	MatchAll Match = "all"
	MatchAny Match = "any"
)

// Condition operators, named as the Mailchimp segment API names them.
const (
	OpIs         = "is"
	OpNot        = "not"
	OpContains   = "contains"
	OpNotContain = "notcontain"
	OpStarts     = "starts"
	OpEnds       = "ends"
	OpBlank      = "blank"
	OpBlankNot   = "blank_not"
)

// ConditionTextMerge compares a text merge field.
const ConditionTextMerge = "TextMerge"

type Condition struct {
	ConditionType string `json:"condition_type" yaml:"condition_type"`
	Field         string `json:"field" yaml:"field"`
	Op            string `json:"op" yaml:"op"`
	Value         string `json:"value,omitempty" yaml:"value,omitempty"`
}

type Options struct {
	Match      Match       `json:"match" yaml:"match"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

type Segment struct {
	Name    string  `json:"name" yaml:"name"`
	Options Options `json:"options" yaml:"options"`
}

// Member is the view of a subscriber a segment is evaluated against.
type Member struct {
	Email       string
	MergeFields map[string]string
}

// Matches reports whether fields satisfy opts. An empty condition list
// matches nothing.
func Matches(fields map[string]string, opts Options) bool {
	if len(opts.Conditions) == 0 {
		return false
	}
	for _, c := range opts.Conditions {
		ok := c.Eval(fields)
		if opts.Match == MatchAny && ok {
			return true
		}
		if opts.Match != MatchAny && !ok {
			return false
		}
	}
	return opts.Match != MatchAny
}

// Eval applies a single condition. Field names are case-insensitive and
// text comparisons ignore case.
func (c Condition) Eval(fields map[string]string) bool {
	value := strings.ToLower(strings.TrimSpace(lookup(fields, c.Field)))
	want := strings.ToLower(strings.TrimSpace(c.Value))

	switch c.Op {
	case OpIs:
		return value == want
	case OpNot:
		return value != want
	case OpContains:
		return strings.Contains(value, want)
	case OpNotContain:
		return !strings.Contains(value, want)
	case OpStarts:
		return strings.HasPrefix(value, want)
	case OpEnds:
		return strings.HasSuffix(value, want)
	case OpBlank:
		return value == ""
	case OpBlankNot:
		return value != ""
	default:
		return false
	}
}

func lookup(fields map[string]string, name string) string {
	if v, ok := fields[name]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Partition groups members by the segments they match. A member may land in
// several segments. Every segment name is present in the result.
func Partition(members []Member, segs []Segment) map[string][]Member {
	out := make(map[string][]Member, len(segs))
	for _, s := range segs {
		out[s.Name] = []Member{}
	}
	for _, m := range members {
		for _, s := range segs {
			if Matches(m.MergeFields, s.Options) {
				out[s.Name] = append(out[s.Name], m)
			}
		}
	}
	return out
}

// Count returns how many members match opts.
func Count(members []Member, opts Options) int {
	n := 0
	for _, m := range members {
		if Matches(m.MergeFields, opts) {
			n++
		}
	}
	return n
}
