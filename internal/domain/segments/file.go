package segments

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type file struct {
	Segments []Segment `yaml:"segments"`
}

// LoadFile reads segment definitions from a YAML document of the form
//
//	segments:
//	  - name: Physicians
//	    options:
//	      match: all
//	      conditions:
//	        - {condition_type: TextMerge, field: USERTYPE, op: is, value: physician}
func LoadFile(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks segment definitions.
func Parse(data []byte) ([]Segment, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse segments: %w", err)
	}
	seen := make(map[string]bool, len(f.Segments))
	for i := range f.Segments {
		s := &f.Segments[i]
		if s.Name == "" {
			return nil, fmt.Errorf("segment %d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("segment %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if s.Options.Match == "" {
			s.Options.Match = MatchAll
		}
		if s.Options.Match != MatchAll && s.Options.Match != MatchAny {
			return nil, fmt.Errorf("segment %q: match must be all or any", s.Name)
		}
		if len(s.Options.Conditions) == 0 {
			return nil, fmt.Errorf("segment %q: at least one condition is required", s.Name)
		}
		for j := range s.Options.Conditions {
			c := &s.Options.Conditions[j]
			if c.ConditionType == "" {
				c.ConditionType = ConditionTextMerge
			}
			if c.Field == "" || c.Op == "" {
				return nil, fmt.Errorf("segment %q condition %d: field and op are required", s.Name, j)
			}
		}
	}
	return f.Segments, nil
}
