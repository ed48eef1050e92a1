package segments

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(email, userType, cofounder string) Member {
	return Member{Email: email, MergeFields: map[string]string{
		"USERTYPE":  userType,
		"COFOUNDER": cofounder,
		"SPECIALTY": "",
	}}
}

func TestConditionEval(t *testing.T) {
	fields := map[string]string{"USERTYPE": "Physician", "SPECIALTY": "Cardiology"}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"is ignores case", Condition{Field: "USERTYPE", Op: OpIs, Value: "physician"}, true},
		{"is mismatch", Condition{Field: "USERTYPE", Op: OpIs, Value: "investor"}, false},
		{"field name case-insensitive", Condition{Field: "usertype", Op: OpIs, Value: "physician"}, true},
		{"not", Condition{Field: "USERTYPE", Op: OpNot, Value: "investor"}, true},
		{"contains", Condition{Field: "SPECIALTY", Op: OpContains, Value: "cardio"}, true},
		{"notcontain", Condition{Field: "SPECIALTY", Op: OpNotContain, Value: "derm"}, true},
		{"starts", Condition{Field: "SPECIALTY", Op: OpStarts, Value: "Card"}, true},
		{"ends", Condition{Field: "SPECIALTY", Op: OpEnds, Value: "logy"}, true},
		{"blank on missing field", Condition{Field: "EMR", Op: OpBlank}, true},
		{"blank_not", Condition{Field: "SPECIALTY", Op: OpBlankNot}, true},
		{"unknown op", Condition{Field: "USERTYPE", Op: "greater", Value: "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Eval(fields))
		})
	}
}

func TestMatches_AllAndAny(t *testing.T) {
	fields := map[string]string{"USERTYPE": "physician", "COFOUNDER": "No"}
	conds := []Condition{
		{Field: "USERTYPE", Op: OpIs, Value: "physician"},
		{Field: "COFOUNDER", Op: OpIs, Value: "Yes"},
	}

	assert.False(t, Matches(fields, Options{Match: MatchAll, Conditions: conds}))
	assert.True(t, Matches(fields, Options{Match: MatchAny, Conditions: conds}))
	assert.False(t, Matches(fields, Options{Match: MatchAll}))
	assert.False(t, Matches(fields, Options{Match: MatchAny}))
}

func TestPartition_ByFieldEquality(t *testing.T) {
	members := []Member{
		member("a@example.com", "physician", "Yes"),
		member("b@example.com", "physician", "No"),
		member("c@example.com", "investor", "No"),
		member("d@example.com", "specialist", "Yes"),
	}

	parts := Partition(members, Default())

	emails := func(ms []Member) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.Email)
		}
		return out
	}

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, emails(parts["Physicians"]))
	assert.Equal(t, []string{"c@example.com"}, emails(parts["Investors"]))
	assert.Equal(t, []string{"d@example.com"}, emails(parts["AI Specialists"]))
	assert.Equal(t, []string{"a@example.com", "d@example.com"}, emails(parts["Co-founder Interest"]))
	assert.Equal(t, []string{"a@example.com"}, emails(parts["High Priority Physicians"]))
}

func TestPartition_EmptySegmentsPresent(t *testing.T) {
	parts := Partition(nil, Default())
	require.Len(t, parts, len(Default()))
	for _, ms := range parts {
		assert.Empty(t, ms)
	}
}

func TestCount(t *testing.T) {
	members := []Member{
		member("a@example.com", "physician", "Yes"),
		member("b@example.com", "investor", "No"),
	}
	assert.Equal(t, 1, Count(members, Default()[0].Options))
}

func TestTags(t *testing.T) {
	assert.Equal(t, []string{"physician", TagCofounderInterest, TagHighPriority}, Tags("physician", true))
	assert.Equal(t, []string{"physician", TagStandard}, Tags("physician", false))
	assert.Equal(t, []string{"investor", TagStandard}, Tags("Investor", true))
	assert.Equal(t, []string{TagStandard}, Tags("", false))
}

func TestMirrorSegments(t *testing.T) {
	assert.Equal(t, []string{MirrorPhysicians, MirrorCofounderInterest}, MirrorSegments("physician", true))
	assert.Equal(t, []string{MirrorInvestors}, MirrorSegments("investor", false))
	assert.Equal(t, []string{MirrorSpecialists}, MirrorSegments("specialist", false))
	assert.Nil(t, MirrorSegments("", false))
	assert.Equal(t, []string{MirrorPhysicians}, MirrorSegments("Physician", false))
}

func TestParse(t *testing.T) {
	doc := []byte(`
segments:
  - name: Cardiologists
    options:
      conditions:
        - {field: SPECIALTY, op: contains, value: cardio}
`)
	segs, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, MatchAll, segs[0].Options.Match)
	assert.Equal(t, ConditionTextMerge, segs[0].Options.Conditions[0].ConditionType)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing name", "segments:\n  - options: {conditions: [{field: A, op: is}]}\n", "name is required"},
		{"duplicate", "segments:\n  - {name: A, options: {conditions: [{field: A, op: is}]}}\n  - {name: A, options: {conditions: [{field: A, op: is}]}}\n", "duplicate"},
		{"bad match", "segments:\n  - {name: A, options: {match: some, conditions: [{field: A, op: is}]}}\n", "all or any"},
		{"no conditions", "segments:\n  - {name: A, options: {match: all}}\n", "at least one condition"},
		{"missing op", "segments:\n  - {name: A, options: {conditions: [{field: A}]}}\n", "field and op"},
		{"bad yaml", "segments: [", "parse segments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile_RepositoryDefinitions(t *testing.T) {
	segs, err := LoadFile(filepath.Join("..", "..", "..", "configs", "segments.yaml"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(segs), len(Default()))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
