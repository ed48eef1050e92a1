package segments

import "strings"

// Audience tags.
const (
	TagCofounderInterest = "cofounder-interest"
	TagHighPriority      = "high-priority"
	TagStandard          = "standard"
	TagNewsletter        = "newsletter"
)

// Local mirror segment names.
const (
	MirrorPhysicians        = "physicians"
	MirrorInvestors         = "investors"
	MirrorSpecialists       = "specialists"
	MirrorCofounderInterest = "cofounder_interest"
)

// Tags returns the audience tags for a subscriber of userType. Physicians
// interested in co-founding are flagged for follow-up.
func Tags(userType string, cofounder bool) []string {
	userType = strings.ToLower(strings.TrimSpace(userType))
	if userType == "" {
		return []string{TagStandard}
	}
	if cofounder && userType == "physician" {
		return []string{userType, TagCofounderInterest, TagHighPriority}
	}
	return []string{userType, TagStandard}
}

// MirrorSegments returns the local segment memberships for a subscriber.
func MirrorSegments(userType string, cofounder bool) []string {
	var out []string
	switch strings.ToLower(userType) {
	case "physician":
		out = append(out, MirrorPhysicians)
	case "investor":
		out = append(out, MirrorInvestors)
	case "specialist":
		out = append(out, MirrorSpecialists)
	}
	if cofounder {
		out = append(out, MirrorCofounderInterest)
	}
	return out
}

// Default is the built-in audience segment set.
func Default() []Segment {
	return []Segment{
		{
			Name: "Physicians",
			Options: Options{Match: MatchAll, Conditions: []Condition{
				{ConditionType: ConditionTextMerge, Field: "USERTYPE", Op: OpIs, Value: "physician"},
			}},
		},
		{
			Name: "Investors",
			Options: Options{Match: MatchAll, Conditions: []Condition{
				{ConditionType: ConditionTextMerge, Field: "USERTYPE", Op: OpIs, Value: "investor"},
			}},
		},
		{
			Name: "AI Specialists",
			Options: Options{Match: MatchAll, Conditions: []Condition{
				{ConditionType: ConditionTextMerge, Field: "USERTYPE", Op: OpIs, Value: "specialist"},
			}},
		},
		{
			Name: "Co-founder Interest",
			Options: Options{Match: MatchAll, Conditions: []Condition{
				{ConditionType: ConditionTextMerge, Field: "COFOUNDER", Op: OpIs, Value: "Yes"},
			}},
		},
		{
			Name: "High Priority Physicians",
			Options: Options{Match: MatchAll, Conditions: []Condition{
				{ConditionType: ConditionTextMerge, Field: "USERTYPE", Op: OpIs, Value: "physician"},
				{ConditionType: ConditionTextMerge, Field: "COFOUNDER", Op: OpIs, Value: "Yes"},
			}},
		},
	}
}
