// Package intent classifies query text into routing hints.
//
// Classification is a pure keyword heuristic: case-insensitive, no I/O,
// each flag evaluated independently (a query can be both a count query and
// health-typed). The output is advisory metadata for callers choosing a
// data-type scope or retrieval depth; retrieval and context assembly never
// depend on it for correctness.
package intent

import (
	"regexp"
	"strings"
)

// Data type hints suggested by Classify. These match the type tags stored
// on indexed vector metadata.
const (
	DataTypeHealth   = "health"
	DataTypeLocation = "location"
	DataTypePhoto    = "photo"
	DataTypeVoice    = "voice"
)

// Classification holds the routing hints detected in a query.
type Classification struct {
	// SuggestedDataType is one of the DataType constants, or "" when no
	// data-type keyword was found.
	SuggestedDataType string

	// SuggestedActivity is a known activity keyword found in the query,
	// or "" when none matched.
	SuggestedActivity string

	IsCountQuery      bool
	IsAverageQuery    bool
	IsComparisonQuery bool
}

var (
	countPattern      = regexp.MustCompile(`\b(how many|how often|count|number of|times did)\b`)
	averagePattern    = regexp.MustCompile(`\b(average|avg|on average|typical|typically)\b`)
	comparisonPattern = regexp.MustCompile(`\b(compare|compared|versus|vs|more than|less than|better than|worse than)\b`)
)

// dataTypeKeywords maps keywords to a suggested data type. Checked in a
// fixed order so results are deterministic when several types match.
var dataTypeKeywords = []struct {
	dataType string
	words    []string
}{
	{DataTypeHealth, []string{"steps", "heart rate", "sleep", "slept", "calories", "workout", "exercise", "weight", "health"}},
	{DataTypeLocation, []string{"where", "location", "place", "places", "visit", "visited", "went to"}},
	{DataTypePhoto, []string{"photo", "photos", "picture", "pictures", "image", "images"}},
	{DataTypeVoice, []string{"voice note", "voice notes", "voice memo", "recording", "recordings", "said"}},
}

// knownActivities are activity keywords recognized in queries, checked in
// order with longer phrases first so "rock climbing" wins over "climbing".
var knownActivities = []string{
	"rock climbing",
	"gym",
	"running",
	"run",
	"walking",
	"walk",
	"swimming",
	"swim",
	"cycling",
	"yoga",
	"hiking",
	"hike",
	"meditation",
	"climbing",
	"tennis",
	"basketball",
	"soccer",
	"reading",
	"cooking",
}

// Classify extracts routing hints from query text.
func Classify(text string) Classification {
	lower := strings.ToLower(text)

	c := Classification{
		IsCountQuery:      countPattern.MatchString(lower),
		IsAverageQuery:    averagePattern.MatchString(lower),
		IsComparisonQuery: comparisonPattern.MatchString(lower),
	}

	for _, dt := range dataTypeKeywords {
		for _, w := range dt.words {
			if strings.Contains(lower, w) {
				c.SuggestedDataType = dt.dataType
				break
			}
		}
		if c.SuggestedDataType != "" {
			break
		}
	}

	for _, activity := range knownActivities {
		if strings.Contains(lower, activity) {
			c.SuggestedActivity = activity
			break
		}
	}

	return c
}
