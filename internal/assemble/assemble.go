// Package assemble ranks, formats and truncates retrieved items into the
// single context string handed to the generation model, together with the
// structured references the UI uses for answer attribution.
package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/recall0/recall/internal/retrieval"
)

// Fallback is returned verbatim when there is nothing to assemble. The
// generation step depends on this exact sentence; do not reword it.
const Fallback = "No relevant data found in the user's personal history. Let the user know you need more data to answer their question."

const (
	// DefaultMaxLength bounds the assembled context when the caller does
	// not supply a limit.
	DefaultMaxLength = 4000

	// truncationMarker terminates a context that was cut at MaxLength.
	truncationMarker = "..."

	// photoMarker distinguishes photo-derived records in the context so
	// the model knows the text is a caption, not the user's own words.
	photoMarker = "[Photo]"

	// snippetLength bounds the reference snippet shown in the UI.
	snippetLength = 120

	dateLayout = "2006-01-02"
)

// Reference points back at a retrieved item used in the context. It is
// consumed by the UI layer for answer attribution and never persisted.
type Reference struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Type    string  `json:"type"`
	Snippet string  `json:"snippet"`
	UserID  string  `json:"userId,omitempty"`
}

// Options configures one Assemble call.
type Options struct {
	// MaxLength is the hard upper bound on the context string, marker
	// included. Zero or negative selects DefaultMaxLength.
	MaxLength int

	// LabelFn resolves a user id to a display label for multi-user
	// contexts. Nil means no attribution prefix.
	LabelFn func(userID string) string
}

// Output is the assembled context plus its attribution references.
type Output struct {
	Context    string
	References []Reference
}

// Assemble ranks vector items by score (stable on ties, preserving
// retrieval order), formats them ahead of event items, and enforces the
// length bound by hard character truncation.
//
// References mirror the vector items only. Events appear in the context
// but not in the references; the UI undercounts sources on purpose and
// changing that changes user-visible attribution.
func Assemble(vectors, events []retrieval.Item, opts Options) Output {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	if len(vectors) == 0 && len(events) == 0 {
		return Output{Context: Fallback, References: []Reference{}}
	}

	ranked := make([]retrieval.Item, len(vectors))
	copy(ranked, vectors)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	sections := make([]string, 0, len(ranked)+len(events)+1)
	sections = append(sections, fmt.Sprintf(
		"Retrieved %d personal records and %d extracted events:", len(ranked), len(events)))

	references := make([]Reference, 0, len(ranked))
	for i, item := range ranked {
		sections = append(sections, formatVector(i+1, item, opts.LabelFn))
		references = append(references, Reference{
			ID:      item.ID,
			Score:   item.Score,
			Type:    item.Type,
			Snippet: snippet(item.Text),
			UserID:  item.UserID,
		})
	}

	for i, item := range events {
		sections = append(sections, formatEvent(i+1, item))
	}

	context := strings.Join(sections, "\n\n")
	context = truncate(context, maxLength)

	return Output{Context: context, References: references}
}

// formatVector renders one vector match as
// "[index] (score% relevant) [date] [Photo] label: text" with the date,
// photo marker and label each omitted when absent.
func formatVector(index int, item retrieval.Item, labelFn func(string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] (%d%% relevant)", index, percent(item.Score))

	if date, ok := item.ItemDate(); ok {
		fmt.Fprintf(&b, " [%s]", date.Format(dateLayout))
	}
	if item.Type == "photo" {
		b.WriteString(" " + photoMarker)
	}

	text := item.Text
	if labelFn != nil {
		if label := labelFn(item.UserID); label != "" {
			text = label + ": " + text
		}
	}
	b.WriteString(" " + text)
	return b.String()
}

// formatEvent renders one extracted event as
// "[Event index] (confidence% confidence) [date] title: description".
func formatEvent(index int, item retrieval.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Event %d] (%d%% confidence)", index, percent(item.Score))

	if date, ok := item.ItemDate(); ok {
		fmt.Fprintf(&b, " [%s]", date.Format(dateLayout))
	}

	b.WriteString(" " + item.Title)
	if item.Text != "" {
		b.WriteString(": " + item.Text)
	}
	return b.String()
}

// truncate enforces the length bound in characters, not items: cutting
// mid-item is intentionally lossy and always leaves the marker as the
// final characters. The result never exceeds maxLength.
func truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}

	cut := maxLength - len(truncationMarker)
	if cut <= 0 {
		// Degenerate bound smaller than the marker itself.
		return truncationMarker[:maxLength]
	}
	return string(runes[:cut]) + truncationMarker
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength])
}

func percent(score float64) int {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 100
	}
	return int(score * 100)
}
