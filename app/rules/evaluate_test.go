package rules

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/lysyi3m/rss-desk/app/database"
)

func cond(field Field, op Operator, value string) Condition {
	return Condition{Field: field, Operator: op, Value: json.RawMessage(value)}
}

func insensitive(c Condition) Condition {
	f := false
	c.CaseSensitive = &f
	return c
}

func testSubject() Subject {
	return Subject{
		Article: &database.Article{
			ID:      7,
			FeedID:  42,
			Title:   "Go 1.25 Released",
			Content: "<p>The Go team is happy to announce</p>",
			Author:  "Jane Doe",
			URL:     "https://go.dev/blog/go1.25",
		},
		FeedType: "rss",
		Tags:     []string{"golang", "Release"},
	}
}

func TestEvaluate(t *testing.T) {
	s := testSubject()

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"title contains", cond(FieldTitle, OpContains, `"Released"`), true},
		{"title contains is case-sensitive by default", cond(FieldTitle, OpContains, `"released"`), false},
		{"title contains insensitive", insensitive(cond(FieldTitle, OpContains, `"released"`)), true},
		{"title not_contains", cond(FieldTitle, OpNotContains, `"Rust"`), true},
		{"title equals", cond(FieldTitle, OpEquals, `"Go 1.25 Released"`), true},
		{"title not_equals", cond(FieldTitle, OpNotEquals, `"Go 1.25 Released"`), false},
		{"content contains", cond(FieldContent, OpContains, `"happy to announce"`), true},
		{"author equals insensitive", insensitive(cond(FieldAuthor, OpEquals, `"JANE DOE"`)), true},
		{"url regex", cond(FieldURL, OpMatchesRegex, `"^https://go\\.dev/blog/"`), true},
		{"regex case-sensitive", cond(FieldTitle, OpMatchesRegex, `"^go"`), false},
		{"regex insensitive", insensitive(cond(FieldTitle, OpMatchesRegex, `"^go"`)), true},
		{"type in", cond(FieldType, OpIn, `["rss","atom"]`), true},
		{"type not_in", cond(FieldType, OpNotIn, `["youtube","podcast"]`), true},
		{"type in miss", cond(FieldType, OpIn, `["youtube"]`), false},

		{"feed_id equals number", cond(FieldFeedID, OpEquals, `42`), true},
		{"feed_id equals numeric string", cond(FieldFeedID, OpEquals, `"42"`), true},
		{"feed_id not_equals", cond(FieldFeedID, OpNotEquals, `1`), true},
		{"feed_id in", cond(FieldFeedID, OpIn, `[1, 42, 99]`), true},
		{"feed_id not_in", cond(FieldFeedID, OpNotIn, `[1, 2]`), true},
		{"feed_id not_in hit", cond(FieldFeedID, OpNotIn, `[42]`), false},

		{"tag contains", cond(FieldTag, OpContains, `"golang"`), true},
		{"tag equals case-sensitive", cond(FieldTag, OpEquals, `"release"`), false},
		{"tag equals insensitive", insensitive(cond(FieldTag, OpEquals, `"release"`)), true},
		{"tag not_contains", cond(FieldTag, OpNotContains, `"rust"`), true},
		{"tag in", cond(FieldTag, OpIn, `["rust","golang"]`), true},
		{"tag not_in", cond(FieldTag, OpNotIn, `["golang"]`), false},
		{"tag regex", cond(FieldTag, OpMatchesRegex, `"^gol"`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.cond, s); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluateTypeMismatchIsFalse(t *testing.T) {
	s := testSubject()

	tests := []struct {
		name string
		cond Condition
	}{
		{"contains with number", cond(FieldTitle, OpContains, `5`)},
		{"not_contains with number", cond(FieldTitle, OpNotContains, `5`)},
		{"not_equals with bool", cond(FieldAuthor, OpNotEquals, `true`)},
		{"not_contains with array", cond(FieldTitle, OpNotContains, `["Go"]`)},
		{"in with string", cond(FieldType, OpIn, `"rss"`)},
		{"not_in with string", cond(FieldType, OpNotIn, `"youtube"`)},
		{"in with mixed array", cond(FieldType, OpIn, `["rss", 1]`)},
		{"regex with number", cond(FieldTitle, OpMatchesRegex, `1`)},
		{"malformed regex", cond(FieldTitle, OpMatchesRegex, `"([a-z"`)},
		{"feed_id contains", cond(FieldFeedID, OpContains, `"4"`)},
		{"feed_id not_equals with word", cond(FieldFeedID, OpNotEquals, `"forty-two"`)},
		{"feed_id not_in with bad element", cond(FieldFeedID, OpNotIn, `[1, "x"]`)},
		{"tag not_in with object", cond(FieldTag, OpNotIn, `{"a":1}`)},
		{"missing value", Condition{Field: FieldTitle, Operator: OpNotContains}},
		{"garbage value", cond(FieldTitle, OpNotContains, `{`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Evaluate(tt.cond, s) {
				t.Errorf("Expected type-mismatched condition to be false")
			}
		})
	}
}

func TestEvaluateNilArticle(t *testing.T) {
	if Evaluate(cond(FieldTitle, OpNotContains, `"x"`), Subject{}) {
		t.Error("Expected false for a subject without an article")
	}
}

func TestEvaluateEmptyURL(t *testing.T) {
	s := testSubject()
	s.Article.URL = ""

	if Evaluate(cond(FieldURL, OpMatchesRegex, `"^https://"`), s) {
		t.Error("Expected missing url not to match")
	}
}

func TestMatches(t *testing.T) {
	s := testSubject()

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{
			name: "empty condition list matches",
			rule: Rule{Trigger: TriggerNewArticle},
			want: true,
		},
		{
			name: "all conditions hold",
			rule: Rule{Trigger: TriggerKeywordMatch, Conditions: []Condition{
				cond(FieldTitle, OpContains, `"Go"`),
				cond(FieldAuthor, OpEquals, `"Jane Doe"`),
			}},
			want: true,
		},
		{
			name: "one condition fails",
			rule: Rule{Trigger: TriggerKeywordMatch, Conditions: []Condition{
				cond(FieldTitle, OpContains, `"Go"`),
				cond(FieldAuthor, OpEquals, `"John"`),
			}},
			want: false,
		},
		{
			name: "feed_match without feed_id condition",
			rule: Rule{Trigger: TriggerFeedMatch, Conditions: []Condition{
				cond(FieldTitle, OpContains, `"Go"`),
			}},
			want: false,
		},
		{
			name: "feed_match with feed_id condition",
			rule: Rule{Trigger: TriggerFeedMatch, Conditions: []Condition{
				cond(FieldFeedID, OpEquals, `42`),
			}},
			want: true,
		},
		{
			name: "author_match needs author condition",
			rule: Rule{Trigger: TriggerAuthorMatch},
			want: false,
		},
		{
			name: "keyword_match on content",
			rule: Rule{Trigger: TriggerKeywordMatch, Conditions: []Condition{
				cond(FieldContent, OpContains, `"announce"`),
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.rule, s); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRegexCacheInvalidPattern(t *testing.T) {
	if compile("(", true) != nil {
		t.Fatal("Expected nil for invalid pattern")
	}
	if compile("(", true) != nil {
		t.Error("Expected cached nil for invalid pattern")
	}
	if re := compile("abc", false); re == nil || !re.MatchString("ABC") {
		t.Error("Expected case-insensitive pattern to match")
	}
}

func TestPatternCacheIsBounded(t *testing.T) {
	for i := range patternCacheSize * 2 {
		compile("^draft-"+strconv.Itoa(i)+"$", true)
	}

	if n := patterns.Len(); n > patternCacheSize {
		t.Errorf("Expected at most %d cached patterns, got %d", patternCacheSize, n)
	}

	if re := compile("^draft-1$", true); re == nil || !re.MatchString("draft-1") {
		t.Error("Expected evicted pattern to compile again")
	}
	if re := compile("([a-z", true); re != nil {
		t.Error("Expected nil for an invalid pattern")
	}
}
