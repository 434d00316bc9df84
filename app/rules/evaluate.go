package rules

import (
	"bytes"
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"

	"github.com/lysyi3m/rss-desk/app/database"
)

// Subject is what conditions are evaluated against.
type Subject struct {
	Article  *database.Article
	FeedType string
	Tags     []string
}

// Matches reports whether every condition of r holds for s. An empty
// condition list matches.
func Matches(r Rule, s Subject) bool {
	if s.Article == nil || !r.Consistent() {
		return false
	}

	for _, c := range r.Conditions {
		if !Evaluate(c, s) {
			return false
		}
	}

	return true
}

// Evaluate is total: malformed patterns and values of the wrong type for the
// operator yield false.
func Evaluate(c Condition, s Subject) bool {
	if s.Article == nil {
		return false
	}

	value, ok := decodeValue(c.Value)
	if !ok {
		return false
	}

	switch c.Field {
	case FieldFeedID:
		return evalFeedID(c.Operator, s.Article.FeedID, value)
	case FieldTag:
		return evalTags(c, s.Tags, value)
	case FieldTitle:
		return evalText(c, s.Article.Title, value)
	case FieldContent:
		content := s.Article.Content
		if content == "" {
			content = s.Article.Summary
		}
		return evalText(c, content, value)
	case FieldAuthor:
		return evalText(c, s.Article.Author, value)
	case FieldURL:
		return evalText(c, s.Article.URL, value)
	case FieldType:
		return evalText(c, s.FeedType, value)
	}

	return false
}

func decodeValue(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	return v, true
}

func evalText(c Condition, text string, value any) bool {
	sensitive := c.Sensitive()

	switch c.Operator {
	case OpContains, OpNotContains, OpEquals, OpNotEquals:
		want, ok := value.(string)
		if !ok {
			return false
		}
		got, want := fold(text, sensitive), fold(want, sensitive)
		switch c.Operator {
		case OpContains:
			return strings.Contains(got, want)
		case OpNotContains:
			return !strings.Contains(got, want)
		case OpEquals:
			return got == want
		default:
			return got != want
		}

	case OpMatchesRegex:
		pattern, ok := value.(string)
		if !ok {
			return false
		}
		re := compile(pattern, sensitive)
		return re != nil && re.MatchString(text)

	case OpIn, OpNotIn:
		list, ok := stringList(value)
		if !ok {
			return false
		}
		got := fold(text, sensitive)
		found := slices.ContainsFunc(list, func(v string) bool { return fold(v, sensitive) == got })
		return found == (c.Operator == OpIn)
	}

	return false
}

// evalTags treats the article's tag set as the field: contains/equals test
// membership, in/not_in test intersection.
func evalTags(c Condition, tags []string, value any) bool {
	sensitive := c.Sensitive()
	has := func(want string) bool {
		want = fold(want, sensitive)
		return slices.ContainsFunc(tags, func(t string) bool { return fold(t, sensitive) == want })
	}

	switch c.Operator {
	case OpContains, OpEquals, OpNotContains, OpNotEquals:
		want, ok := value.(string)
		if !ok {
			return false
		}
		found := has(want)
		if c.Operator == OpContains || c.Operator == OpEquals {
			return found
		}
		return !found

	case OpMatchesRegex:
		pattern, ok := value.(string)
		if !ok {
			return false
		}
		re := compile(pattern, sensitive)
		return re != nil && slices.ContainsFunc(tags, re.MatchString)

	case OpIn, OpNotIn:
		list, ok := stringList(value)
		if !ok {
			return false
		}
		found := slices.ContainsFunc(list, has)
		return found == (c.Operator == OpIn)
	}

	return false
}

func evalFeedID(op Operator, feedID int64, value any) bool {
	switch op {
	case OpEquals, OpNotEquals:
		want, ok := toID(value)
		if !ok {
			return false
		}
		return (feedID == want) == (op == OpEquals)

	case OpIn, OpNotIn:
		items, ok := value.([]any)
		if !ok {
			return false
		}
		found := false
		for _, item := range items {
			id, ok := toID(item)
			if !ok {
				return false
			}
			if id == feedID {
				found = true
			}
		}
		return found == (op == OpIn)
	}

	return false
}

func toID(v any) (int64, bool) {
	switch v := v.(type) {
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	}
	return 0, false
}

func stringList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}

	return out, true
}

func fold(s string, sensitive bool) string {
	if sensitive {
		return s
	}
	return cases.Fold().String(s)
}

const patternCacheSize = 256

// patterns holds compiled expressions, least recently used evicted first.
// Invalid patterns are cached as nil.
var patterns = mustPatternCache(patternCacheSize)

type regexKey struct {
	pattern   string
	sensitive bool
}

func mustPatternCache(size int) *lru.Cache[regexKey, *regexp.Regexp] {
	cache, err := lru.New[regexKey, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return cache
}

// compile returns nil for invalid patterns.
func compile(pattern string, sensitive bool) *regexp.Regexp {
	key := regexKey{pattern, sensitive}
	if re, ok := patterns.Get(key); ok {
		return re
	}

	expr := pattern
	if !sensitive {
		expr = "(?i)" + pattern
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		re = nil
	}
	patterns.Add(key, re)

	return re
}
