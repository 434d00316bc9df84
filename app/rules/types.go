package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrUnknownField    = errors.New("unknown condition field")
	ErrUnknownOperator = errors.New("unknown condition operator")
	ErrUnknownAction   = errors.New("unknown action type")
	ErrUnknownTrigger  = errors.New("unknown trigger type")
	ErrInvalidPattern  = errors.New("invalid regular expression")
)

type Field string

const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
	FieldFeedID  Field = "feed_id"
	FieldAuthor  Field = "author"
	FieldURL     Field = "url"
	FieldType    Field = "type"
	FieldTag     Field = "tag"
)

func (f Field) Valid() bool {
	switch f {
	case FieldTitle, FieldContent, FieldFeedID, FieldAuthor, FieldURL, FieldType, FieldTag:
		return true
	}
	return false
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("field must be a string: %w", err)
	}
	if !Field(s).Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	*f = Field(s)
	return nil
}

type Operator string

const (
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpMatchesRegex Operator = "matches_regex"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpContains, OpNotContains, OpEquals, OpNotEquals, OpMatchesRegex, OpIn, OpNotIn:
		return true
	}
	return false
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operator must be a string: %w", err)
	}
	if !Operator(s).Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
	*o = Operator(s)
	return nil
}

type Trigger string

const (
	TriggerNewArticle   Trigger = "new_article"
	TriggerFeedMatch    Trigger = "feed_match"
	TriggerKeywordMatch Trigger = "keyword_match"
	TriggerAuthorMatch  Trigger = "author_match"
)

func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerNewArticle, TriggerFeedMatch, TriggerKeywordMatch, TriggerAuthorMatch:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

// Condition tests one article field. Value is kept as the raw JSON it was
// stored with so that arrays and numbers survive a round trip untouched.
type Condition struct {
	Field         Field           `json:"field"`
	Operator      Operator        `json:"operator"`
	Value         json.RawMessage `json:"value"`
	CaseSensitive *bool           `json:"case_sensitive,omitempty"`
}

// Sensitive reports whether matching is case-sensitive. Only an explicit
// "case_sensitive": false turns it off.
func (c Condition) Sensitive() bool {
	return c.CaseSensitive == nil || *c.CaseSensitive
}

func (c Condition) validate() error {
	if !c.Field.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
	if c.Operator == OpMatchesRegex {
		var pattern string
		if json.Unmarshal(c.Value, &pattern) == nil {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
			}
		}
	}
	return nil
}

// DecodeConditions parses a stored condition list. An empty document is an
// empty list.
func DecodeConditions(data []byte) ([]Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var conds []Condition
	if err := json.Unmarshal(data, &conds); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}

	for i, c := range conds {
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
	}

	return conds, nil
}
