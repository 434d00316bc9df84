package rules

import (
	"fmt"

	"github.com/lysyi3m/rss-desk/app/database"
)

// HighPriorityThreshold is the priority above which a matching rule stops
// evaluation of lower-priority rules for the same article.
const HighPriorityThreshold = 50

type Rule struct {
	ID         int64
	UserID     int64
	Name       string
	Enabled    bool
	Trigger    Trigger
	Conditions []Condition
	Actions    []Action
	Priority   int
}

func FromRecord(rec database.Rule) (Rule, error) {
	trigger, err := ParseTrigger(rec.TriggerType)
	if err != nil {
		return Rule{}, err
	}

	conds, err := DecodeConditions(rec.Conditions)
	if err != nil {
		return Rule{}, err
	}

	actions, err := DecodeActions(rec.Actions)
	if err != nil {
		return Rule{}, err
	}

	return Rule{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Name:       rec.Name,
		Enabled:    rec.Enabled,
		Trigger:    trigger,
		Conditions: conds,
		Actions:    actions,
		Priority:   rec.Priority,
	}, nil
}

// ShortCircuits reports whether a match of r ends evaluation for the article.
func (r Rule) ShortCircuits() bool {
	return r.Priority > HighPriorityThreshold
}

// Consistent reports whether the trigger type agrees with the rule's own
// conditions. Inconsistent rules never match.
func (r Rule) Consistent() bool {
	switch r.Trigger {
	case TriggerNewArticle:
		return true
	case TriggerFeedMatch:
		return r.hasCondition(FieldFeedID)
	case TriggerKeywordMatch:
		return r.hasCondition(FieldTitle, FieldContent)
	case TriggerAuthorMatch:
		return r.hasCondition(FieldAuthor)
	}
	return false
}

func (r Rule) hasCondition(fields ...Field) bool {
	for _, c := range r.Conditions {
		for _, f := range fields {
			if c.Field == f {
				return true
			}
		}
	}
	return false
}

// Validate checks a rule definition before it is stored.
func Validate(triggerType string, conditions, actions []byte) error {
	rec := database.Rule{TriggerType: triggerType, Conditions: conditions, Actions: actions}

	r, err := FromRecord(rec)
	if err != nil {
		return err
	}
	if !r.Consistent() {
		return fmt.Errorf("trigger %q requires a matching condition", r.Trigger)
	}

	return nil
}
