package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ActionKind string

const (
	KindMoveToFolder ActionKind = "move_to_folder"
	KindAddTag       ActionKind = "add_tag"
	KindMarkRead     ActionKind = "mark_read"
	KindBookmark     ActionKind = "bookmark"
	KindDelete       ActionKind = "delete"
	KindNotify       ActionKind = "notify"
)

// Action is implemented only by the types in this file.
type Action interface {
	Kind() ActionKind
	sealed()
}

type MoveToFolder struct{ FolderID int64 }
type AddTag struct{ Tag string }
type MarkRead struct{}
type Bookmark struct{}
type Delete struct{}
type Notify struct{ Message string }

func (MoveToFolder) Kind() ActionKind { return KindMoveToFolder }
func (AddTag) Kind() ActionKind       { return KindAddTag }
func (MarkRead) Kind() ActionKind     { return KindMarkRead }
func (Bookmark) Kind() ActionKind     { return KindBookmark }
func (Delete) Kind() ActionKind       { return KindDelete }
func (Notify) Kind() ActionKind       { return KindNotify }

func (MoveToFolder) sealed() {}
func (AddTag) sealed()       {}
func (MarkRead) sealed()     {}
func (Bookmark) sealed()     {}
func (Delete) sealed()       {}
func (Notify) sealed()       {}

type actionJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

func decodeAction(raw actionJSON) (Action, error) {
	switch ActionKind(raw.Type) {
	case KindMoveToFolder:
		id, err := decodeID(raw.Value)
		if err != nil {
			return nil, fmt.Errorf("move_to_folder: %w", err)
		}
		return MoveToFolder{FolderID: id}, nil
	case KindAddTag:
		var tag string
		if err := json.Unmarshal(raw.Value, &tag); err != nil || tag == "" {
			return nil, fmt.Errorf("add_tag: value must be a non-empty string")
		}
		return AddTag{Tag: tag}, nil
	case KindMarkRead:
		return MarkRead{}, nil
	case KindBookmark:
		return Bookmark{}, nil
	case KindDelete:
		return Delete{}, nil
	case KindNotify:
		var msg string
		if len(raw.Value) > 0 && string(raw.Value) != "null" {
			if err := json.Unmarshal(raw.Value, &msg); err != nil {
				return nil, fmt.Errorf("notify: value must be a string")
			}
		}
		return Notify{Message: msg}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, raw.Type)
}

func encodeAction(a Action) (actionJSON, error) {
	out := actionJSON{Type: string(a.Kind())}

	var value any
	switch a := a.(type) {
	case MoveToFolder:
		value = a.FolderID
	case AddTag:
		value = a.Tag
	case Notify:
		if a.Message != "" {
			value = a.Message
		}
	case MarkRead, Bookmark, Delete:
	default:
		return out, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}

	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return out, err
		}
		out.Value = data
	}

	return out, nil
}

func DecodeActions(data []byte) ([]Action, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw []actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}

	actions := make([]Action, 0, len(raw))
	for i, r := range raw {
		a, err := decodeAction(r)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}

	return actions, nil
}

func EncodeActions(actions []Action) ([]byte, error) {
	raw := make([]actionJSON, 0, len(actions))
	for _, a := range actions {
		r, err := encodeAction(a)
		if err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	return json.Marshal(raw)
}

// decodeID accepts a JSON number or a numeric string.
func decodeID(data json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if id, err := n.Int64(); err == nil {
			return id, nil
		}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id, nil
		}
	}

	return 0, fmt.Errorf("value must be an integer id")
}
