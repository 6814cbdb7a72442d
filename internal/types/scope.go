package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ScopeKind uint8

const (
	ScopeItem ScopeKind = iota + 1
	ScopeList
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeItem:
		return "item"
	case ScopeList:
		return "list"
	default:
		return "unknown"
	}
}

// MessageScope is the unit a chat message belongs to: either a single item
// or a whole list. The zero value is invalid.
type MessageScope struct {
	kind ScopeKind
	id   int
}

func ItemScope(itemId int) MessageScope {
	return MessageScope{kind: ScopeItem, id: itemId}
}

func ListScope(listId int) MessageScope {
	return MessageScope{kind: ScopeList, id: listId}
}

// ParseScope builds a scope from its path form, e.g. ("item", "42").
func ParseScope(kind, id string) (MessageScope, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return MessageScope{}, fmt.Errorf("%w: bad scope id %q", ErrInvalidScope, id)
	}

	switch kind {
	case "item":
		return ItemScope(n), nil
	case "list":
		return ListScope(n), nil
	}

	return MessageScope{}, fmt.Errorf("%w: bad scope kind %q", ErrInvalidScope, kind)
}

func (s MessageScope) Kind() ScopeKind { return s.kind }
func (s MessageScope) Id() int         { return s.id }
func (s MessageScope) IsItem() bool    { return s.kind == ScopeItem }
func (s MessageScope) IsList() bool    { return s.kind == ScopeList }
func (s MessageScope) Valid() bool     { return (s.kind == ScopeItem || s.kind == ScopeList) && s.id > 0 }

func (s MessageScope) String() string {
	return s.kind.String() + ":" + strconv.Itoa(s.id)
}

type scopeJSON struct {
	Kind string `json:"kind"`
	Id   int    `json:"id"`
}

func (s MessageScope) MarshalJSON() ([]byte, error) {
	return json.Marshal(scopeJSON{Kind: s.kind.String(), Id: s.id})
}

func (s *MessageScope) UnmarshalJSON(b []byte) error {
	var v scopeJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	parsed, err := ParseScope(v.Kind, strconv.Itoa(v.Id))
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}
