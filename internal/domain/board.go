package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Reserved top-level members of a board document. Everything else is content
// owned by the client and carried through untouched.
const (
	fieldID      = "id"
	fieldName    = "name"
	fieldVersion = "version"
	fieldOwnerID = "ownerId"
	fieldEditors = "editors"
)

// Board is the unit of synchronization. Lists, cards, label names and any
// other client data live in Content, keyed by their JSON member name.
type Board struct {
	ID      string
	Name    string
	Version int
	OwnerID *string // nil = public/demo board
	Editors []string
	Content map[string]json.RawMessage
}

// BoardSummary is the listing view of a board.
type BoardSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParseBoard decodes a board document. Documents written before versioning
// or access control existed decode with Version 0, no owner and no editors.
func ParseBoard(data []byte) (*Board, error) {
	b := &Board{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("domain.ParseBoard: %w", err)
	}
	return b, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Board) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("board: document is null")
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("board: %w", err)
	}

	*b = Board{Editors: []string{}, Content: make(map[string]json.RawMessage)}

	for key, raw := range members {
		var err error
		switch key {
		case fieldID:
			err = decodeOptional(raw, &b.ID)
		case fieldName:
			err = decodeOptional(raw, &b.Name)
		case fieldVersion:
			err = decodeOptional(raw, &b.Version)
		case fieldOwnerID:
			err = json.Unmarshal(raw, &b.OwnerID)
		case fieldEditors:
			var editors []string
			err = json.Unmarshal(raw, &editors)
			if editors != nil {
				b.Editors = editors
			}
		default:
			b.Content[key] = raw
		}
		if err != nil {
			return fmt.Errorf("board: field %q: %w", key, err)
		}
	}

	return nil
}

// MarshalJSON implements json.Marshaler. Access fields are always present so
// readers can tell a public board (ownerId null) from a private one.
func (b *Board) MarshalJSON() ([]byte, error) {
	members := make(map[string]any, len(b.Content)+5)
	for k, v := range b.Content {
		members[k] = v
	}

	editors := b.Editors
	if editors == nil {
		editors = []string{}
	}

	members[fieldID] = b.ID
	members[fieldName] = b.Name
	members[fieldVersion] = b.Version
	members[fieldOwnerID] = b.OwnerID
	members[fieldEditors] = editors

	return json.Marshal(members)
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	c := &Board{
		ID:      b.ID,
		Name:    b.Name,
		Version: b.Version,
		Editors: append([]string{}, b.Editors...),
		Content: make(map[string]json.RawMessage, len(b.Content)),
	}
	if b.OwnerID != nil {
		owner := *b.OwnerID
		c.OwnerID = &owner
	}
	for k, v := range b.Content {
		c.Content[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// WithoutAccessFields returns a copy with owner and editors cleared. Access
// fields are never client-writable.
func (b *Board) WithoutAccessFields() *Board {
	c := b.Clone()
	c.OwnerID = nil
	c.Editors = []string{}
	return c
}

// IsPublic reports whether the board has no owner.
func (b *Board) IsPublic() bool {
	return b.OwnerID == nil
}

// HasEditor reports whether userID is in the editor list.
func (b *Board) HasEditor(userID string) bool {
	for _, e := range b.Editors {
		if e == userID {
			return true
		}
	}
	return false
}

// Summary returns the listing view, naming untitled boards "Untitled".
func (b *Board) Summary() BoardSummary {
	name := b.Name
	if name == "" {
		name = "Untitled"
	}
	return BoardSummary{ID: b.ID, Name: name}
}

// SortSummaries orders summaries by board id.
func SortSummaries(s []BoardSummary) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

func decodeOptional[T any](raw json.RawMessage, dst *T) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// BoardStore is the board document store keyed by board id. Implementations
// provide single-document read/write atomicity.
type BoardStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Read returns ErrNotFound when the board is absent and ErrCorrupt when
	// the stored document cannot be decoded.
	Read(ctx context.Context, id string) (*Board, error)
	Write(ctx context.Context, b *Board) error
	// Delete is a no-op for absent boards.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Board, error)
}

// BoardLocker serializes read-modify-write sequences per board id.
type BoardLocker interface {
	Lock(ctx context.Context, boardID string) (unlock func(), err error)
}
