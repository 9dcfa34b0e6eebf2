package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gosuda/boardsync/internal/domain"
)

// Users is a read-only user directory loaded from a JSON array of
// {"id","email","name"} records. A missing file yields an empty directory.
type Users struct {
	byID    map[string]domain.User
	byEmail map[string]domain.User
}

func LoadUsers(path string) (*Users, error) {
	u := &Users{byID: map[string]domain.User{}, byEmail: map[string]domain.User{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file.LoadUsers: %w", err)
	}

	var records []struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("file.LoadUsers: %w", err)
	}

	for _, r := range records {
		if r.ID == "" || r.Email == "" {
			return nil, fmt.Errorf("file.LoadUsers: record without id or email: %w", domain.ErrInvalidInput)
		}
		user := domain.User{ID: r.ID, Email: r.Email, Name: r.Name}
		u.byID[r.ID] = user
		u.byEmail[strings.ToLower(r.Email)] = user
	}
	return u, nil
}

func (u *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := u.byID[id]
	if !ok {
		return nil, fmt.Errorf("file.Users.GetByID: %w", domain.ErrNotFound)
	}
	return &user, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	user, ok := u.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("file.Users.GetByEmail: %w", domain.ErrNotFound)
	}
	return &user, nil
}

// Len returns the number of users.
func (u *Users) Len() int { return len(u.byID) }
