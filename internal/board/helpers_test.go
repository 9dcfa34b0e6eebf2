package board_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/store/file"
)

// ---------------------------------------------------------------------------
// Recording broadcaster
// ---------------------------------------------------------------------------

type broadcast struct {
	BoardID string
	Sender  string
	Name    string
	Payload json.RawMessage
}

type recordingBus struct {
	mu     sync.Mutex
	events []broadcast
	err    error
}

func (r *recordingBus) Broadcast(boardID, sender, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, broadcast{BoardID: boardID, Sender: sender, Name: name, Payload: data})
	return r.err
}

func (r *recordingBus) all() []broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast(nil), r.events...)
}

// ---------------------------------------------------------------------------
// Mock UserDirectory
// ---------------------------------------------------------------------------

type mockUsers struct {
	getByIDFunc    func(ctx context.Context, id string) (*domain.User, error)
	getByEmailFunc func(ctx context.Context, email string) (*domain.User, error)
}

func (m *mockUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.getByEmailFunc(ctx, email)
}

func staticUsers(users ...domain.User) *mockUsers {
	return &mockUsers{
		getByIDFunc: func(_ context.Context, id string) (*domain.User, error) {
			for i := range users {
				if users[i].ID == id {
					return &users[i], nil
				}
			}
			return nil, domain.ErrNotFound
		},
		getByEmailFunc: func(_ context.Context, email string) (*domain.User, error) {
			for i := range users {
				if users[i].Email == email {
					return &users[i], nil
				}
			}
			return nil, domain.ErrNotFound
		},
	}
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

var (
	alice = domain.Identity{UserID: "u-alice", Email: "alice@example.com"}
	bob   = domain.Identity{UserID: "u-bob", Email: "bob@example.com"}
	carol = domain.Identity{UserID: "u-carol", Email: "carol@example.com"}
)

type fixture struct {
	svc   *board.Service
	store *file.Store
	bus   *recordingBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := file.New(filepath.Join(t.TempDir(), "boards"))
	require.NoError(t, err)

	bus := &recordingBus{}
	users := staticUsers(
		domain.User{ID: alice.UserID, Email: alice.Email, Name: "Alice"},
		domain.User{ID: bob.UserID, Email: bob.Email, Name: "Bob"},
		domain.User{ID: carol.UserID, Email: carol.Email, Name: "Carol"},
	)

	return &fixture{
		svc:   board.NewService(store, nil, users, bus),
		store: store,
		bus:   bus,
	}
}

func (f *fixture) save(t *testing.T, boardID, body, clientID string, id domain.Identity) (*board.SaveResult, error) {
	t.Helper()
	return f.svc.Save(context.Background(), board.SaveRequest{
		BoardID:  boardID,
		Body:     []byte(body),
		ClientID: clientID,
		Identity: id,
	})
}

func (f *fixture) read(t *testing.T, boardID string) *domain.Board {
	t.Helper()
	b, err := f.store.Read(context.Background(), boardID)
	require.NoError(t, err)
	return b
}
