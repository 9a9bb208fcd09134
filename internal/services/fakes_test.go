package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/storage"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-key-for-services"

// memoryRepo is an in-memory UserRepository with the same uniqueness rule
// as the app_user table.
type memoryRepo struct {
	mu    sync.Mutex
	users map[string]types.User
	next  int64
	now   time.Time

	// hideOnExists makes Exists report false for these emails, simulating a
	// concurrent insert that lands after the existence check.
	hideOnExists map[string]bool
	failWith     error
	writes       int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:        map[string]types.User{},
		hideOnExists: map[string]bool{},
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *memoryRepo) Exists(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return false, r.failWith
	}
	if r.hideOnExists[email] {
		return false, nil
	}
	_, ok := r.users[email]
	return ok, nil
}

func (r *memoryRepo) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	return len(r.users), nil
}

func (r *memoryRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return types.User{}, r.failWith
	}
	u, ok := r.users[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) List(context.Context) ([]types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := make([]types.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *memoryRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return types.User{}, r.failWith
	}
	if _, ok := r.users[user.Email]; ok {
		return types.User{}, fmt.Errorf("%w: duplicate key value violates unique constraint", store.ErrDuplicate)
	}
	r.next++
	r.writes++
	user.ID = r.next
	user.Roles = store.SplitSet(store.JoinSet(user.Roles))
	user.Permissions = store.SplitSet(store.JoinSet(user.Permissions))
	user.LastUpdatedBy = user.CreatedBy
	user.CreatedOn = r.now
	user.LastUpdatedOn = r.now
	r.users[user.Email] = user
	return user, nil
}

func (r *memoryRepo) UpdateRoles(_ context.Context, email string, roles []string, actor string) error {
	return r.update(email, actor, func(u *types.User) { u.Roles = store.SplitSet(store.JoinSet(roles)) })
}

func (r *memoryRepo) UpdatePermissions(_ context.Context, email string, permissions []string, actor string) error {
	return r.update(email, actor, func(u *types.User) { u.Permissions = store.SplitSet(store.JoinSet(permissions)) })
}

func (r *memoryRepo) UpdatePassword(_ context.Context, email, passwordHash, actor string) error {
	return r.update(email, actor, func(u *types.User) { u.PasswordHash = passwordHash })
}

func (r *memoryRepo) update(email, actor string, apply func(*types.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	u, ok := r.users[email]
	if !ok {
		return store.ErrNotFound
	}
	apply(&u)
	u.LastUpdatedBy = actor
	u.LastUpdatedOn = r.now.Add(time.Minute)
	r.users[email] = u
	r.writes++
	return nil
}

func (r *memoryRepo) get(email string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	return u, ok
}

// recordingBackend is an mq.Backend that keeps published messages.
type recordingBackend struct {
	mu       sync.Mutex
	channel  []string
	messages []mq.Message
	err      error
}

func (b *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	id := fmt.Sprintf("msg-%d", len(b.messages)+1)
	b.channel = append(b.channel, channel)
	b.messages = append(b.messages, mq.Message{ID: id, Data: data, Attributes: attrs})
	return id, nil
}

func (b *recordingBackend) Subscribe(context.Context, string, mq.Handler) error { return nil }
func (b *recordingBackend) Close() error                                        { return nil }

func (b *recordingBackend) events(t *testing.T) []Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.messages))
	for _, msg := range b.messages {
		event, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, event)
	}
	return out
}

// memoryObjects is a storage.ObjectStorage keeping objects in memory.
type memoryObjects struct {
	bucket       string
	ensured      bool
	objects      map[string][]byte
	contentTypes map[string]string
	metadata     map[string]map[string]string
	err          error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{
		bucket:       "directory",
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
		metadata:     map[string]map[string]string{},
	}
}

func (m *memoryObjects) EnsureBucket(context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.ensured = true
	return nil
}

func (m *memoryObjects) Put(_ context.Context, obj storage.Object) error {
	if m.err != nil {
		return m.err
	}
	m.objects[obj.Key] = obj.Body
	m.contentTypes[obj.Key] = obj.ContentType
	m.metadata[obj.Key] = obj.Metadata
	return nil
}

func (m *memoryObjects) Bucket() string { return m.bucket }

type fixture struct {
	repo        *memoryRepo
	hasher      *auth.Hasher
	tokens      *auth.TokenIssuer
	credentials *CredentialStore
	broker      *recordingBackend
	svc         *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	hasher := auth.NewHasher(bcrypt.MinCost, 4)
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	credentials := NewCredentialStore(repo, hasher, "admin, user,ops", "read,write")
	broker := &recordingBackend{}
	publisher := NewMQEventPublisher(mq.New(broker), "auth.account-events")
	return &fixture{
		repo:        repo,
		hasher:      hasher,
		tokens:      tokens,
		credentials: credentials,
		broker:      broker,
		svc:         NewAuthService(credentials, tokens, publisher, nil),
	}
}

func (f *fixture) signUp(t *testing.T, email, password string) {
	t.Helper()
	_, err := f.svc.SignUp(context.Background(), types.SignUpRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
}
