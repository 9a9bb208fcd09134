package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Hasher runs bcrypt off the calling goroutine and caps how many hashes run at
// once. Callers give up as soon as their context is done; the bcrypt call still
// finishes in the background and releases its slot.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyHash string
}

// NewHasher returns a Hasher. A concurrency of zero or less means GOMAXPROCS.
// The dummy hash is computed up front at the same cost, so construction
// takes one bcrypt round.
func NewHasher(cost, concurrency int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(rand.Text()), cost)
	if err != nil {
		panic(fmt.Sprintf("auth: generate dummy hash: %v", err))
	}
	return &Hasher{
		cost:      cost,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		dummyHash: string(dummy),
	}
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	var (
		hashed []byte
		err    error
	)
	if runErr := h.run(ctx, func() {
		hashed, err = bcrypt.GenerateFromPassword([]byte(password), h.cost)
	}); runErr != nil {
		return "", runErr
	}
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether candidate matches hash. Every failure, including a
// malformed hash or a cancelled context, is reported as false.
func (h *Hasher) Verify(ctx context.Context, candidate, hash string) bool {
	var err error
	if runErr := h.run(ctx, func() {
		err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate))
	}); runErr != nil {
		return false
	}
	return err == nil
}

// DummyHash returns a hash of a random secret. Comparing against it costs the
// same as comparing against a real hash and never matches.
func (h *Hasher) DummyHash() string {
	return h.dummyHash
}

func (h *Hasher) run(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer h.sem.Release(1)
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
