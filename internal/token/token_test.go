package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adwheel/adwheel-backend/internal/model"
)

type stubRepo struct {
	tokens map[model.ActionKind]model.ActionToken

	getErr    error
	insertErr error
	deleteErr error

	inserted []model.ActionToken
	deleted  []model.ActionKind
}

func newStubRepo() *stubRepo {
	return &stubRepo{tokens: make(map[model.ActionKind]model.ActionToken)}
}

func (s *stubRepo) GetActionToken(ctx context.Context, userID int64, kind model.ActionKind) (*model.ActionToken, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.tokens[kind]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *stubRepo) GetActionTokenByValue(ctx context.Context, userID int64, kind model.ActionKind, value string) (*model.ActionToken, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.tokens[kind]
	if !ok || t.Value != value {
		return nil, nil
	}
	return &t, nil
}

func (s *stubRepo) InsertActionToken(ctx context.Context, token model.ActionToken) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.tokens[token.Kind] = token
	s.inserted = append(s.inserted, token)
	return nil
}

func (s *stubRepo) DeleteActionToken(ctx context.Context, userID int64, kind model.ActionKind) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.tokens, kind)
	s.deleted = append(s.deleted, kind)
	return nil
}

func newTestGuard(repo Repository, now time.Time) *Guard {
	g := NewGuard(repo, 30*time.Second)
	g.now = func() time.Time { return now }
	return g
}

func TestIssue_NewToken(t *testing.T) {
	repo := newStubRepo()
	g := newTestGuard(repo, time.Unix(1700000000, 0))

	value, err := g.Issue(context.Background(), 1, model.ActionWatchAd)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if len(value) != 32 {
		t.Fatalf("token value length = %d, want 32 hex chars", len(value))
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted %d tokens, want 1", len(repo.inserted))
	}
}

func TestIssue_ReturnsExistingFreshToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	repo := newStubRepo()
	repo.tokens[model.ActionWatchAd] = model.ActionToken{
		UserID:   1,
		Kind:     model.ActionWatchAd,
		Value:    "existing",
		IssuedAt: now.Add(-10 * time.Second),
	}
	g := newTestGuard(repo, now)

	value, err := g.Issue(context.Background(), 1, model.ActionWatchAd)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if value != "existing" {
		t.Fatalf("Issue returned %q, want existing token", value)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("fresh token must not be replaced")
	}
}

func TestIssue_ReplacesExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	repo := newStubRepo()
	repo.tokens[model.ActionWatchAd] = model.ActionToken{
		UserID:   1,
		Kind:     model.ActionWatchAd,
		Value:    "stale",
		IssuedAt: now.Add(-time.Minute),
	}
	g := newTestGuard(repo, now)

	value, err := g.Issue(context.Background(), 1, model.ActionWatchAd)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if value == "stale" {
		t.Fatalf("expired token must be replaced")
	}
	if len(repo.deleted) != 1 {
		t.Fatalf("expired token must be deleted before reissue")
	}
}

func TestConsume_OK_DeletesToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	repo := newStubRepo()
	repo.tokens[model.ActionWatchAd] = model.ActionToken{
		UserID:   1,
		Kind:     model.ActionWatchAd,
		Value:    "valid",
		IssuedAt: now.Add(-5 * time.Second),
	}
	g := newTestGuard(repo, now)

	if err := g.Consume(context.Background(), 1, model.ActionWatchAd, "valid"); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if _, ok := repo.tokens[model.ActionWatchAd]; ok {
		t.Fatalf("consumed token must be deleted")
	}
}

func TestConsume_SecondPresentationRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	repo := newStubRepo()
	repo.tokens[model.ActionWatchAd] = model.ActionToken{
		UserID:   1,
		Kind:     model.ActionWatchAd,
		Value:    "valid",
		IssuedAt: now,
	}
	g := newTestGuard(repo, now)

	if err := g.Consume(context.Background(), 1, model.ActionWatchAd, "valid"); err != nil {
		t.Fatalf("first Consume error: %v", err)
	}

	err := g.Consume(context.Background(), 1, model.ActionWatchAd, "valid")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("second Consume = %v, want ErrInvalid", err)
	}
}

func TestConsume_UnknownValue(t *testing.T) {
	repo := newStubRepo()
	g := newTestGuard(repo, time.Unix(1700000000, 0))

	err := g.Consume(context.Background(), 1, model.ActionWatchAd, "never-issued")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Consume = %v, want ErrInvalid", err)
	}
}

func TestConsume_EmptyValue(t *testing.T) {
	repo := newStubRepo()
	g := newTestGuard(repo, time.Unix(1700000000, 0))

	err := g.Consume(context.Background(), 1, model.ActionWatchAd, "")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Consume = %v, want ErrInvalid", err)
	}
}

func TestConsume_ExpiredTokenDeleted(t *testing.T) {
	now := time.Unix(1700000000, 0)
	repo := newStubRepo()
	repo.tokens[model.ActionWithdraw] = model.ActionToken{
		UserID:   1,
		Kind:     model.ActionWithdraw,
		Value:    "old",
		IssuedAt: now.Add(-31 * time.Second),
	}
	g := newTestGuard(repo, now)

	err := g.Consume(context.Background(), 1, model.ActionWithdraw, "old")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Consume = %v, want ErrExpired", err)
	}
	if _, ok := repo.tokens[model.ActionWithdraw]; ok {
		t.Fatalf("expired token must be deleted on detection")
	}
}

func TestConsume_StoreError(t *testing.T) {
	repo := newStubRepo()
	repo.getErr = errors.New("connection refused")
	g := newTestGuard(repo, time.Unix(1700000000, 0))

	err := g.Consume(context.Background(), 1, model.ActionWatchAd, "valid")
	if err == nil || errors.Is(err, ErrInvalid) || errors.Is(err, ErrExpired) {
		t.Fatalf("store errors must not be reported as token rejection, got %v", err)
	}
}
