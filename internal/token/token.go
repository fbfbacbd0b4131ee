// Package token реализует защиту от повторного выполнения действий
// через одноразовые токены, выдаваемые сервером.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/adwheel/adwheel-backend/internal/model"
)

var (
	// ErrInvalid возвращается, если токен не найден. Формулировка намеренно
	// не различает «никогда не выдавался» и «уже использован».
	ErrInvalid = errors.New("action token invalid or already used")
	// ErrExpired возвращается, если токен предъявлен после окончания срока действия.
	ErrExpired = errors.New("action token expired")
)

// Repository описывает операции хранилища, используемые защитой от повторов.
type Repository interface {
	GetActionToken(ctx context.Context, userID int64, kind model.ActionKind) (*model.ActionToken, error)
	GetActionTokenByValue(ctx context.Context, userID int64, kind model.ActionKind, value string) (*model.ActionToken, error)
	InsertActionToken(ctx context.Context, token model.ActionToken) error
	DeleteActionToken(ctx context.Context, userID int64, kind model.ActionKind) error
}

// Guard выдаёт и погашает одноразовые токены, привязанные к паре (пользователь, действие).
type Guard struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewGuard создаёт Guard с указанным сроком действия токенов.
func NewGuard(repo Repository, ttl time.Duration) *Guard {
	return &Guard{
		repo: repo,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Issue выдаёт токен для пары (пользователь, действие).
// Если непросроченный токен уже существует, он возвращается без изменений,
// чтобы повторные запросы клиента не раздували таблицу токенов.
func (g *Guard) Issue(ctx context.Context, userID int64, kind model.ActionKind) (string, error) {
	existing, err := g.repo.GetActionToken(ctx, userID, kind)
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}

	if existing != nil {
		if g.now().Sub(existing.IssuedAt) <= g.ttl {
			return existing.Value, nil
		}
		if err := g.repo.DeleteActionToken(ctx, userID, kind); err != nil {
			return "", fmt.Errorf("delete expired token: %w", err)
		}
	}

	value, err := newTokenValue()
	if err != nil {
		return "", err
	}

	t := model.ActionToken{
		UserID:   userID,
		Kind:     kind,
		Value:    value,
		IssuedAt: g.now(),
	}
	if err := g.repo.InsertActionToken(ctx, t); err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}

	return value, nil
}

// Consume погашает предъявленный токен.
// Отсутствующий токен отклоняется как ErrInvalid, просроченный удаляется и
// отклоняется как ErrExpired. Свежий токен удаляется сразу после проверки,
// до завершения действия: так окно для одновременных дублей минимально,
// хотя и не равно нулю (см. комментарий к пакету repository).
func (g *Guard) Consume(ctx context.Context, userID int64, kind model.ActionKind, value string) error {
	if value == "" {
		return ErrInvalid
	}

	t, err := g.repo.GetActionTokenByValue(ctx, userID, kind, value)
	if err != nil {
		return fmt.Errorf("lookup token: %w", err)
	}
	if t == nil {
		return ErrInvalid
	}

	if g.now().Sub(t.IssuedAt) > g.ttl {
		if err := g.repo.DeleteActionToken(ctx, userID, kind); err != nil {
			return fmt.Errorf("delete expired token: %w", err)
		}
		return ErrExpired
	}

	if err := g.repo.DeleteActionToken(ctx, userID, kind); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	return nil
}

func newTokenValue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
