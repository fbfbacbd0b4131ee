// Package quota реализует суточные лимиты и ограничение частоты действий.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adwheel/adwheel-backend/internal/model"
	"github.com/adwheel/adwheel-backend/internal/repository"
)

const dailyWindow = 24 * time.Hour

// RateLimitError возвращается, когда действие выполняется чаще допустимого интервала.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// DailyLimitError возвращается при достижении суточного лимита действий.
type DailyLimitError struct {
	What  string
	Limit int
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("Daily %s limit (%d) reached", e.What, e.Limit)
}

// Limits содержит параметры политики лимитов.
type Limits struct {
	DailyMaxAds       int
	DailyMaxSpins     int
	MinActionInterval time.Duration
}

// UserPatcher описывает операцию хранилища, нужную для ленивого сброса счётчиков.
type UserPatcher interface {
	UpdateUser(ctx context.Context, userID int64, patch repository.UserPatch) error
}

// Policy проверяет суточные лимиты и минимальный интервал между действиями.
type Policy struct {
	repo   UserPatcher
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewPolicy создаёт политику лимитов с указанными параметрами.
func NewPolicy(repo UserPatcher, limits Limits, logger *zap.Logger) *Policy {
	return &Policy{
		repo:   repo,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Allow проверяет, может ли пользователь выполнить действие kind прямо сейчас.
//
// Перед проверками выполняется ленивый сброс суточных счётчиков: если с
// момента последней активности прошло больше суток, ненулевые счётчики
// обнуляются одним патчем. Сброс выполняется ровно один раз независимо от
// длительности простоя; last_activity сбросом не изменяется. Ошибка записи
// патча не блокирует действие: счётчики обнуляются в памяти, а сбой
// логируется — доступность здесь важнее строгости.
//
// При успехе счётчик и last_activity НЕ изменяются: вызывающая сторона
// обязана записать их тем же патчем, которым начисляется вознаграждение.
func (p *Policy) Allow(ctx context.Context, user *model.User, kind model.ActionKind) error {
	now := p.now()

	if user.LastActivity != nil && now.Sub(*user.LastActivity) > dailyWindow {
		p.resetDailyCounters(ctx, user)
	}

	if user.LastActivity != nil {
		elapsed := now.Sub(*user.LastActivity)
		if elapsed < p.limits.MinActionInterval {
			return &RateLimitError{RetryAfter: p.limits.MinActionInterval - elapsed}
		}
	}

	switch kind {
	case model.ActionWatchAd:
		if user.AdsWatchedToday >= p.limits.DailyMaxAds {
			return &DailyLimitError{What: "ad", Limit: p.limits.DailyMaxAds}
		}
	case model.ActionSpin:
		if user.SpinsToday >= p.limits.DailyMaxSpins {
			return &DailyLimitError{What: "spin", Limit: p.limits.DailyMaxSpins}
		}
	}

	return nil
}

func (p *Policy) resetDailyCounters(ctx context.Context, user *model.User) {
	if user.AdsWatchedToday == 0 && user.SpinsToday == 0 {
		return
	}

	zero := 0
	err := p.repo.UpdateUser(ctx, user.ID, repository.UserPatch{
		AdsWatchedToday: &zero,
		SpinsToday:      &zero,
	})
	if err != nil {
		p.logger.Warn("daily counters reset not persisted",
			zap.Int64("userID", user.ID), zap.Error(err))
	}

	user.AdsWatchedToday = 0
	user.SpinsToday = 0
}
