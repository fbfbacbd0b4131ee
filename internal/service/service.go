// Package service реализует бизнес-логику действий системы вознаграждений.
//
// Каждое действие — линейный конвейер с ранними выходами: погашение токена,
// загрузка пользователя, проверка лимитов, вычисление нового состояния,
// запись. Обработчики не делят состояние в памяти; всё долговременное
// состояние живёт в хранилище. Хранилище не даёт транзакций, поэтому
// чтение баланса, вычисление и запись — отдельные запросы: два одновременных
// начисления одному пользователю могут потерять одно из них. Ограничение
// частоты действий делает такую гонку редкой, но не исключает её; частичное
// завершение (баланс записан, аудит не записан) не откатывается.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/adwheel/adwheel-backend/internal/config"
	"github.com/adwheel/adwheel-backend/internal/model"
	"github.com/adwheel/adwheel-backend/internal/quota"
	"github.com/adwheel/adwheel-backend/internal/repository"
	"github.com/adwheel/adwheel-backend/internal/token"
	"github.com/adwheel/adwheel-backend/internal/validation"
)

var (
	// ErrBanned возвращается при попытке действия заблокированным пользователем.
	ErrBanned = errors.New("user is banned")
	// ErrInsufficientBalance возвращается при попытке вывести больше текущего баланса.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAmountTooSmall возвращается, если сумма вывода меньше минимальной.
	ErrAmountTooSmall = errors.New("withdrawal amount below minimum")
	// ErrBadDestination возвращается при некорректном идентификаторе счёта для вывода.
	ErrBadDestination = errors.New("invalid destination account id")
	// ErrUnknownTokenKind возвращается при запросе токена для действия, которое им не защищается.
	ErrUnknownTokenKind = errors.New("unknown action kind for token")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetUserByID(ctx context.Context, userID int64) (*model.User, error)
	CreateUser(ctx context.Context, userID int64, referredBy *int64) (bool, error)
	UpdateUser(ctx context.Context, userID int64, patch repository.UserPatch) error
	CreateWithdrawal(ctx context.Context, w model.Withdrawal) error
	GetWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	CreateCommission(ctx context.Context, c model.Commission) error
	CreateSpinResult(ctx context.Context, s model.SpinResult) error
	DeleteExpiredActionTokens(ctx context.Context, issuedBefore time.Time) (int64, error)
}

// Service содержит бизнес-логику действий системы вознаграждений.
type Service struct {
	repo    Repository
	guard   *token.Guard
	policy  *quota.Policy
	rewards config.Rewards
	sectors []int64
	now     func() time.Time
}

// NewService создаёт сервис с указанным репозиторием, защитой от повторов и политикой лимитов.
func NewService(repo Repository, guard *token.Guard, policy *quota.Policy, rewards config.Rewards) *Service {
	return &Service{
		repo:    repo,
		guard:   guard,
		policy:  policy,
		rewards: rewards,
		sectors: config.WheelSectors(),
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Register регистрирует пользователя с нулевым балансом и счётчиками.
// Повторная регистрация существующего пользователя — успешный no-op;
// заблокированный существующий пользователь отклоняется.
func (s *Service) Register(ctx context.Context, userID int64, referredBy *int64) error {
	inserted, err := s.repo.CreateUser(ctx, userID, referredBy)
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsBanned {
		return ErrBanned
	}
	return nil
}

// IssueActionToken выдаёт одноразовый токен для указанного действия.
func (s *Service) IssueActionToken(ctx context.Context, userID int64, kind model.ActionKind) (string, error) {
	if !model.IsTokenKind(kind) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTokenKind, kind)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.IsBanned {
		return "", ErrBanned
	}

	return s.guard.Issue(ctx, userID, kind)
}

// WatchAdResult описывает результат начисления за просмотр рекламы.
type WatchAdResult struct {
	NewBalance int64
	Reward     int64
	AdsToday   int
}

// WatchAd начисляет вознаграждение за просмотр рекламы.
func (s *Service) WatchAd(ctx context.Context, userID int64, tokenValue string) (*WatchAdResult, error) {
	if err := s.guard.Consume(ctx, userID, model.ActionWatchAd, tokenValue); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrBanned
	}

	if err := s.policy.Allow(ctx, user, model.ActionWatchAd); err != nil {
		return nil, err
	}

	newBalance := user.Balance + s.rewards.AdReward
	newAds := user.AdsWatchedToday + 1
	now := s.now()

	err = s.repo.UpdateUser(ctx, userID, repository.UserPatch{
		Balance:         &newBalance,
		AdsWatchedToday: &newAds,
		LastActivity:    &now,
	})
	if err != nil {
		return nil, err
	}

	return &WatchAdResult{
		NewBalance: newBalance,
		Reward:     s.rewards.AdReward,
		AdsToday:   newAds,
	}, nil
}

// SpinStartResult описывает результат начала вращения колеса.
type SpinStartResult struct {
	SpinsToday int
}

// SpinStart регистрирует начало вращения колеса и расходует суточную попытку.
func (s *Service) SpinStart(ctx context.Context, userID int64, tokenValue string) (*SpinStartResult, error) {
	if err := s.guard.Consume(ctx, userID, model.ActionSpin, tokenValue); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrBanned
	}

	if err := s.policy.Allow(ctx, user, model.ActionSpin); err != nil {
		return nil, err
	}

	newSpins := user.SpinsToday + 1
	now := s.now()

	err = s.repo.UpdateUser(ctx, userID, repository.UserPatch{
		SpinsToday:   &newSpins,
		LastActivity: &now,
	})
	if err != nil {
		return nil, err
	}

	return &SpinStartResult{SpinsToday: newSpins}, nil
}

// SpinResultOutcome описывает выпавший приз и новый баланс.
type SpinResultOutcome struct {
	Prize      int64
	Sector     int
	NewBalance int64
}

// SpinResult разыгрывает приз колеса и начисляет его пользователю.
// Сектор выбирается сервером равновероятно из фиксированной таблицы;
// ожидаемое клиентом значение никогда не принимается на веру.
func (s *Service) SpinResult(ctx context.Context, userID int64, tokenValue string) (*SpinResultOutcome, error) {
	if err := s.guard.Consume(ctx, userID, model.ActionSpinResult, tokenValue); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrBanned
	}

	sector, err := s.drawSector()
	if err != nil {
		return nil, err
	}
	prize := s.sectors[sector]

	newBalance := user.Balance + prize
	now := s.now()

	err = s.repo.UpdateUser(ctx, userID, repository.UserPatch{
		Balance:      &newBalance,
		LastActivity: &now,
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.CreateSpinResult(ctx, model.SpinResult{
		UserID:    userID,
		Prize:     prize,
		Sector:    sector,
		CreatedAt: now,
	})
	if err != nil {
		// Баланс уже записан; отката нет, сбой аудита отдаём наверх.
		return nil, err
	}

	return &SpinResultOutcome{
		Prize:      prize,
		Sector:     sector,
		NewBalance: newBalance,
	}, nil
}

func (s *Service) drawSector() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(s.sectors))))
	if err != nil {
		return 0, fmt.Errorf("draw sector: %w", err)
	}
	return int(n.Int64()), nil
}

// Commission начисляет реферальную комиссию с указанного вознаграждения.
// Отсутствующий или заблокированный реферер — не ошибка: начисление просто
// не выполняется, вызывающая сторона всегда получает подтверждение.
func (s *Service) Commission(ctx context.Context, referrerID, refereeID, sourceAmount int64) error {
	if sourceAmount <= 0 {
		return nil
	}

	referrer, err := s.repo.GetUserByID(ctx, referrerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if referrer.IsBanned {
		return nil
	}

	amount := int64(float64(sourceAmount) * s.rewards.CommissionRate)
	if amount <= 0 {
		return nil
	}

	newBalance := referrer.Balance + amount
	err = s.repo.UpdateUser(ctx, referrerID, repository.UserPatch{
		Balance: &newBalance,
	})
	if err != nil {
		return err
	}

	return s.repo.CreateCommission(ctx, model.Commission{
		ReferrerID:   referrerID,
		RefereeID:    refereeID,
		Amount:       amount,
		SourceAmount: sourceAmount,
		CreatedAt:    s.now(),
	})
}

// WithdrawResult описывает результат создания заявки на вывод средств.
type WithdrawResult struct {
	NewBalance int64
	RequestID  string
}

// Withdraw списывает сумму с баланса и создаёт заявку на вывод в статусе pending.
func (s *Service) Withdraw(ctx context.Context, userID int64, tokenValue string, amount int64, destination string) (*WithdrawResult, error) {
	if err := s.guard.Consume(ctx, userID, model.ActionWithdraw, tokenValue); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrBanned
	}

	if !validation.IsValidDestinationID(destination, s.rewards.MinDestinationLen) {
		return nil, ErrBadDestination
	}
	if amount < s.rewards.MinWithdrawal {
		return nil, fmt.Errorf("%w (%d)", ErrAmountTooSmall, s.rewards.MinWithdrawal)
	}
	if amount > user.Balance {
		return nil, ErrInsufficientBalance
	}

	newBalance := user.Balance - amount
	now := s.now()

	err = s.repo.UpdateUser(ctx, userID, repository.UserPatch{
		Balance:      &newBalance,
		LastActivity: &now,
	})
	if err != nil {
		return nil, err
	}

	w := model.Withdrawal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Destination: destination,
		Status:      model.WithdrawalStatusPending,
		CreatedAt:   now,
	}
	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		// Баланс уже списан; заявка не записана — частичное завершение.
		return nil, err
	}

	return &WithdrawResult{
		NewBalance: newBalance,
		RequestID:  w.ID,
	}, nil
}

// Withdrawals возвращает историю заявок пользователя на вывод средств.
func (s *Service) Withdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return s.repo.GetWithdrawalsByUser(ctx, userID)
}

// StartTokenCleanup запускает фоновую чистку просроченных токенов действий.
func (s *Service) StartTokenCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.repo.DeleteExpiredActionTokens(ctx, s.now().Add(-s.rewards.TokenTTL))
			}
		}
	}()
}
