// Package model содержит доменные сущности сервиса adwheel.
package model

import "time"

// ActionKind описывает тип действия пользователя в системе вознаграждений.
type ActionKind string

const (
	ActionRegister   ActionKind = "register"
	ActionWatchAd    ActionKind = "watch_ad"
	ActionSpin       ActionKind = "spin"
	ActionSpinResult ActionKind = "spin_result"
	ActionCommission ActionKind = "commission"
	ActionWithdraw   ActionKind = "withdraw"
	// ActionGetToken запрашивает одноразовый токен для одного из защищаемых действий.
	ActionGetToken ActionKind = "get_action_token"
)

// TokenKinds перечисляет действия, которые защищаются одноразовыми токенами.
var TokenKinds = []ActionKind{ActionWatchAd, ActionSpin, ActionSpinResult, ActionWithdraw}

// IsTokenKind сообщает, требует ли действие одноразовый токен.
func IsTokenKind(kind ActionKind) bool {
	for _, k := range TokenKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// User представляет участника системы вознаграждений.
// Баланс хранится в минимальных единицах вознаграждения и не бывает отрицательным.
type User struct {
	ID              int64
	Balance         int64
	AdsWatchedToday int
	SpinsToday      int
	LastActivity    *time.Time
	ReferredBy      *int64
	IsBanned        bool
	CreatedAt       time.Time
}

// ActionToken описывает одноразовый токен, выданный пользователю на одно действие.
type ActionToken struct {
	UserID   int64
	Kind     ActionKind
	Value    string
	IssuedAt time.Time
}

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// Withdrawal описывает заявку пользователя на вывод средств.
// Статусы за пределами pending выставляются вручную вне этого сервиса.
type Withdrawal struct {
	ID          string
	UserID      int64
	Amount      int64
	Destination string
	Status      WithdrawalStatus
	CreatedAt   time.Time
}

// Commission описывает начисление реферальной комиссии. Запись только добавляется.
type Commission struct {
	ReferrerID   int64
	RefereeID    int64
	Amount       int64
	SourceAmount int64
	CreatedAt    time.Time
}

// SpinResult описывает выпавший приз колеса. Запись только добавляется.
type SpinResult struct {
	UserID    int64
	Prize     int64
	Sector    int
	CreatedAt time.Time
}
