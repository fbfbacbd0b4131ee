// Package handler содержит HTTP-диспетчер действий сервиса adwheel.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/adwheel/adwheel-backend/internal/model"
	"github.com/adwheel/adwheel-backend/internal/quota"
	"github.com/adwheel/adwheel-backend/internal/repository"
	"github.com/adwheel/adwheel-backend/internal/service"
	"github.com/adwheel/adwheel-backend/internal/token"
)

// Service определяет контракт бизнес-логики, используемой диспетчером.
type Service interface {
	Register(ctx context.Context, userID int64, referredBy *int64) error
	IssueActionToken(ctx context.Context, userID int64, kind model.ActionKind) (string, error)
	WatchAd(ctx context.Context, userID int64, tokenValue string) (*service.WatchAdResult, error)
	SpinStart(ctx context.Context, userID int64, tokenValue string) (*service.SpinStartResult, error)
	SpinResult(ctx context.Context, userID int64, tokenValue string) (*service.SpinResultOutcome, error)
	Commission(ctx context.Context, referrerID, refereeID, sourceAmount int64) error
	Withdraw(ctx context.Context, userID int64, tokenValue string, amount int64, destination string) (*service.WithdrawResult, error)
	Withdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error)
}

// Authenticator проверяет подписанные сессионные данные запроса.
type Authenticator interface {
	Validate(payload string) error
}

// Handler реализует единую точку входа для всех действий системы вознаграждений.
type Handler struct {
	service  Service
	auth     Authenticator
	logger   *zap.Logger
	tokenTTL time.Duration
}

// NewHandler создаёт новый экземпляр диспетчера действий.
func NewHandler(s Service, a Authenticator, logger *zap.Logger, tokenTTL time.Duration) *Handler {
	return &Handler{
		service:  s,
		auth:     a,
		logger:   logger,
		tokenTTL: tokenTTL,
	}
}

type actionRequest struct {
	Type       string `json:"type"`
	InitData   string `json:"initData"`
	UserID     int64  `json:"user_id"`
	Action     string `json:"action"`
	ActionID   string `json:"action_id"`
	Amount     int64  `json:"amount"`
	BinanceID  string `json:"binanceId"`
	ReferrerID int64  `json:"referrer_id"`
	RefereeID  int64  `json:"referee_id"`
	ReferredBy *int64 `json:"referred_by"`
}

type response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{OK: false, Error: message})
}

// Action обрабатывает входящий запрос действия и направляет его нужному обработчику.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := model.ActionKind(req.Type)

	// Комиссия инициируется сервером, подписанных сессионных данных у неё нет.
	if kind != model.ActionCommission {
		if err := h.auth.Validate(req.InitData); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if req.UserID <= 0 {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
	}

	switch kind {
	case model.ActionRegister:
		h.register(w, r, &req)
	case model.ActionGetToken:
		h.issueToken(w, r, &req)
	case model.ActionWatchAd:
		h.watchAd(w, r, &req)
	case model.ActionSpin:
		h.spinStart(w, r, &req)
	case model.ActionSpinResult:
		h.spinResult(w, r, &req)
	case model.ActionCommission:
		h.commission(w, r, &req)
	case model.ActionWithdraw:
		h.withdraw(w, r, &req)
	case "withdrawals":
		h.withdrawals(w, r, &req)
	default:
		writeError(w, http.StatusBadRequest, "unknown action type")
	}
}

type registerResponse struct {
	UserID int64 `json:"user_id"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	if err := h.service.Register(r.Context(), req.UserID, req.ReferredBy); err != nil {
		h.writeActionError(w, req, err)
		return
	}
	writeOK(w, registerResponse{UserID: req.UserID})
}

type tokenResponse struct {
	ActionID  string `json:"action_id"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	value, err := h.service.IssueActionToken(r.Context(), req.UserID, model.ActionKind(req.Action))
	if err != nil {
		h.writeActionError(w, req, err)
		return
	}
	writeOK(w, tokenResponse{
		ActionID:  value,
		ExpiresIn: int64(h.tokenTTL.Seconds()),
	})
}

type watchAdResponse struct {
	NewBalance   int64 `json:"new_balance"`
	ActualReward int64 `json:"actual_reward"`
	NewAdsCount  int   `json:"new_ads_count"`
}

func (h *Handler) watchAd(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	res, err := h.service.WatchAd(r.Context(), req.UserID, req.ActionID)
	if err != nil {
		h.writeActionError(w, req, err)
		return
	}
	writeOK(w, watchAdResponse{
		NewBalance:   res.NewBalance,
		ActualReward: res.Reward,
		NewAdsCount:  res.AdsToday,
	})
}

type spinStartResponse struct {
	NewSpinsCount int `json:"new_spins_count"`
}

func (h *Handler) spinStart(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	res, err := h.service.SpinStart(r.Context(), req.UserID, req.ActionID)
	if err != nil {
		h.writeActionError(w, req, err)
		return
	}
	writeOK(w, spinStartResponse{NewSpinsCount: res.SpinsToday})
}

type spinResultResponse struct {
	Prize      int64 `json:"prize"`
	Sector     int   `json:"sector"`
	NewBalance int64 `json:"new_balance"`
}

func (h *Handler) spinResult(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	res, err := h.service.SpinResult(r.Context(), req.UserID, req.ActionID)
	if err != nil {
		h.writeActionError(w, req, err)
		return
	}
	writeOK(w, spinResultResponse{
		Prize:      res.Prize,
		Sector:     res.Sector,
		NewBalance: res.NewBalance,
	})
}

func (h *Handler) commission(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	if req.ReferrerID <= 0 || req.RefereeID <= 0 {
		writeError(w, http.StatusBadRequest, "referrer_id and referee_id are required")
		return
	}

	// Комиссия всегда подтверждается: сбой начисления логируется,
	// но не блокирует источник вознаграждения.
	if err := h.service.Commission(r.Context(), req.ReferrerID, req.RefereeID, req.Amount); err != nil {
		h.logger.Error("commission error", zap.Error(err),
			zap.Int64("referrerID", req.ReferrerID), zap.Int64("refereeID", req.RefereeID))
	}
	writeOK(w, nil)
}

type withdrawResponse struct {
	NewBalance int64  `json:"new_balance"`
	RequestID  string `json:"request_id"`
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	res, err := h.service.Withdraw(r.Context(), req.UserID, req.ActionID, req.Amount, req.BinanceID)
	if err != nil {
		h.writeActionError(w, req, err)
		return
	}
	writeOK(w, withdrawResponse{
		NewBalance: res.NewBalance,
		RequestID:  res.RequestID,
	})
}

type withdrawalResponse struct {
	RequestID   string `json:"request_id"`
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func (h *Handler) withdrawals(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	list, err := h.service.Withdrawals(r.Context(), req.UserID)
	if err != nil {
		h.writeActionError(w, req, err)
		return
	}

	resp := make([]withdrawalResponse, 0, len(list))
	for _, wd := range list {
		resp = append(resp, withdrawalResponse{
			RequestID:   wd.ID,
			Amount:      wd.Amount,
			Destination: wd.Destination,
			Status:      string(wd.Status),
			CreatedAt:   wd.CreatedAt.Format(time.RFC3339),
		})
	}
	writeOK(w, resp)
}

func (h *Handler) writeActionError(w http.ResponseWriter, req *actionRequest, err error) {
	var rateErr *quota.RateLimitError
	var dailyErr *quota.DailyLimitError

	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBanned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusRequestTimeout, err.Error())
	case errors.Is(err, token.ErrInvalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rateErr):
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &dailyErr):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrAmountTooSmall),
		errors.Is(err, service.ErrBadDestination),
		errors.Is(err, service.ErrUnknownTokenKind):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("action error", zap.Error(err),
			zap.String("type", req.Type), zap.Int64("userID", req.UserID))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
