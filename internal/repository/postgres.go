// Package repository содержит реализацию доступа к данным в PostgreSQL.
//
// Хранилище используется как набор независимых точечных операций: каждая
// операция — ровно один SQL-запрос (выборка по фильтру, вставка, патч полей,
// удаление по фильтру). Транзакции, блокировки строк и атомарные инкременты
// не используются: слой политики выше рассчитан на хранилище без таких
// гарантий, и остаточные гонки read-compute-write описаны на его уровне.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/adwheel/adwheel-backend/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var ErrUserNotFound = errors.New("user not found")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Транзакций нет, поэтому ретраим только проблемы соединения.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.ConnectionException || pgErr.Code == pgerrcode.ConnectionFailure {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT id, balance, ads_watched_today, spins_today, last_activity, referred_by, is_banned, created_at
			 FROM users WHERE id = $1`,
			userID,
		)
		return row.Scan(&u.ID, &u.Balance, &u.AdsWatchedToday, &u.SpinsToday,
			&u.LastActivity, &u.ReferredBy, &u.IsBanned, &u.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateUser создаёт пользователя с нулевым балансом и счётчиками.
// Повторный вызов для существующего идентификатора ничего не меняет;
// возвращается признак того, что запись была создана этим вызовом.
func (r *PostgresRepository) CreateUser(ctx context.Context, userID int64, referredBy *int64) (bool, error) {
	var inserted bool
	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, referred_by) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			userID, referredBy,
		)
		if err != nil {
			return err
		}
		inserted = cmdTag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}
	return inserted, nil
}

// UserPatch описывает частичное обновление записи пользователя.
// Обновляются только ненулевые поля; значения записываются как есть,
// арифметика выполняется вызывающей стороной до записи.
type UserPatch struct {
	Balance         *int64
	AdsWatchedToday *int
	SpinsToday      *int
	LastActivity    *time.Time
}

// UpdateUser применяет частичное обновление к записи пользователя одним запросом.
func (r *PostgresRepository) UpdateUser(ctx context.Context, userID int64, patch UserPatch) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	args = append(args, userID)

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Balance != nil {
		addSet("balance", *patch.Balance)
	}
	if patch.AdsWatchedToday != nil {
		addSet("ads_watched_today", *patch.AdsWatchedToday)
	}
	if patch.SpinsToday != nil {
		addSet("spins_today", *patch.SpinsToday)
	}
	if patch.LastActivity != nil {
		addSet("last_activity", *patch.LastActivity)
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $1`, strings.Join(sets, ", "))

	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// GetActionToken возвращает токен пользователя для указанного действия.
func (r *PostgresRepository) GetActionToken(ctx context.Context, userID int64, kind model.ActionKind) (*model.ActionToken, error) {
	var t model.ActionToken
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT user_id, kind, value, issued_at FROM action_tokens WHERE user_id = $1 AND kind = $2`,
			userID, string(kind),
		)
		return row.Scan(&t.UserID, &t.Kind, &t.Value, &t.IssuedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get action token: %w", err)
	}
	return &t, nil
}

// GetActionTokenByValue возвращает токен по точному совпадению (пользователь, действие, значение).
func (r *PostgresRepository) GetActionTokenByValue(ctx context.Context, userID int64, kind model.ActionKind, value string) (*model.ActionToken, error) {
	var t model.ActionToken
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT user_id, kind, value, issued_at FROM action_tokens
			 WHERE user_id = $1 AND kind = $2 AND value = $3`,
			userID, string(kind), value,
		)
		return row.Scan(&t.UserID, &t.Kind, &t.Value, &t.IssuedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get action token by value: %w", err)
	}
	return &t, nil
}

// InsertActionToken сохраняет новый токен действия.
func (r *PostgresRepository) InsertActionToken(ctx context.Context, token model.ActionToken) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO action_tokens (user_id, kind, value, issued_at) VALUES ($1, $2, $3, $4)`,
			token.UserID, string(token.Kind), token.Value, token.IssuedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert action token: %w", err)
	}
	return nil
}

// DeleteActionToken удаляет токен пользователя для указанного действия.
func (r *PostgresRepository) DeleteActionToken(ctx context.Context, userID int64, kind model.ActionKind) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`DELETE FROM action_tokens WHERE user_id = $1 AND kind = $2`,
			userID, string(kind),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete action token: %w", err)
	}
	return nil
}

// DeleteExpiredActionTokens удаляет токены, выданные раньше указанного момента.
// Возвращает количество удалённых записей.
func (r *PostgresRepository) DeleteExpiredActionTokens(ctx context.Context, issuedBefore time.Time) (int64, error) {
	var deleted int64
	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`DELETE FROM action_tokens WHERE issued_at < $1`,
			issuedBefore,
		)
		if err != nil {
			return err
		}
		deleted = cmdTag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired action tokens: %w", err)
	}
	return deleted, nil
}

// CreateWithdrawal сохраняет заявку на вывод средств.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w model.Withdrawal) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO withdrawals (id, user_id, amount, destination, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID, w.UserID, w.Amount, w.Destination, string(w.Status), w.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// GetWithdrawalsByUser возвращает историю заявок пользователя на вывод средств.
func (r *PostgresRepository) GetWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, destination, status, created_at
		 FROM withdrawals
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		var (
			w      model.Withdrawal
			status string
		)
		if err := rows.Scan(&w.ID, &w.UserID, &w.Amount, &w.Destination, &status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		w.Status = model.WithdrawalStatus(status)
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateCommission сохраняет запись о начисленной реферальной комиссии.
func (r *PostgresRepository) CreateCommission(ctx context.Context, c model.Commission) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO commission_history (referrer_id, referee_id, amount, source_amount, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ReferrerID, c.RefereeID, c.Amount, c.SourceAmount, c.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}
	return nil
}

// CreateSpinResult сохраняет запись о выпавшем призе колеса.
func (r *PostgresRepository) CreateSpinResult(ctx context.Context, s model.SpinResult) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO spin_results (user_id, prize, sector, created_at) VALUES ($1, $2, $3, $4)`,
			s.UserID, s.Prize, s.Sector, s.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert spin result: %w", err)
	}
	return nil
}
