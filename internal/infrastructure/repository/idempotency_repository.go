package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
)

const (
	uniqueViolationCode  = "23505"
	lockNotAvailableCode = "55P03"
)

// idempotencyRepository stores idempotency records in Postgres. A claim is
// an uncommitted row insert: a competing insert for the same key waits on
// the primary key until the first transaction commits or rolls back.
type idempotencyRepository struct {
	db  *gorm.DB
	cfg storeConfig
}

// NewIdempotencyRepository creates a new Postgres-backed idempotency store
func NewIdempotencyRepository(db *gorm.DB, opts ...StoreOption) domainRepo.ExpiringIdempotencyStore {
	return &idempotencyRepository{db: db, cfg: newStoreConfig(opts)}
}

func (r *idempotencyRepository) IsSupported(req *http.Request) bool {
	return r.cfg.policy.Supports(req)
}

func (r *idempotencyRepository) GetResponseFromCache(ctx context.Context, key string) (*entity.CachedResponse, error) {
	var rec entity.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("key = ? AND completed_at IS NOT NULL AND expires_at > ?", key, r.cfg.now()).
		First(&rec).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec.Response(), nil
}

func (r *idempotencyRepository) BeginRequest(ctx context.Context, key, fingerprint string) (domainRepo.Transaction, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin idempotency transaction: %w", tx.Error)
	}

	fail := func(err error) (domainRepo.Transaction, error) {
		tx.Rollback()
		if isPgError(err, uniqueViolationCode, lockNotAvailableCode) {
			return nil, ErrConcurrentRequest()
		}
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}

	if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.cfg.lockTimeout.Milliseconds())).Error; err != nil {
		return fail(err)
	}

	now := r.cfg.now()
	// An expired record no longer owns the key.
	if err := tx.Where("key = ? AND expires_at <= ?", key, now).Delete(&entity.IdempotencyRecord{}).Error; err != nil {
		return fail(err)
	}

	rec := &entity.IdempotencyRecord{
		Key:                key,
		RequestFingerprint: fingerprint,
		CreatedAt:          now,
		ExpiresAt:          now.Add(r.cfg.ttl),
	}
	if err := tx.Create(rec).Error; err != nil {
		return fail(err)
	}

	return &gormTransaction{repo: r, tx: tx, record: rec}, nil
}

func (r *idempotencyRepository) CompleteRequest(ctx context.Context, key string, resp *entity.CachedResponse, tx domainRepo.Transaction) error {
	gtx, ok := tx.(*gormTransaction)
	if !ok || gtx.repo != r || gtx.record.Key != key {
		return errForeignTransaction
	}
	if gtx.released {
		return errTransactionReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := r.cfg.now()
	gtx.record.SetResponse(resp)
	gtx.record.CompletedAt = &now
	gtx.record.ExpiresAt = now.Add(r.cfg.ttl)

	if err := gtx.tx.Save(gtx.record).Error; err != nil {
		return fmt.Errorf("save idempotency response: %w", err)
	}
	if err := gtx.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit idempotency response: %w", err)
	}
	gtx.released = true
	return nil
}

// DeleteExpired removes expired idempotency records
func (r *idempotencyRepository) DeleteExpired(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("expires_at <= ?", r.cfg.now()).
		Delete(&entity.IdempotencyRecord{}).Error
}

type gormTransaction struct {
	repo     *idempotencyRepository
	tx       *gorm.DB
	record   *entity.IdempotencyRecord
	released bool
}

func (t *gormTransaction) Dispose() error {
	if t.released {
		return nil
	}
	t.released = true
	// A cancelled request context already rolled the transaction back.
	if err := t.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback idempotency transaction: %w", err)
	}
	return nil
}

func isPgError(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, code := range codes {
		if pgErr.Code == code {
			return true
		}
	}
	return false
}
