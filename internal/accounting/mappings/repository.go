package mappings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
	Upsert(ctx context.Context, mapping AccountMapping) error
	List(ctx context.Context) ([]AccountMapping, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, fmt.Errorf("%w: module and key required", accounting.ErrInvalidInput)
	}
	var mapping AccountMapping
	err := r.db.QueryRow(ctx, `SELECT module, key, account_code, created_at, updated_at FROM account_mappings WHERE module=$1 AND key=$2`, normalize(module), key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountCode, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, fmt.Errorf("%w: %s/%s", accounting.ErrMappingNotFound, module, key)
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

func (r *repository) Upsert(ctx context.Context, m AccountMapping) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_mappings (module, key, account_code) VALUES ($1,$2,$3)
ON CONFLICT (module, key) DO UPDATE SET account_code=EXCLUDED.account_code, updated_at=NOW()`, normalize(m.Module), m.Key, m.AccountCode)
	return err
}

func (r *repository) List(ctx context.Context) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT module, key, account_code, created_at, updated_at FROM account_mappings ORDER BY module, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.Module, &m.Key, &m.AccountCode, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type memoryRepository struct {
	mu    sync.RWMutex
	items map[string]AccountMapping
	now   func() time.Time
}

// NewMemoryRepository keeps mappings in process memory.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[string]AccountMapping), now: time.Now}
}

func (r *memoryRepository) Get(_ context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, fmt.Errorf("%w: module and key required", accounting.ErrInvalidInput)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[normalize(module)+"|"+key]
	if !ok {
		return AccountMapping{}, fmt.Errorf("%w: %s/%s", accounting.ErrMappingNotFound, module, key)
	}
	return m, nil
}

func (r *memoryRepository) Upsert(_ context.Context, m AccountMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.Module = normalize(m.Module)
	k := m.Module + "|" + m.Key
	now := r.now()
	if cur, ok := r.items[k]; ok {
		m.CreatedAt = cur.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.items[k] = m
	return nil
}

func (r *memoryRepository) List(context.Context) ([]AccountMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AccountMapping, 0, len(r.items))
	for _, m := range r.items {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func normalize(module string) string {
	return strings.ToUpper(strings.TrimSpace(module))
}
