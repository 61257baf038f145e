package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// chartLockID serialises structural chart mutations (create, reparent, retire)
// so that concurrent reparents cannot close a cycle between them.
var chartLockID = uuid.Nil

// Service maintains the chart of accounts.
type Service struct {
	repo   accounting.RepositoryPort
	audit  accounting.AuditPort
	logger *slog.Logger
	cache  *gocache.Cache
	now    func() time.Time
}

// NewService constructs the chart of accounts service. cacheTTL bounds how long
// Resolve may serve an account snapshot; zero disables caching.
func NewService(repo accounting.RepositoryPort, audit accounting.AuditPort, logger *slog.Logger, cacheTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
	if cacheTTL > 0 {
		s.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create adds an account to the chart.
func (s *Service) Create(ctx context.Context, in accounting.CreateAccountInput) (accounting.Account, error) {
	if err := in.Validate(); err != nil {
		return accounting.Account{}, err
	}
	var created accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.LockAccounts(ctx, []uuid.UUID{chartLockID}, accounting.LockExclusive); err != nil {
			return err
		}
		var err error
		created, err = s.insert(ctx, tx, in)
		return err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	s.invalidate()
	s.record(ctx, in.ActorID, "account.create", created, map[string]any{"type": created.Type, "level": created.Level, "parent_code": created.ParentCode})
	return created, nil
}

func (s *Service) insert(ctx context.Context, tx accounting.TxRepository, in accounting.CreateAccountInput) (accounting.Account, error) {
	now := accounting.NormalizeInstant(s.now())
	account := accounting.Account{
		ID:         uuid.New(),
		Group:      in.Group,
		Code:       strings.TrimSpace(in.Code),
		Type:       in.Type,
		Position:   in.Position,
		SubType:    in.SubType,
		Level:      in.Level,
		Name:       strings.TrimSpace(in.Name),
		IsBankCash: in.IsBankCash,
		Status:     accounting.AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Currency != "" {
		currency := in.Currency
		account.Currency = &currency
	}
	if code := strings.TrimSpace(in.ParentCode); code != "" {
		parent, err := resolveParent(ctx, tx, code)
		if err != nil {
			return accounting.Account{}, err
		}
		account.ParentID = &parent.ID
		account.ParentCode = parent.Code
	}
	if err := tx.InsertAccount(ctx, account); err != nil {
		return accounting.Account{}, err
	}
	return account, nil
}

func resolveParent(ctx context.Context, tx accounting.TxRepository, code string) (accounting.Account, error) {
	parent, err := tx.GetAccountByCode(ctx, code)
	if err != nil {
		if errors.Is(err, accounting.ErrAccountNotFound) {
			return accounting.Account{}, fmt.Errorf("%w: %s does not resolve", accounting.ErrInvalidParent, code)
		}
		return accounting.Account{}, err
	}
	if err := checkParent(parent); err != nil {
		return accounting.Account{}, err
	}
	return parent, nil
}

// checkParent accepts live, active header accounts. An inactive header cannot
// take active children, the mirror of the Deactivate rule.
func checkParent(parent accounting.Account) error {
	if parent.Level != accounting.AccountLevelHeader {
		return fmt.Errorf("%w: %s is not a header account", accounting.ErrInvalidParent, parent.Code)
	}
	if parent.Status != accounting.AccountStatusActive || parent.IsDeleted() {
		return fmt.Errorf("%w: %s is %s", accounting.ErrInvalidParent, parent.Code, parent.Status)
	}
	return nil
}

// Resolve returns the live account for code. Mutations through this Service
// flush the cache at once; mutations from other processes show up once the
// entry expires, so a result may be up to cacheTTL old.
func (s *Service) Resolve(ctx context.Context, code string) (accounting.Account, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(code); ok {
			return cached.(accounting.Account), nil
		}
	}
	var account accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code)
		return err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	if s.cache != nil {
		s.cache.SetDefault(code, account)
	}
	return account, nil
}

// IsPostable reports whether the account may receive journal entries.
func IsPostable(account accounting.Account) bool {
	return account.IsPostable()
}

// List returns the chart ordered by code.
func (s *Service) List(ctx context.Context, includeDeleted bool) ([]accounting.Account, error) {
	var out []accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		out, err = tx.ListAccounts(ctx, includeDeleted)
		return err
	})
	return out, err
}

// Snapshot loads the live chart into a Tree.
func (s *Service) Snapshot(ctx context.Context) (*Tree, error) {
	accounts, err := s.List(ctx, false)
	if err != nil {
		return nil, err
	}
	return NewTree(accounts), nil
}

// LoadTree reads the live chart inside an existing transaction.
func LoadTree(ctx context.Context, tx accounting.TxRepository) (*Tree, error) {
	accounts, err := tx.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}
	return NewTree(accounts), nil
}

func (s *Service) withNode(ctx context.Context, code string, fn func(*Tree, accounting.Account) ([]accounting.Account, error)) ([]accounting.Account, error) {
	tree, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	node, ok := tree.ByCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, code)
	}
	return fn(tree, node)
}

// Ancestors returns the root-to-parent chain of code.
func (s *Service) Ancestors(ctx context.Context, code string) ([]accounting.Account, error) {
	return s.withNode(ctx, code, func(t *Tree, a accounting.Account) ([]accounting.Account, error) {
		return t.Ancestors(a.ID)
	})
}

// Children returns the direct children of code.
func (s *Service) Children(ctx context.Context, code string) ([]accounting.Account, error) {
	return s.withNode(ctx, code, func(t *Tree, a accounting.Account) ([]accounting.Account, error) {
		return t.Children(a.ID), nil
	})
}

// Descendants returns every account below code.
func (s *Service) Descendants(ctx context.Context, code string) ([]accounting.Account, error) {
	return s.withNode(ctx, code, func(t *Tree, a accounting.Account) ([]accounting.Account, error) {
		return t.Descendants(a.ID)
	})
}

// Deactivate retires an account without deleting it. A header account cannot
// be retired while an active child still rolls up into it.
func (s *Service) Deactivate(ctx context.Context, code string, actorID int64) (accounting.Account, error) {
	return s.mutate(ctx, code, actorID, "account.deactivate", func(tree *Tree, a *accounting.Account) error {
		if a.Level == accounting.AccountLevelHeader {
			for _, child := range tree.Children(a.ID) {
				if child.Status == accounting.AccountStatusActive {
					return fmt.Errorf("%w: %s has active child %s", accounting.ErrHasActiveChildren, a.Code, child.Code)
				}
			}
		}
		a.Status = accounting.AccountStatusInactive
		return nil
	})
}

// Activate reverses Deactivate. The parent header has to be active first.
func (s *Service) Activate(ctx context.Context, code string, actorID int64) (accounting.Account, error) {
	return s.mutate(ctx, code, actorID, "account.activate", func(tree *Tree, a *accounting.Account) error {
		if a.ParentID != nil {
			parent, ok := tree.ByID(*a.ParentID)
			if !ok {
				return fmt.Errorf("%w: parent of %s does not resolve", accounting.ErrInvalidParent, a.Code)
			}
			if err := checkParent(parent); err != nil {
				return err
			}
		}
		a.Status = accounting.AccountStatusActive
		return nil
	})
}

// Delete tombstones an account. Live children block the delete.
func (s *Service) Delete(ctx context.Context, code string, actorID int64) (accounting.Account, error) {
	return s.mutate(ctx, code, actorID, "account.delete", func(tree *Tree, a *accounting.Account) error {
		if children := tree.Children(a.ID); len(children) > 0 {
			return fmt.Errorf("%w: %s has child %s", accounting.ErrHasActiveChildren, a.Code, children[0].Code)
		}
		at := accounting.NormalizeInstant(s.now())
		a.DeletedAt = &at
		return nil
	})
}

// Reparent moves code under newParentCode, or to the root when it is empty.
func (s *Service) Reparent(ctx context.Context, code, newParentCode string, actorID int64) (accounting.Account, error) {
	return s.mutate(ctx, code, actorID, "account.reparent", func(tree *Tree, a *accounting.Account) error {
		newParentCode = strings.TrimSpace(newParentCode)
		if newParentCode == "" {
			a.ParentID = nil
			a.ParentCode = ""
			return nil
		}
		parent, ok := tree.ByCode(newParentCode)
		if !ok {
			return fmt.Errorf("%w: %s does not resolve", accounting.ErrInvalidParent, newParentCode)
		}
		if parent.ID == a.ID {
			return fmt.Errorf("%w: %s cannot parent itself", accounting.ErrCycleDetected, a.Code)
		}
		chain, err := tree.Ancestors(parent.ID)
		if err != nil {
			return err
		}
		for _, ancestor := range chain {
			if ancestor.ID == a.ID {
				return fmt.Errorf("%w: %s is a descendant of %s", accounting.ErrCycleDetected, parent.Code, a.Code)
			}
		}
		if a.Status == accounting.AccountStatusActive {
			if err := checkParent(parent); err != nil {
				return err
			}
		} else if parent.Level != accounting.AccountLevelHeader {
			return fmt.Errorf("%w: %s is not a header account", accounting.ErrInvalidParent, parent.Code)
		}
		a.ParentID = &parent.ID
		a.ParentCode = parent.Code
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, code string, actorID int64, action string, fn func(*Tree, *accounting.Account) error) (accounting.Account, error) {
	var updated accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.LockAccounts(ctx, []uuid.UUID{chartLockID}, accounting.LockExclusive); err != nil {
			return err
		}
		tree, err := LoadTree(ctx, tx)
		if err != nil {
			return err
		}
		account, ok := tree.ByCode(code)
		if !ok {
			return fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, code)
		}
		if err := fn(tree, &account); err != nil {
			return err
		}
		account.UpdatedAt = accounting.NormalizeInstant(s.now())
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return accounting.Account{}, err
	}
	s.invalidate()
	s.record(ctx, actorID, action, updated, map[string]any{"status": updated.Status, "parent_code": updated.ParentCode})
	return updated, nil
}

// SeedDefaultChart installs the default chart, skipping codes already taken.
// It returns the accounts it created.
func (s *Service) SeedDefaultChart(ctx context.Context, actorID int64) ([]accounting.Account, error) {
	var created []accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.LockAccounts(ctx, []uuid.UUID{chartLockID}, accounting.LockExclusive); err != nil {
			return err
		}
		existing, err := tx.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		taken := make(map[string]struct{}, len(existing))
		for _, a := range existing {
			taken[a.Code] = struct{}{}
		}
		created = created[:0]
		for _, in := range DefaultChart() {
			if _, ok := taken[in.Code]; ok {
				continue
			}
			in.ActorID = actorID
			if err := in.Validate(); err != nil {
				return fmt.Errorf("seed %s: %w", in.Code, err)
			}
			account, err := s.insert(ctx, tx, in)
			if err != nil {
				return fmt.Errorf("seed %s: %w", in.Code, err)
			}
			created = append(created, account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	s.logger.InfoContext(ctx, "default chart seeded", slog.Int("created", len(created)))
	for _, a := range created {
		s.record(ctx, actorID, "account.create", a, map[string]any{"seed": true})
	}
	return created, nil
}

func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, a accounting.Account, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = a.Code
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: a.ID.String(),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit account", slog.String("action", action), slog.Any("error", err))
	}
}
