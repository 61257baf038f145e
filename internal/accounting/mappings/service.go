package mappings

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// AccountResolver resolves live accounts by code.
type AccountResolver interface {
	Resolve(ctx context.Context, code string) (accounting.Account, error)
}

// Column widths of account_mappings.
const (
	maxModuleLen = 32
	maxKeyLen    = 128
)

// Service binds integration keys to postable accounts.
type Service struct {
	repo     Repository
	accounts AccountResolver
}

func NewService(repo Repository, accounts AccountResolver) *Service {
	return &Service{repo: repo, accounts: accounts}
}

// Set binds module/key to code. The account must exist and be postable.
func (s *Service) Set(ctx context.Context, module, key, code string) error {
	if module == "" || key == "" || code == "" {
		return fmt.Errorf("%w: module, key and account code required", accounting.ErrInvalidInput)
	}
	if utf8.RuneCountInString(module) > maxModuleLen || utf8.RuneCountInString(key) > maxKeyLen {
		return fmt.Errorf("%w: module is limited to %d characters, key to %d", accounting.ErrInvalidInput, maxModuleLen, maxKeyLen)
	}
	account, err := s.accounts.Resolve(ctx, code)
	if err != nil {
		return err
	}
	if !account.IsPostable() {
		return fmt.Errorf("%w: %s", accounting.ErrAccountNotPostable, code)
	}
	return s.repo.Upsert(ctx, AccountMapping{Module: module, Key: key, AccountCode: code})
}

// AccountCode returns the code mapped to module/key.
func (s *Service) AccountCode(ctx context.Context, module, key string) (string, error) {
	m, err := s.repo.Get(ctx, module, key)
	if err != nil {
		return "", err
	}
	return m.AccountCode, nil
}

// List returns every mapping.
func (s *Service) List(ctx context.Context) ([]AccountMapping, error) {
	return s.repo.List(ctx)
}
