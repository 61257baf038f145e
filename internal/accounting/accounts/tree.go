package accounts

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Tree is an arena over a snapshot of the chart: accounts are stored flat and
// linked through id indexes, never through pointers.
type Tree struct {
	byID     map[uuid.UUID]accounting.Account
	byCode   map[string]uuid.UUID
	children map[uuid.UUID][]uuid.UUID
	roots    []uuid.UUID
}

// NewTree indexes accounts. The input is not required to be acyclic; traversals
// detect cycles themselves.
func NewTree(accounts []accounting.Account) *Tree {
	t := &Tree{
		byID:     make(map[uuid.UUID]accounting.Account, len(accounts)),
		byCode:   make(map[string]uuid.UUID, len(accounts)),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
	sorted := append([]accounting.Account(nil), accounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })
	for _, a := range sorted {
		t.byID[a.ID] = a
		t.byCode[a.Code] = a.ID
	}
	for _, a := range sorted {
		if a.ParentID == nil {
			t.roots = append(t.roots, a.ID)
			continue
		}
		t.children[*a.ParentID] = append(t.children[*a.ParentID], a.ID)
	}
	return t
}

// Len returns the number of indexed accounts.
func (t *Tree) Len() int {
	return len(t.byID)
}

// ByID looks an account up by id.
func (t *Tree) ByID(id uuid.UUID) (accounting.Account, bool) {
	a, ok := t.byID[id]
	return a, ok
}

// ByCode looks an account up by code.
func (t *Tree) ByCode(code string) (accounting.Account, bool) {
	id, ok := t.byCode[code]
	if !ok {
		return accounting.Account{}, false
	}
	return t.byID[id], true
}

// Accounts returns every indexed account ordered by code.
func (t *Tree) Accounts() []accounting.Account {
	out := make([]accounting.Account, 0, len(t.byID))
	for _, a := range t.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Roots returns accounts without a parent ordered by code.
func (t *Tree) Roots() []accounting.Account {
	return t.resolve(t.roots)
}

// Children returns the direct children of id ordered by code.
func (t *Tree) Children(id uuid.UUID) []accounting.Account {
	return t.resolve(t.children[id])
}

func (t *Tree) resolve(ids []uuid.UUID) []accounting.Account {
	out := make([]accounting.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[id])
	}
	return out
}

// Ancestors returns the chain from the root down to the direct parent of id.
// Revisiting a node yields ErrCycleDetected; a dangling parent yields ErrInvalidParent.
func (t *Tree) Ancestors(id uuid.UUID) ([]accounting.Account, error) {
	current, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, id)
	}
	visited := map[uuid.UUID]struct{}{id: {}}
	var chain []accounting.Account
	for current.ParentID != nil {
		parentID := *current.ParentID
		if _, seen := visited[parentID]; seen {
			return nil, fmt.Errorf("%w: at account %s", accounting.ErrCycleDetected, current.Code)
		}
		parent, ok := t.byID[parentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent of %s does not resolve", accounting.ErrInvalidParent, current.Code)
		}
		visited[parentID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Descendants returns every account below id in depth-first, code order.
func (t *Tree) Descendants(id uuid.UUID) ([]accounting.Account, error) {
	if _, ok := t.byID[id]; !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, id)
	}
	visited := map[uuid.UUID]struct{}{id: {}}
	var out []accounting.Account
	var walk func(uuid.UUID) error
	walk = func(node uuid.UUID) error {
		for _, child := range t.children[node] {
			if _, seen := visited[child]; seen {
				return fmt.Errorf("%w: at account %s", accounting.ErrCycleDetected, t.byID[child].Code)
			}
			visited[child] = struct{}{}
			out = append(out, t.byID[child])
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}
	return out, nil
}

// DetailLeaves returns the detail accounts whose balances roll up into id,
// including id itself when it is a detail account.
func (t *Tree) DetailLeaves(id uuid.UUID) ([]accounting.Account, error) {
	self, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, id)
	}
	if self.Level == accounting.AccountLevelDetail {
		return []accounting.Account{self}, nil
	}
	desc, err := t.Descendants(id)
	if err != nil {
		return nil, err
	}
	var leaves []accounting.Account
	for _, a := range desc {
		if a.Level == accounting.AccountLevelDetail {
			leaves = append(leaves, a)
		}
	}
	return leaves, nil
}

// Validate walks every account's ancestor chain.
func (t *Tree) Validate() error {
	for _, a := range t.Accounts() {
		if _, err := t.Ancestors(a.ID); err != nil {
			return err
		}
	}
	return nil
}
