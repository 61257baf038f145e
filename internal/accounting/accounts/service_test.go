package accounts

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(memstore.New(), nil, nil, time.Minute)
	svc.WithNow(func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) })
	return svc
}

func header(code, parent string, typ accounting.AccountType) accounting.CreateAccountInput {
	return accounting.CreateAccountInput{Code: code, ParentCode: parent, Type: typ, Position: accounting.NormalPosition(typ), Level: accounting.AccountLevelHeader, Name: code}
}

func detail(code, parent string, typ accounting.AccountType) accounting.CreateAccountInput {
	in := header(code, parent, typ)
	in.Level = accounting.AccountLevelDetail
	return in
}

func mustCreate(t *testing.T, svc *Service, in accounting.CreateAccountInput) accounting.Account {
	t.Helper()
	a, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return a
}

func TestCreateAccount(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := mustCreate(t, svc, header("1000", "", accounting.AccountTypeAsset))
	cash := mustCreate(t, svc, detail("1110", "1000", accounting.AccountTypeAsset))
	require.Equal(t, root.ID, *cash.ParentID)
	require.Equal(t, "1000", cash.ParentCode)
	require.Equal(t, accounting.AccountStatusActive, cash.Status)
	require.True(t, IsPostable(cash))
	require.False(t, IsPostable(root))

	_, err := svc.Create(ctx, detail("1110", "1000", accounting.AccountTypeAsset))
	require.ErrorIs(t, err, accounting.ErrDuplicateCode)

	_, err = svc.Create(ctx, detail("1120", "9999", accounting.AccountTypeAsset))
	require.ErrorIs(t, err, accounting.ErrInvalidParent)

	_, err = svc.Create(ctx, detail("1111", "1110", accounting.AccountTypeAsset))
	require.ErrorIs(t, err, accounting.ErrInvalidParent)

	bad := detail("4100", "", accounting.AccountTypeRevenue)
	bad.Position = accounting.PositionDebit
	_, err = svc.Create(ctx, bad)
	require.ErrorIs(t, err, accounting.ErrTypePositionMismatch)

	resolved, err := svc.Resolve(ctx, "1110")
	require.NoError(t, err)
	require.Equal(t, cash.ID, resolved.ID)

	_, err = svc.Resolve(ctx, "0000")
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
	require.Equal(t, "NotFound", accounting.CodeOf(err))
}

func TestAncestorsRootToParent(t *testing.T) {
	svc := newService(t)
	mustCreate(t, svc, header("1000", "", accounting.AccountTypeAsset))
	mustCreate(t, svc, header("1100", "1000", accounting.AccountTypeAsset))
	mustCreate(t, svc, detail("1110", "1100", accounting.AccountTypeAsset))

	chain, err := svc.Ancestors(context.Background(), "1110")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, "1000", chain[0].Code)
	require.Equal(t, "1100", chain[1].Code)

	chain, err = svc.Ancestors(context.Background(), "1000")
	require.NoError(t, err)
	require.Empty(t, chain)
}

func TestReparentRejectsCycles(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, header("1000", "", accounting.AccountTypeAsset))
	mustCreate(t, svc, header("1100", "1000", accounting.AccountTypeAsset))
	mustCreate(t, svc, header("1200", "1100", accounting.AccountTypeAsset))
	mustCreate(t, svc, header("1300", "", accounting.AccountTypeAsset))

	_, err := svc.Reparent(ctx, "1000", "1200", 1)
	require.ErrorIs(t, err, accounting.ErrCycleDetected)

	_, err = svc.Reparent(ctx, "1100", "1100", 1)
	require.ErrorIs(t, err, accounting.ErrCycleDetected)

	moved, err := svc.Reparent(ctx, "1200", "1300", 1)
	require.NoError(t, err)
	require.Equal(t, "1300", moved.ParentCode)

	chain, err := svc.Ancestors(ctx, "1200")
	require.NoError(t, err)
	require.Equal(t, []string{"1300"}, codes(chain))

	rooted, err := svc.Reparent(ctx, "1200", "", 1)
	require.NoError(t, err)
	require.Nil(t, rooted.ParentID)
}

func TestTreeDetectsCorruptCycle(t *testing.T) {
	a := accounting.Account{ID: uuid.New(), Code: "A", Level: accounting.AccountLevelHeader}
	b := accounting.Account{ID: uuid.New(), Code: "B", Level: accounting.AccountLevelHeader}
	c := accounting.Account{ID: uuid.New(), Code: "C", Level: accounting.AccountLevelDetail}
	a.ParentID = &b.ID
	b.ParentID = &a.ID
	c.ParentID = &a.ID
	tree := NewTree([]accounting.Account{a, b, c})

	_, err := tree.Ancestors(c.ID)
	require.ErrorIs(t, err, accounting.ErrCycleDetected)
	_, err = tree.Descendants(a.ID)
	require.ErrorIs(t, err, accounting.ErrCycleDetected)
	require.ErrorIs(t, tree.Validate(), accounting.ErrCycleDetected)

	missing := uuid.New()
	orphan := accounting.Account{ID: uuid.New(), Code: "D", ParentID: &missing}
	_, err = NewTree([]accounting.Account{orphan}).Ancestors(orphan.ID)
	require.ErrorIs(t, err, accounting.ErrInvalidParent)
}

func TestDeactivateAndDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, header("5000", "", accounting.AccountTypeExpense))
	mustCreate(t, svc, detail("5100", "5000", accounting.AccountTypeExpense))

	_, err := svc.Deactivate(ctx, "5000", 1)
	require.ErrorIs(t, err, accounting.ErrHasActiveChildren)

	// warm the cache so the status change must invalidate it
	_, err = svc.Resolve(ctx, "5100")
	require.NoError(t, err)

	child, err := svc.Deactivate(ctx, "5100", 1)
	require.NoError(t, err)
	require.Equal(t, accounting.AccountStatusInactive, child.Status)
	resolved, err := svc.Resolve(ctx, "5100")
	require.NoError(t, err)
	require.False(t, resolved.IsPostable())

	_, err = svc.Deactivate(ctx, "5000", 1)
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "5000", 1)
	require.ErrorIs(t, err, accounting.ErrHasActiveChildren)

	_, err = svc.Activate(ctx, "5100", 1)
	require.ErrorIs(t, err, accounting.ErrInvalidParent)

	deleted, err := svc.Delete(ctx, "5100", 1)
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted())
	_, err = svc.Resolve(ctx, "5100")
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)

	_, err = svc.Create(ctx, detail("5100", "5000", accounting.AccountTypeExpense))
	require.ErrorIs(t, err, accounting.ErrDuplicateCode)

	all, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	live, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
}

func TestSeedDefaultChartIsIdempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.SeedDefaultChart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, created, len(DefaultChart()))

	again, err := svc.SeedDefaultChart(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, again)

	tree, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.Validate())

	contra, ok := tree.ByCode("1290")
	require.True(t, ok)
	require.Equal(t, accounting.PositionCredit, contra.Position)

	assets, _ := tree.ByCode("1000")
	leaves, err := tree.DetailLeaves(assets.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"1110", "1120", "1130", "1140", "1210", "1290"}, codes(leaves))

	children, err := svc.Children(ctx, "1000")
	require.NoError(t, err)
	require.Equal(t, []string{"1100", "1200"}, codes(children))
}

func TestCSVImportExport(t *testing.T) {
	src := newService(t)
	ctx := context.Background()
	_, err := src.SeedDefaultChart(ctx, 1)
	require.NoError(t, err)
	accounts, err := src.List(ctx, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, accounts))

	inputs, err := ReadAccounts(&buf)
	require.NoError(t, err)
	require.Len(t, inputs, len(accounts))

	dst := newService(t)
	created, err := dst.Import(ctx, inputs, 1)
	require.NoError(t, err)
	require.Len(t, created, len(accounts))

	contra, err := dst.Resolve(ctx, "1290")
	require.NoError(t, err)
	require.Equal(t, accounting.PositionCredit, contra.Position)

	_, err = dst.Import(ctx, inputs[:1], 1)
	require.ErrorIs(t, err, accounting.ErrDuplicateCode)
}

func codes(accounts []accounting.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Code)
	}
	return out
}

func TestInactiveHeaderTakesNoActiveChildren(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, header("4000", "", accounting.AccountTypeRevenue))
	mustCreate(t, svc, header("4900", "", accounting.AccountTypeRevenue))
	mustCreate(t, svc, detail("4100", "4000", accounting.AccountTypeRevenue))
	mustCreate(t, svc, detail("4200", "4900", accounting.AccountTypeRevenue))

	_, err := svc.Deactivate(ctx, "4100", 1)
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, "4000", 1)
	require.NoError(t, err)

	_, err = svc.Activate(ctx, "4100", 1)
	require.ErrorIs(t, err, accounting.ErrInvalidParent)
	_, err = svc.Create(ctx, detail("4300", "4000", accounting.AccountTypeRevenue))
	require.ErrorIs(t, err, accounting.ErrInvalidParent)
	_, err = svc.Reparent(ctx, "4200", "4000", 1)
	require.ErrorIs(t, err, accounting.ErrInvalidParent)

	children, err := svc.Children(ctx, "4000")
	require.NoError(t, err)
	for _, child := range children {
		require.Equal(t, accounting.AccountStatusInactive, child.Status, child.Code)
	}

	_, err = svc.Activate(ctx, "4000", 1)
	require.NoError(t, err)
	activated, err := svc.Activate(ctx, "4100", 1)
	require.NoError(t, err)
	require.Equal(t, accounting.AccountStatusActive, activated.Status)
	moved, err := svc.Reparent(ctx, "4200", "4000", 1)
	require.NoError(t, err)
	require.Equal(t, "4000", moved.ParentCode)
}

func TestResolveStalenessIsBoundedByTTL(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reader := NewService(store, nil, nil, 50*time.Millisecond)
	writer := NewService(store, nil, nil, 0)
	mustCreate(t, writer, header("6000", "", accounting.AccountTypeExpense))
	mustCreate(t, writer, detail("6100", "6000", accounting.AccountTypeExpense))

	warm, err := reader.Resolve(ctx, "6100")
	require.NoError(t, err)
	require.True(t, warm.IsPostable())

	_, err = writer.Deactivate(ctx, "6100", 1)
	require.NoError(t, err)
	fresh, err := writer.Resolve(ctx, "6100")
	require.NoError(t, err)
	require.False(t, fresh.IsPostable())

	stale, err := reader.Resolve(ctx, "6100")
	require.NoError(t, err)
	require.True(t, stale.IsPostable(), "another process's change is not seen before the TTL")

	require.Eventually(t, func() bool {
		a, err := reader.Resolve(ctx, "6100")
		return err == nil && !a.IsPostable()
	}, time.Second, 10*time.Millisecond)
}
