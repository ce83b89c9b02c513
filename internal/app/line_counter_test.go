package app

import (
	"context"
	"errors"
	"testing"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/anousonefs/linewait/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineCounter_DecrementClampsAtZero(t *testing.T) {
	store := memory.New()
	svc := store.AddService("Bank")
	line, err := store.AddLine(svc, "Teller")
	require.NoError(t, err)
	c := NewLineCounter(store)
	ctx := context.Background()

	adm, err := c.Increment(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, adm.Ahead)

	total, err := c.Decrement(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	total, err = c.Decrement(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestLineCounter_ReconcileAll(t *testing.T) {
	store := memory.New()
	svc := store.AddService("Bank")
	a, err := store.AddLine(svc, "A")
	require.NoError(t, err)
	b, err := store.AddLine(svc, "B")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.CreateTicket(ctx, domain.Ticket{LineID: a.ID, ServiceID: svc, CustomerID: 1, Status: domain.StatusWaiting})
	require.NoError(t, err)
	store.SetLineTotal(a.ID, 1)
	store.SetLineTotal(b.ID, 4)

	drifted, err := NewLineCounter(store).ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Reconciliation{{LineID: b.ID, Previous: 4, Actual: 0}}, drifted)

	got, err := store.GetLine(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Total)
}

// flakyLines fails reconciliation of one line.
type flakyLines struct {
	*memory.Store
	failID int64
}

func (f flakyLines) ReconcileLine(ctx context.Context, lineID int64) (domain.Reconciliation, error) {
	if lineID == f.failID {
		return domain.Reconciliation{}, domain.NewStorageError("reconcile line", errors.New("connection reset"))
	}
	return f.Store.ReconcileLine(ctx, lineID)
}

func TestLineCounter_ReconcileAllContinuesPastFailures(t *testing.T) {
	store := memory.New()
	svc := store.AddService("Bank")
	a, err := store.AddLine(svc, "A")
	require.NoError(t, err)
	b, err := store.AddLine(svc, "B")
	require.NoError(t, err)
	store.SetLineTotal(b.ID, 3)

	drifted, err := NewLineCounter(flakyLines{Store: store, failID: a.ID}).ReconcileAll(context.Background())
	assert.Error(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, b.ID, drifted[0].LineID)
}
