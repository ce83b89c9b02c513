package app

import (
	"context"
	"time"

	"github.com/anousonefs/linewait/internal/domain"
)

// LineStore holds the per-line waiting counter. Every mutation is a single
// conditional update inside the store, never a read-modify-write here.
type LineStore interface {
	GetLine(ctx context.Context, lineID int64) (domain.Line, error)
	ListLineIDs(ctx context.Context) ([]int64, error)
	// AdmitToLine increments total and issued and returns the values
	// before/after as an Admission.
	AdmitToLine(ctx context.Context, lineID int64) (domain.Admission, error)
	// ReleaseFromLine decrements total, clamped at zero, and returns it.
	ReleaseFromLine(ctx context.Context, lineID int64) (int, error)
	// ReconcileLine resets total to the live waiting count.
	ReconcileLine(ctx context.Context, lineID int64) (domain.Reconciliation, error)
}

type TicketStore interface {
	// WithTx runs fn in one unit of work. Stores nest: fn's ctx carries the
	// transaction and inner calls join it.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	ListLinesByService(ctx context.Context, serviceID int64) ([]domain.Line, error)
	ResolveCustomer(ctx context.Context, who domain.CustomerIdentity) (domain.Customer, error)
	HasWaitingTicket(ctx context.Context, customerID, serviceID int64) (bool, error)

	CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (domain.Ticket, error)
	// ListWaiting returns waiting tickets ordered by joined_at, then id.
	ListWaiting(ctx context.Context, lineID int64) ([]domain.Ticket, error)
	// TransitionTicket moves the ticket from -> to only if its status is
	// still from, stamping the timestamp that belongs to to. It reports
	// whether a row changed.
	TransitionTicket(ctx context.Context, ticketID int64, from, to domain.Status, at time.Time) (bool, error)
	SetWaitingTime(ctx context.Context, ticketID int64, minutes int) (bool, error)
}

type Store interface {
	LineStore
	TicketStore
}
