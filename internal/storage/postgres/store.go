package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/anousonefs/linewait/internal/domain"
)

// Store is the Postgres implementation of the line and ticket stores.
// Every counter change is one conditional statement so concurrent callers
// never lose an update.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.db, fn)
}

func (s *Store) GetLine(ctx context.Context, lineID int64) (domain.Line, error) {
	const query = `SELECT id, service_id, name, total, issued FROM lines WHERE id = $1`
	var l domain.Line
	err := s.q(ctx).QueryRowContext(ctx, query, lineID).Scan(&l.ID, &l.ServiceID, &l.Name, &l.Total, &l.Issued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Line{}, domain.ErrLineNotFound
		}
		return domain.Line{}, domain.NewStorageError("get line", err)
	}
	return l, nil
}

func (s *Store) ListLineIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id FROM lines ORDER BY id`)
	if err != nil {
		return nil, domain.NewStorageError("list lines", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewStorageError("list lines", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list lines", err)
	}
	return ids, nil
}

func (s *Store) AdmitToLine(ctx context.Context, lineID int64) (domain.Admission, error) {
	const stmt = `
UPDATE lines
SET total = total + 1, issued = issued + 1
WHERE id = $1
RETURNING total, issued`

	var total, issued int
	if err := s.q(ctx).QueryRowContext(ctx, stmt, lineID).Scan(&total, &issued); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Admission{}, domain.ErrLineNotFound
		}
		return domain.Admission{}, domain.NewStorageError("admit to line", err)
	}
	return domain.Admission{Ahead: total - 1, Seq: issued}, nil
}

func (s *Store) ReleaseFromLine(ctx context.Context, lineID int64) (int, error) {
	const stmt = `UPDATE lines SET total = GREATEST(total - 1, 0) WHERE id = $1 RETURNING total`

	var total int
	if err := s.q(ctx).QueryRowContext(ctx, stmt, lineID).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrLineNotFound
		}
		return 0, domain.NewStorageError("release from line", err)
	}
	return total, nil
}

func (s *Store) ReconcileLine(ctx context.Context, lineID int64) (domain.Reconciliation, error) {
	const stmt = `
WITH prev AS (
	SELECT total FROM lines WHERE id = $1 FOR UPDATE
)
UPDATE lines l
SET total = (SELECT COUNT(*) FROM tickets t WHERE t.line_id = $1 AND t.status = 'waiting')
FROM prev
WHERE l.id = $1
RETURNING prev.total, l.total`

	rec := domain.Reconciliation{LineID: lineID}
	if err := s.q(ctx).QueryRowContext(ctx, stmt, lineID).Scan(&rec.Previous, &rec.Actual); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reconciliation{}, domain.ErrLineNotFound
		}
		return domain.Reconciliation{}, domain.NewStorageError("reconcile line", err)
	}
	return rec, nil
}

func (s *Store) ListLinesByService(ctx context.Context, serviceID int64) ([]domain.Line, error) {
	var exists bool
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE id = $1)`, serviceID).Scan(&exists); err != nil {
		return nil, domain.NewStorageError("find service", err)
	}
	if !exists {
		return nil, domain.ErrServiceNotFound
	}

	const query = `SELECT id, service_id, name, total, issued FROM lines WHERE service_id = $1 ORDER BY id`
	rows, err := s.q(ctx).QueryContext(ctx, query, serviceID)
	if err != nil {
		return nil, domain.NewStorageError("list service lines", err)
	}
	defer rows.Close()

	var lines []domain.Line
	for rows.Next() {
		var l domain.Line
		if err := rows.Scan(&l.ID, &l.ServiceID, &l.Name, &l.Total, &l.Issued); err != nil {
			return nil, domain.NewStorageError("list service lines", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list service lines", err)
	}
	return lines, nil
}

func (s *Store) ResolveCustomer(ctx context.Context, who domain.CustomerIdentity) (domain.Customer, error) {
	var c domain.Customer
	if who.CustomerID != 0 {
		const query = `SELECT id, phone, name FROM customers WHERE id = $1`
		err := s.q(ctx).QueryRowContext(ctx, query, who.CustomerID).Scan(&c.ID, &c.Phone, &c.Name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.Customer{}, domain.ErrCustomerNotFound
			}
			return domain.Customer{}, domain.NewStorageError("get customer", err)
		}
		return c, nil
	}

	const upsert = `
INSERT INTO customers (phone, name)
VALUES ($1, $2)
ON CONFLICT (phone) DO UPDATE
SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE customers.name END
RETURNING id, phone, name`

	phone := strings.TrimSpace(who.Phone)
	if err := s.q(ctx).QueryRowContext(ctx, upsert, phone, who.Name).Scan(&c.ID, &c.Phone, &c.Name); err != nil {
		return domain.Customer{}, domain.NewStorageError("upsert customer", err)
	}
	return c, nil
}

func (s *Store) HasWaitingTicket(ctx context.Context, customerID, serviceID int64) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1 FROM tickets
	WHERE customer_id = $1 AND service_id = $2 AND status = 'waiting'
)`
	var found bool
	if err := s.q(ctx).QueryRowContext(ctx, query, customerID, serviceID).Scan(&found); err != nil {
		return false, domain.NewStorageError("find waiting ticket", err)
	}
	return found, nil
}

func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	const stmt = `
INSERT INTO tickets (line_id, service_id, customer_id, seq, status, joined_at, queue_length_at_join)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

	err := s.q(ctx).QueryRowContext(ctx, stmt,
		t.LineID,
		t.ServiceID,
		t.CustomerID,
		t.Seq,
		string(t.Status),
		t.JoinedAt,
		t.QueueLengthAtJoin,
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Ticket{}, domain.ErrActiveTicketExists
		}
		if isForeignKeyViolation(err) {
			return domain.Ticket{}, domain.ErrLineNotFound
		}
		return domain.Ticket{}, domain.NewStorageError("create ticket", err)
	}
	return t, nil
}

const ticketColumns = `id, line_id, service_id, customer_id, seq, status, joined_at, served_at, finished_at, waiting_time, queue_length_at_join`

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (domain.Ticket, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, domain.NewStorageError("get ticket", err)
	}
	return t, nil
}

func (s *Store) ListWaiting(ctx context.Context, lineID int64) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
FROM tickets
WHERE line_id = $1 AND status = 'waiting'
ORDER BY joined_at, id`

	rows, err := s.q(ctx).QueryContext(ctx, query, lineID)
	if err != nil {
		return nil, domain.NewStorageError("list waiting", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, domain.NewStorageError("list waiting", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list waiting", err)
	}
	return out, nil
}

func (s *Store) TransitionTicket(ctx context.Context, ticketID int64, from, to domain.Status, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.InvalidTransition(from, to)
	}

	var (
		res sql.Result
		err error
	)
	switch to {
	case domain.StatusServing:
		res, err = s.q(ctx).ExecContext(ctx,
			`UPDATE tickets SET status = $1, served_at = $2 WHERE id = $3 AND status = $4`,
			string(to), at, ticketID, string(from))
	case domain.StatusDone:
		res, err = s.q(ctx).ExecContext(ctx,
			`UPDATE tickets SET status = $1, finished_at = $2 WHERE id = $3 AND status = $4`,
			string(to), at, ticketID, string(from))
	default:
		res, err = s.q(ctx).ExecContext(ctx,
			`UPDATE tickets SET status = $1 WHERE id = $2 AND status = $3`,
			string(to), ticketID, string(from))
	}
	if err != nil {
		return false, domain.NewStorageError("transition ticket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.NewStorageError("transition ticket", err)
	}
	return n > 0, nil
}

func (s *Store) SetWaitingTime(ctx context.Context, ticketID int64, minutes int) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE tickets SET waiting_time = $1 WHERE id = $2 AND status = 'waiting'`,
		minutes, ticketID)
	if err != nil {
		return false, domain.NewStorageError("set waiting time", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.NewStorageError("set waiting time", err)
	}
	return n > 0, nil
}

func (s *Store) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (domain.Ticket, error) {
	var (
		t        domain.Ticket
		status   string
		served   sql.NullTime
		finished sql.NullTime
		waiting  sql.NullInt64
	)
	err := row.Scan(
		&t.ID,
		&t.LineID,
		&t.ServiceID,
		&t.CustomerID,
		&t.Seq,
		&status,
		&t.JoinedAt,
		&served,
		&finished,
		&waiting,
		&t.QueueLengthAtJoin,
	)
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Status = domain.Status(status)
	if served.Valid {
		v := served.Time
		t.ServedAt = &v
	}
	if finished.Valid {
		v := finished.Time
		t.FinishedAt = &v
	}
	if waiting.Valid {
		v := int(waiting.Int64)
		t.WaitingTime = &v
	}
	return t, nil
}
