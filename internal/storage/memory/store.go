// Package memory provides an in-process transactional store used for local
// development and tests. Transactions are serialised and roll back by
// restoring a snapshot taken when they began.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anousonefs/linewait/internal/domain"
)

type txKey struct{}

type state struct {
	services  map[int64]string
	lines     map[int64]domain.Line
	customers map[int64]domain.Customer
	phones    map[string]int64
	tickets   map[int64]domain.Ticket

	nextServiceID  int64
	nextLineID     int64
	nextCustomerID int64
	nextTicketID   int64
}

func (s state) clone() state {
	c := s
	c.services = make(map[int64]string, len(s.services))
	for k, v := range s.services {
		c.services[k] = v
	}
	c.lines = make(map[int64]domain.Line, len(s.lines))
	for k, v := range s.lines {
		c.lines[k] = v
	}
	c.customers = make(map[int64]domain.Customer, len(s.customers))
	for k, v := range s.customers {
		c.customers[k] = v
	}
	c.phones = make(map[string]int64, len(s.phones))
	for k, v := range s.phones {
		c.phones[k] = v
	}
	c.tickets = make(map[int64]domain.Ticket, len(s.tickets))
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	return c
}

type Store struct {
	txMu sync.Mutex // held for the whole of a transaction
	mu   sync.Mutex // guards st
	st   state
}

func New() *Store {
	return &Store{st: state{
		services:  make(map[int64]string),
		lines:     make(map[int64]domain.Line),
		customers: make(map[int64]domain.Customer),
		phones:    make(map[string]int64),
		tickets:   make(map[int64]domain.Ticket),
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// write runs a single mutation, as its own transaction when the caller is
// not already inside one.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithTx(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(&s.st)
	})
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

// AddService registers a service and returns its id.
func (s *Store) AddService(name string) int64 {
	var id int64
	_ = s.write(context.Background(), func(st *state) error {
		st.nextServiceID++
		id = st.nextServiceID
		st.services[id] = name
		return nil
	})
	return id
}

// AddLine registers a line under an existing service.
func (s *Store) AddLine(serviceID int64, name string) (domain.Line, error) {
	var line domain.Line
	err := s.write(context.Background(), func(st *state) error {
		if _, ok := st.services[serviceID]; !ok {
			return domain.ErrServiceNotFound
		}
		st.nextLineID++
		line = domain.Line{ID: st.nextLineID, ServiceID: serviceID, Name: name}
		st.lines[line.ID] = line
		return nil
	})
	return line, err
}

// SetLineTotal overwrites the cached counter, bypassing the atomic
// operations. Tests use it to simulate drift.
func (s *Store) SetLineTotal(lineID int64, total int) {
	_ = s.write(context.Background(), func(st *state) error {
		l := st.lines[lineID]
		l.Total = total
		st.lines[lineID] = l
		return nil
	})
}

// WaitingCount counts waiting tickets straight from the ticket rows.
func (s *Store) WaitingCount(lineID int64) int {
	var n int
	s.read(func(st *state) {
		for _, t := range st.tickets {
			if t.LineID == lineID && t.Status == domain.StatusWaiting {
				n++
			}
		}
	})
	return n
}

func (s *Store) GetLine(_ context.Context, lineID int64) (domain.Line, error) {
	var (
		line domain.Line
		ok   bool
	)
	s.read(func(st *state) { line, ok = st.lines[lineID] })
	if !ok {
		return domain.Line{}, domain.ErrLineNotFound
	}
	return line, nil
}

func (s *Store) ListLineIDs(context.Context) ([]int64, error) {
	var ids []int64
	s.read(func(st *state) {
		for id := range st.lines {
			ids = append(ids, id)
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) AdmitToLine(ctx context.Context, lineID int64) (domain.Admission, error) {
	var adm domain.Admission
	err := s.write(ctx, func(st *state) error {
		l, ok := st.lines[lineID]
		if !ok {
			return domain.ErrLineNotFound
		}
		adm.Ahead = l.Total
		l.Total++
		l.Issued++
		adm.Seq = l.Issued
		st.lines[lineID] = l
		return nil
	})
	return adm, err
}

func (s *Store) ReleaseFromLine(ctx context.Context, lineID int64) (int, error) {
	var total int
	err := s.write(ctx, func(st *state) error {
		l, ok := st.lines[lineID]
		if !ok {
			return domain.ErrLineNotFound
		}
		if l.Total > 0 {
			l.Total--
		}
		total = l.Total
		st.lines[lineID] = l
		return nil
	})
	return total, err
}

func (s *Store) ReconcileLine(ctx context.Context, lineID int64) (domain.Reconciliation, error) {
	rec := domain.Reconciliation{LineID: lineID}
	err := s.write(ctx, func(st *state) error {
		l, ok := st.lines[lineID]
		if !ok {
			return domain.ErrLineNotFound
		}
		rec.Previous = l.Total
		for _, t := range st.tickets {
			if t.LineID == lineID && t.Status == domain.StatusWaiting {
				rec.Actual++
			}
		}
		l.Total = rec.Actual
		st.lines[lineID] = l
		return nil
	})
	return rec, err
}

func (s *Store) ListLinesByService(_ context.Context, serviceID int64) ([]domain.Line, error) {
	var (
		lines []domain.Line
		found bool
	)
	s.read(func(st *state) {
		_, found = st.services[serviceID]
		for _, l := range st.lines {
			if l.ServiceID == serviceID {
				lines = append(lines, l)
			}
		}
	})
	if !found {
		return nil, domain.ErrServiceNotFound
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (s *Store) ResolveCustomer(ctx context.Context, who domain.CustomerIdentity) (domain.Customer, error) {
	var c domain.Customer
	err := s.write(ctx, func(st *state) error {
		if who.CustomerID != 0 {
			var ok bool
			if c, ok = st.customers[who.CustomerID]; !ok {
				return domain.ErrCustomerNotFound
			}
			return nil
		}

		phone := strings.TrimSpace(who.Phone)
		if id, ok := st.phones[phone]; ok {
			c = st.customers[id]
			if who.Name != "" && who.Name != c.Name {
				c.Name = who.Name
				st.customers[id] = c
			}
			return nil
		}
		st.nextCustomerID++
		c = domain.Customer{ID: st.nextCustomerID, Phone: phone, Name: who.Name}
		st.customers[c.ID] = c
		st.phones[phone] = c.ID
		return nil
	})
	return c, err
}

func (s *Store) HasWaitingTicket(_ context.Context, customerID, serviceID int64) (bool, error) {
	var found bool
	s.read(func(st *state) { found = hasWaiting(st, customerID, serviceID) })
	return found, nil
}

func hasWaiting(st *state, customerID, serviceID int64) bool {
	for _, t := range st.tickets {
		if t.CustomerID == customerID && t.ServiceID == serviceID && t.Status == domain.StatusWaiting {
			return true
		}
	}
	return false
}

func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	err := s.write(ctx, func(st *state) error {
		if _, ok := st.lines[t.LineID]; !ok {
			return domain.ErrLineNotFound
		}
		if t.Status == domain.StatusWaiting && hasWaiting(st, t.CustomerID, t.ServiceID) {
			return domain.ErrActiveTicketExists
		}
		st.nextTicketID++
		t.ID = st.nextTicketID
		st.tickets[t.ID] = t
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func (s *Store) GetTicket(_ context.Context, ticketID int64) (domain.Ticket, error) {
	var (
		t  domain.Ticket
		ok bool
	)
	s.read(func(st *state) { t, ok = st.tickets[ticketID] })
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

func (s *Store) ListWaiting(_ context.Context, lineID int64) ([]domain.Ticket, error) {
	var out []domain.Ticket
	s.read(func(st *state) {
		for _, t := range st.tickets {
			if t.LineID == lineID && t.Status == domain.StatusWaiting {
				out = append(out, t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TransitionTicket(ctx context.Context, ticketID int64, from, to domain.Status, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.InvalidTransition(from, to)
	}
	var changed bool
	err := s.write(ctx, func(st *state) error {
		t, ok := st.tickets[ticketID]
		if !ok || t.Status != from {
			return nil
		}
		t.Status = to
		switch to {
		case domain.StatusServing:
			t.ServedAt = &at
		case domain.StatusDone:
			t.FinishedAt = &at
		}
		st.tickets[ticketID] = t
		changed = true
		return nil
	})
	return changed, err
}

func (s *Store) SetWaitingTime(ctx context.Context, ticketID int64, minutes int) (bool, error) {
	var changed bool
	err := s.write(ctx, func(st *state) error {
		t, ok := st.tickets[ticketID]
		if !ok || t.Status != domain.StatusWaiting {
			return nil
		}
		t.WaitingTime = &minutes
		st.tickets[ticketID] = t
		changed = true
		return nil
	})
	return changed, err
}
