package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusServing   Status = "serving"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusWaiting: {StatusServing, StatusCancelled},
	StatusServing: {StatusDone, StatusCancelled},
}

// CanTransition reports whether a ticket in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

type Ticket struct {
	ID                int64      `json:"id"`
	LineID            int64      `json:"line_id"`
	ServiceID         int64      `json:"service_id"`
	CustomerID        int64      `json:"customer_id"`
	Seq               int        `json:"seq"`
	Status            Status     `json:"status"`
	JoinedAt          time.Time  `json:"joined_at"`
	ServedAt          *time.Time `json:"served_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	WaitingTime       *int       `json:"waiting_time,omitempty"` // minutes
	QueueLengthAtJoin int        `json:"queue_length_at_join"`
}

type Line struct {
	ID        int64  `json:"id"`
	ServiceID int64  `json:"service_id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Issued    int    `json:"issued"`
}

type Customer struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// CustomerIdentity is the already-authenticated caller joining a line.
// CustomerID wins over Phone when both are set.
type CustomerIdentity struct {
	CustomerID int64  `json:"customer_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Name       string `json:"name,omitempty"`
}

func (c CustomerIdentity) Empty() bool {
	return c.CustomerID == 0 && strings.TrimSpace(c.Phone) == ""
}

// Admission is the result of atomically admitting one ticket into a line:
// Ahead is the waiting count before the increment, Seq the new issue number.
type Admission struct {
	Ahead int
	Seq   int
}

type Reconciliation struct {
	LineID   int64 `json:"line_id"`
	Previous int   `json:"previous"`
	Actual   int   `json:"actual"`
}

func (r Reconciliation) Drifted() bool { return r.Previous != r.Actual }

// Position is the live 0-based place of a waiting ticket in its line.
type Position struct {
	TicketID    int64 `json:"ticket_id"`
	Position    int   `json:"position"`
	WaitingTime *int  `json:"waiting_time,omitempty"`
}

type TicketView struct {
	Ticket
	QueueNumber string `json:"queue_number"`
	Position    *int   `json:"position,omitempty"`
}

type FinishResult struct {
	Ticket                 TicketView `json:"ticket"`
	ServiceDurationMinutes float64    `json:"service_duration_minutes"`
}

// QueueNumber renders the human ticket number: first letter of the line
// name followed by the zero-padded issue sequence, e.g. "A007".
func QueueNumber(lineName string, seq int) string {
	initial := "#"
	if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(lineName)); r != utf8.RuneError {
		initial = string(unicode.ToUpper(r))
	}
	return fmt.Sprintf("%s%03d", initial, seq)
}

// ServiceDuration returns finished-served in minutes rounded to two decimals.
func ServiceDuration(servedAt, finishedAt time.Time) float64 {
	ms := finishedAt.Sub(servedAt).Milliseconds()
	return math.Round(float64(ms)/60000*100) / 100
}
