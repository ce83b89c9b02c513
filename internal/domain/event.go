package domain

import "fmt"

type EventType string

const (
	EventTicketCalled    EventType = "ticket_called"
	EventTicketUpdated   EventType = "ticket_updated"
	EventTicketCancelled EventType = "ticket_cancelled"
)

// Event is one lifecycle notification addressed to a single ticket.
type Event struct {
	Type        EventType `json:"type"`
	TicketID    int64     `json:"ticketId"`
	Status      Status    `json:"status"`
	WaitingTime *int      `json:"waitingTime,omitempty"`
	Position    *int      `json:"position,omitempty"`
	Message     string    `json:"message"`
}

// Topic is the per-ticket channel customers subscribe to.
func (e Event) Topic() string {
	return TicketTopic(e.TicketID)
}

func TicketTopic(ticketID int64) string {
	return fmt.Sprintf("ticket_%d", ticketID)
}

func CalledEvent(t Ticket, queueNumber string) Event {
	return Event{
		Type:     EventTicketCalled,
		TicketID: t.ID,
		Status:   t.Status,
		Message:  fmt.Sprintf("Ticket %s, it's your turn. Please proceed to the counter.", queueNumber),
	}
}

func CancelledEvent(t Ticket) Event {
	return Event{
		Type:     EventTicketCancelled,
		TicketID: t.ID,
		Status:   t.Status,
		Message:  "Your ticket has been cancelled.",
	}
}

func PositionEvent(p Position) Event {
	pos := p.Position
	msg := fmt.Sprintf("%d people ahead of you.", pos)
	if pos == 0 {
		msg = "You are next in line."
	}
	return Event{
		Type:        EventTicketUpdated,
		TicketID:    p.TicketID,
		Status:      StatusWaiting,
		WaitingTime: p.WaitingTime,
		Position:    &pos,
		Message:     msg,
	}
}

func FinishedEvent(t Ticket) Event {
	return Event{
		Type:     EventTicketUpdated,
		TicketID: t.ID,
		Status:   t.Status,
		Message:  "Your service is complete. Thank you!",
	}
}
