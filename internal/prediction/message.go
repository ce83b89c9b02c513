package prediction

import "encoding/json"

// Features is one ticket's input row for the wait-time model.
type Features struct {
	TicketID    int64 `json:"ticketId"`
	QueueLength int   `json:"queueLength"`
	Hour        int   `json:"hour"`
	DayOfWeek   int   `json:"dayOfWeek"`
}

// Request is the batched prediction request for every waiting ticket of a line.
// ReplyTo names the destination the predictor answers on.
type Request struct {
	Tickets       []Features `json:"tickets"`
	CorrelationID string     `json:"correlationId"`
	ReplyTo       string     `json:"replyTo,omitempty"`
}

type Prediction struct {
	TicketID             int64   `json:"ticketId"`
	PredictedWaitMinutes float64 `json:"predictedWaitMinutes"`
}

type Response struct {
	Predictions   []Prediction `json:"predictions"`
	CorrelationID string       `json:"correlationId"`
}

// Message is one broker delivery. Body is the JSON document that goes on the
// wire, a Request or a Response. CorrelationID and ReplyTo are routing
// metadata; brokers without headers read them from the body.
type Message struct {
	CorrelationID string
	ReplyTo       string
	Body          json.RawMessage
}
