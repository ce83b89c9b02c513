package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anousonefs/linewait/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	channel string
	payload any
}

type fakePublisher struct {
	sent []sent
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sent{channel: channel, payload: payload})
	return "17000000000000000", nil
}

func TestNotificationService_PublishesToTicketChannel(t *testing.T) {
	pub := &fakePublisher{}
	ns := NewNotificationService(pub)

	ev := domain.PositionEvent(domain.Position{TicketID: 42, Position: 2})
	require.NoError(t, ns.Notify(context.Background(), ev))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "ticket_42", pub.sent[0].channel)
	assert.Equal(t, ev, pub.sent[0].payload)
}

func TestNotificationService_PublishError(t *testing.T) {
	ns := NewNotificationService(&fakePublisher{err: errors.New("403 forbidden")})

	err := ns.Notify(context.Background(), domain.CancelledEvent(domain.Ticket{ID: 1, Status: domain.StatusCancelled}))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ticket_1")
}

func TestSetPrepareMessage(t *testing.T) {
	ev := domain.CalledEvent(domain.Ticket{ID: 7, Status: domain.StatusServing}, "A007")
	msg, err := setPrepareMessage(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg), &decoded))
	assert.Equal(t, "ticket_called", decoded["type"])
	assert.Equal(t, float64(7), decoded["ticketId"])
	assert.Equal(t, "serving", decoded["status"])
	assert.NotContains(t, decoded, "position")
}

func TestNewPubnub_RequiresKeys(t *testing.T) {
	_, err := NewPubnub(nil)
	assert.Error(t, err)

	_, err = NewPubnub(&PubNubConfig{PublishKey: "pub"})
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	_, err := NewNotificationService(nil).publisher.Publish(context.Background(), "ticket_1", map[string]int{"a": 1})
	assert.NoError(t, err)
}
