package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	pubnubgo "github.com/pubnub/go/v7"
)

var (
	_ Publisher    = (*PubNub)(nil)
	_ TokenGranter = (*PubNub)(nil)
)

// Publisher delivers one JSON message to a channel and returns the
// publish timetoken.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) (string, error)
}

// TokenGranter issues read-only subscribe tokens for a single channel.
type TokenGranter interface {
	GrantReadToken(ctx context.Context, channel string, ttlMinutes int) (string, error)
}

type PubNubConfig struct {
	PublishKey, SubscribeKey, SecretKey, UserID, SubscriberID string
}

func NewPubnub(pnCfg *PubNubConfig) (*PubNub, error) {
	if pnCfg == nil {
		return nil, fmt.Errorf("[NewPubnub] pnCfg: must not be nil")
	}
	if pnCfg.PublishKey == "" || pnCfg.SubscribeKey == "" {
		return nil, fmt.Errorf("[NewPubnub] publish and subscribe keys are required")
	}

	cfg := pubnubgo.NewConfigWithUserId(pubnubgo.UserId(pnCfg.UserID))
	cfg.PublishKey = pnCfg.PublishKey
	cfg.SubscribeKey = pnCfg.SubscribeKey
	cfg.SecretKey = pnCfg.SecretKey

	return &PubNub{
		pn:           pubnubgo.NewPubNub(cfg),
		subscriberID: pnCfg.SubscriberID,
	}, nil
}

type PubNub struct {
	pn           *pubnubgo.PubNub
	subscriberID string
}

func (p *PubNub) Publish(ctx context.Context, channel string, payload any) (string, error) {
	message, err := setPrepareMessage(payload)
	if err != nil {
		return "", err
	}

	resp, _, err := p.pn.PublishWithContext(ctx).Channel(channel).Message(message).Execute()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.Timestamp, 10), nil
}

func (p *PubNub) GrantReadToken(ctx context.Context, channel string, ttlMinutes int) (string, error) {
	permissions := map[string]pubnubgo.ChannelPermissions{
		channel: {Read: true},
	}

	token, _, err := p.pn.GrantTokenWithContext(ctx).
		TTL(ttlMinutes).
		AuthorizedUUID(p.subscriberID).
		Channels(permissions).
		Execute()
	if err != nil {
		return "", err
	}
	return token.Data.Token, nil
}

// LogPublisher stands in for PubNub when no keys are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, channel string, payload any) (string, error) {
	message, err := setPrepareMessage(payload)
	if err != nil {
		return "", err
	}
	slog.Info("notification (pubnub disabled)", "channel", channel, "message", message)
	return "", nil
}

// setPrepareMessage formats the payload as a JSON string.
func setPrepareMessage(payload any) (string, error) {
	messageJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(messageJSON), nil
}
