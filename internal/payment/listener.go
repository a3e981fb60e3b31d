package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	pubnub "github.com/pubnub/go/v7"
)

// PayoutUpdate is a processor-side payout status change pushed over the
// notification channel.
type PayoutUpdate struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
	TxHash   string `json:"tx_hash,omitempty"`
}

type ListenerConfig struct {
	SubscribeKey string
	CipherKey    string
	UUID         string
	Channel      string
}

// Listener subscribes to the processor's payout notification channel and
// feeds decoded updates into Updates. The processor also retries webhooks,
// so a missed message here is recovered by the payout poller.
type Listener struct {
	pn      *pubnub.PubNub
	lis     *pubnub.Listener
	channel string
	updates chan *PayoutUpdate
}

func NewListener(config *ListenerConfig) *Listener {
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(config.UUID))
	pnConfig.SubscribeKey = config.SubscribeKey
	pnConfig.CipherKey = config.CipherKey

	return &Listener{
		pn:      pubnub.NewPubNub(pnConfig),
		lis:     pubnub.NewListener(),
		channel: config.Channel,
		updates: make(chan *PayoutUpdate, 16),
	}
}

// Updates delivers payout status changes until the listener stops.
func (l *Listener) Updates() <-chan *PayoutUpdate {
	return l.updates
}

func (l *Listener) Start(ctx context.Context) {
	l.pn.AddListener(l.lis)
	l.pn.Subscribe().Channels([]string{l.channel}).Execute()

	go l.processSubscription(ctx)
}

func (l *Listener) processSubscription(ctx context.Context) {
	for {
		select {
		case status := <-l.lis.Status:
			switch status.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("payout listener connected", "channel", l.channel)
			case pubnub.PNReconnectedCategory:
				slog.Info("payout listener reconnected", "channel", l.channel)
			case pubnub.PNDisconnectedCategory:
				slog.Warn("payout listener disconnected", "channel", l.channel)
			default:
				slog.Debug("payout listener status", "category", status.Category)
			}

		case message := <-l.lis.Message:
			update, err := decodeUpdate(message.Message)
			if err != nil {
				slog.Error("payout notification decode failed", "error", err)
				continue
			}
			select {
			case l.updates <- update:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			l.pn.Unsubscribe().Channels([]string{l.channel}).Execute()
			close(l.updates)
			return
		}
	}
}

func decodeUpdate(message any) (*PayoutUpdate, error) {
	var update PayoutUpdate
	switch payload := message.(type) {
	case string:
		if err := json.NewDecoder(strings.NewReader(payload)).Decode(&update); err != nil {
			return nil, err
		}
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &update); err != nil {
			return nil, err
		}
	}
	return &update, nil
}
