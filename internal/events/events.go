package events

import "context"

// Streams
const (
	StreamMarket = "events:market"
)

// Event types
const (
	EventWalletStateChanged   = "wallet_state_changed"
	EventBalancesRefreshed    = "balances_refreshed"
	EventPurchasePhaseChanged = "purchase_phase_changed"
	EventListingCreated       = "listing_created"
	EventListingSold          = "listing_sold"
	EventNotification         = "notification" // transient user-facing toast
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Notification builds a transient user notification event. Every workflow
// failure produces one of these; level is "info" or "error".
func Notification(level, title, detail string) Event {
	return Event{
		Type: EventNotification,
		Payload: map[string]any{
			"level":  level,
			"title":  title,
			"detail": detail,
		},
	}
}
