package transport

import (
	"context"
	"time"
)

// RecipientID is an opaque, platform-scoped recipient identifier.
// For Telegram it is the decimal chat ID; other adapters may use whatever
// string form their platform hands out.
type RecipientID string

// Message is the recipient-facing payload the dispatcher composes per event.
// How it is rendered (buttons, captions, templates) is the adapter's concern.
//
// FeedbackToken is a deterministic string derived from the originating event;
// adapters must carry it back unchanged on a recipient's false-alert reply so
// the reply can be correlated to the event.
type Message struct {
	Title         string
	Body          string
	ThumbnailURL  string
	FullImageURL  string
	FeedbackToken string
}

// Feedback is a recipient's false-alert report routed back by an adapter.
type Feedback struct {
	Token string
	From  RecipientID
	At    time.Time
}

// PushChannel delivers one message to a set of recipients.
//
// Broadcast is invoked at most once per dispatched event. Batching, pacing
// and per-recipient fan-out across the set are the channel's concern; the
// dispatcher never retries a failed broadcast.
type PushChannel interface {
	Broadcast(ctx context.Context, to []RecipientID, msg Message) error
}

// FeedbackSink records false-alert feedback. Adapters call it when a
// recipient taps the report button on a delivered message.
type FeedbackSink interface {
	AppendFeedback(ctx context.Context, fb Feedback) error
}
