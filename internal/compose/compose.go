// Package compose builds the recipient-facing message for a detection event.
package compose

import (
	"errors"
	"fmt"

	"lookout/internal/detect"
	"lookout/internal/transport"
)

// falseAlertTokenFormat keeps feedback tokens stable across releases;
// recipients' replies are matched against it to find the originating event.
const falseAlertTokenFormat = "false_alert_%s_%s"

const (
	defaultTitle = "object detected"
	defaultBody  = "help to report result"
)

var (
	// ErrImageURL wraps any URL-resolver failure. No message is sent then.
	ErrImageURL = errors.New("image url resolution failed")

	ErrNoResolver = errors.New("no image url resolver configured")
)

// URLResolver maps an opaque image reference to a publicly resolvable URL.
type URLResolver func(imageRef string) (string, error)

// FeedbackToken derives the deterministic false-alert token for an event ID.
// meta is reserved for disambiguation (e.g. multiple detections per event)
// and is empty today.
func FeedbackToken(eventID, meta string) string {
	return fmt.Sprintf(falseAlertTokenFormat, eventID, meta)
}

// Composer turns detection events into messages. Building a message has no
// side effects; the only failure mode is a resolver error.
type Composer struct {
	imageURL    URLResolver
	rawImageURL URLResolver
	metaSuffix  string
}

// New builds a Composer. imageURL is required; rawImageURL (the
// full-resolution variant) defaults to imageURL when nil, so the same URL
// serves as both thumbnail and full image.
func New(imageURL, rawImageURL URLResolver) (*Composer, error) {
	if imageURL == nil {
		return nil, ErrNoResolver
	}
	if rawImageURL == nil {
		rawImageURL = imageURL
	}
	return &Composer{imageURL: imageURL, rawImageURL: rawImageURL}, nil
}

// Build composes the message for one event. Resolver failures propagate
// wrapped in ErrImageURL.
func (c *Composer) Build(ev detect.Event) (transport.Message, error) {
	thumb, err := c.imageURL(ev.DrawnImageRef)
	if err != nil {
		return transport.Message{}, fmt.Errorf("%w: %v", ErrImageURL, err)
	}
	full, err := c.rawImageURL(ev.DrawnImageRef)
	if err != nil {
		return transport.Message{}, fmt.Errorf("%w: %v", ErrImageURL, err)
	}

	return transport.Message{
		Title:         defaultTitle,
		Body:          defaultBody,
		ThumbnailURL:  thumb,
		FullImageURL:  full,
		FeedbackToken: FeedbackToken(ev.ID, c.metaSuffix),
	}, nil
}
