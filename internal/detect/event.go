// Package detect holds the detection-event value types handed to the
// dispatcher by an upstream vision pipeline. The core only reads them.
package detect

import "strings"

// Box is a bounding box in pixel coordinates (left, top, right, bottom).
type Box struct {
	X1, Y1, X2, Y2 int
}

// Object is a single detected object within an event.
type Object struct {
	Label      string
	Confidence float64
	Box        Box
}

// Event is an immutable detection event. ID uniquely identifies the event
// across the pipeline (it is also what feedback tokens are derived from).
// DrawnImageRef is an opaque reference (path/handle) to the annotated image;
// resolving it to a public URL is the composer's concern.
type Event struct {
	ID            string
	Objects       []Object
	DrawnImageRef string
}

// Labels returns the distinct labels present in the event, in first-seen order.
func (e Event) Labels() []string {
	seen := make(map[string]struct{}, len(e.Objects))
	out := make([]string, 0, len(e.Objects))
	for _, o := range e.Objects {
		l := strings.TrimSpace(o.Label)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// HasLabel reports whether any detected object carries the given label.
func (e Event) HasLabel(label string) bool {
	for _, o := range e.Objects {
		if o.Label == label {
			return true
		}
	}
	return false
}
