// Package cohort carries type lifecycle events between cohort members over
// NATS. Each cohort has one subject; every member publishes to it and
// subscribes to it.
package cohort

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/ruikei/internal/model"
)

// ErrMalformed is returned by Decode for a message that is not a type event.
var ErrMalformed = errors.New("cohort: malformed event")

// DefaultSubjectPrefix is prepended to the cohort name to form its subject.
const DefaultSubjectPrefix = "ruikei.cohort"

// Subject returns the NATS subject for cohort. Characters NATS treats as
// separators or wildcards are replaced.
func Subject(prefix, cohort string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, cohort)
	return prefix + "." + clean + ".typedefs"
}

// Encode serializes an event for the wire.
func Encode(ev model.TypeDefEvent) ([]byte, error) {
	if ev.EventType == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrMalformed)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("cohort: encode event: %w", err)
	}
	return data, nil
}

// Decode parses a wire event. Payload completeness is left to the
// reconciliation engine; Decode only rejects what cannot be routed at all.
func Decode(data []byte) (*model.TypeDefEvent, error) {
	var ev model.TypeDefEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("%w: event type is missing", ErrMalformed)
	}
	return &ev, nil
}
