package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// EventCheckoutSessionCompleted is the only event type the pipeline handles.
const EventCheckoutSessionCompleted = "checkout.session.completed"

var validate = validator.New()

// ParseEvent decodes and validates a webhook payload. Validation of a
// checkout session is only enforced for the event type the pipeline acts
// on; other event types are decoded just far enough to be ignored.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("stripe: decode event: %w", err)
	}

	if event.ID == "" || event.Type == "" {
		return Event{}, fmt.Errorf("stripe: event missing id or type")
	}

	if event.Type == EventCheckoutSessionCompleted {
		if err := validate.Struct(event.Data.Object); err != nil {
			return Event{}, fmt.Errorf("stripe: invalid checkout session: %w", err)
		}
	}

	return event, nil
}
