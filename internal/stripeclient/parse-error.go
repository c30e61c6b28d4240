package stripeclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"hsync/entity"
)

type stripeErrorRaw struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// describeError shortens a Stripe API error to status and message. Rate
// limits and provider outages wrap entity.ErrUnavailable.
func describeError(err error) error {
	status, message := 0, ""
	var se *stripe.Error
	if errors.As(err, &se) {
		status, message = se.HTTPStatusCode, se.Msg
	} else {
		var raw stripeErrorRaw
		if json.Unmarshal([]byte(err.Error()), &raw) != nil {
			return err
		}
		status, message = raw.Status, raw.Message
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("status %d: %s: %w", status, message, entity.ErrUnavailable)
	}
	return fmt.Errorf("status %d: %s", status, message)
}
