package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"tally/internal/model"
)

const SignatureHeader = "Stripe-Signature"

// Verifier authenticates processor notifications. It must be given the request
// body exactly as received; re-encoding a parsed body breaks the signature.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// Verify checks signatureHeader against rawPayload and decodes the event.
// Every failure wraps model.ErrSignatureInvalid.
func (v *Verifier) Verify(rawPayload []byte, signatureHeader string) (model.VerifiedEvent, error) {
	if v.secret == "" {
		return model.VerifiedEvent{}, fmt.Errorf("%w: webhook secret not configured", model.ErrSignatureInvalid)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return model.VerifiedEvent{}, fmt.Errorf("%w: missing %s header", model.ErrSignatureInvalid, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(rawPayload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{
			Tolerance:                v.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return model.VerifiedEvent{}, fmt.Errorf("%w: %v", model.ErrSignatureInvalid, err)
	}

	return decodeEvent(event, v.now())
}

func decodeEvent(event stripe.Event, receivedAt time.Time) (model.VerifiedEvent, error) {
	if event.ID == "" {
		return model.VerifiedEvent{}, fmt.Errorf("%w: event id missing", model.ErrSignatureInvalid)
	}

	ev := model.VerifiedEvent{
		NotificationID: event.ID,
		Type:           model.EventType(event.Type),
		ReceivedAt:     receivedAt,
	}

	switch ev.Type {
	case model.EventCheckoutCompleted, model.EventAsyncPaymentSucceeded:
	default:
		// Other event types carry objects we never look at.
		return ev, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return model.VerifiedEvent{}, fmt.Errorf("%w: event data missing", model.ErrSignatureInvalid)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return model.VerifiedEvent{}, fmt.Errorf("%w: decode checkout session: %v", model.ErrSignatureInvalid, err)
	}
	if sess.ID == "" {
		return model.VerifiedEvent{}, fmt.Errorf("%w: checkout session id missing", model.ErrSignatureInvalid)
	}

	ev.IntentID = sess.ID
	ev.UserID = strings.TrimSpace(sess.Metadata[MetadataUserID])
	if ev.UserID == "" {
		ev.UserID = strings.TrimSpace(sess.ClientReferenceID)
	}
	if q, err := strconv.ParseInt(sess.Metadata[MetadataQuantity], 10, 64); err == nil && q > 0 {
		ev.Quantity = q
	}
	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		ev.Paid = true
	}
	return ev, nil
}
