package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"tally/internal/model"
)

// Metadata keys attached to every checkout so the completion event carries the owner.
const (
	MetadataUserID   = "userId"
	MetadataQuantity = "quantity"
)

type CheckoutRequest struct {
	UserID     string
	Quantity   int64
	SuccessURL string
	CancelURL  string
}

type Checkout struct {
	ID  string
	URL string
}

// Processor creates redirect-based payment requests at the external processor.
type Processor interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
}

// StripeProcessor issues Checkout Sessions in payment mode for a single price.
type StripeProcessor struct {
	api     *client.API
	priceID string
}

func NewStripeProcessor(secretKey, priceID string) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, nil), priceID: priceID}
}

func (p *StripeProcessor) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.priceID),
				Quantity: stripe.Int64(req.Quantity),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)
	params.AddMetadata(MetadataQuantity, strconv.FormatInt(req.Quantity, 10))

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return Checkout{}, classifyStripeError(err)
	}
	return Checkout{ID: sess.ID, URL: sess.URL}, nil
}

// classifyStripeError marks transport failures, rate limits and 5xx as retryable.
// Other API errors mean the request itself is wrong (bad price, bad key).
func classifyStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %s", model.ErrUpstreamUnavailable, serr.Msg)
		}
		return fmt.Errorf("create checkout session: %w", err)
	}
	return fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
}

// SuccessURL expands the {userId} placeholder in tmpl.
func SuccessURL(tmpl, userID string) string {
	return strings.ReplaceAll(tmpl, "{userId}", url.QueryEscape(userID))
}
