// Package billing integrates the account ledger with Stripe: starting
// checkout sessions and reconciling payment webhooks into subscription state.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"

	"github.com/blogmatic/blogmatic/internal/metrics"
	"github.com/blogmatic/blogmatic/internal/registry"
)

// ErrPaymentProvider wraps failures of the external billing API. Safe for
// the client to retry.
var ErrPaymentProvider = errors.New("payment provider error")

// CheckoutConfig holds the Stripe settings for starting subscriptions.
type CheckoutConfig struct {
	APIKey  string
	PriceID string // the single subscription product's price
	BaseURL string // public base URL for success/cancel redirects
}

// Checkout starts Stripe checkout sessions for the one subscription product.
type Checkout struct {
	registry *registry.AccountRegistry
	cfg      CheckoutConfig

	createCustomer        func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// NewCheckout creates a checkout initiator backed by the live Stripe API.
func NewCheckout(reg *registry.AccountRegistry, cfg CheckoutConfig) *Checkout {
	stripelib.Key = strings.TrimSpace(cfg.APIKey)
	return &Checkout{
		registry:              reg,
		cfg:                   cfg,
		createCustomer:        stripecustomer.New,
		createCheckoutSession: stripesession.New,
	}
}

// Initiate ensures the account has a billing customer and opens a checkout
// session for the subscription product, returning the redirect URL.
func (c *Checkout) Initiate(ctx context.Context, email string) (string, error) {
	acct, err := c.registry.GetAccount(email)
	if err != nil {
		return "", err
	}

	customerID, err := c.ensureCustomer(ctx, acct)
	if err != nil {
		return "", err
	}

	params := &stripelib.CheckoutSessionParams{
		Params:     stripelib.Params{Context: ctx},
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:   stripelib.String(customerID),
		SuccessURL: stripelib.String(c.cfg.BaseURL + "/checkout/success"),
		CancelURL:  stripelib.String(c.cfg.BaseURL + "/checkout/cancelled"),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(c.cfg.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
	}
	session, err := c.createCheckoutSession(params)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("provider_error").Inc()
		return "", fmt.Errorf("%w: create checkout session: %v", ErrPaymentProvider, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		metrics.CheckoutsTotal.WithLabelValues("provider_error").Inc()
		return "", fmt.Errorf("%w: empty checkout URL", ErrPaymentProvider)
	}

	metrics.CheckoutsTotal.WithLabelValues("started").Inc()
	log.Info().Str("email", acct.Email).Str("customer_id", customerID).Msg("checkout session created")
	return strings.TrimSpace(session.URL), nil
}

// ensureCustomer returns the account's billing customer reference, creating
// a Stripe customer on first use. The ledger's set-if-empty write decides
// the winner when two checkouts race; a customer created by the loser is
// simply never referenced again.
func (c *Checkout) ensureCustomer(ctx context.Context, acct *registry.Account) (string, error) {
	if acct.BillingCustomerID != "" {
		return acct.BillingCustomerID, nil
	}

	cust, err := c.createCustomer(&stripelib.CustomerParams{
		Params: stripelib.Params{Context: ctx},
		Email:  stripelib.String(acct.Email),
	})
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrPaymentProvider, err)
	}
	if cust == nil || strings.TrimSpace(cust.ID) == "" {
		return "", fmt.Errorf("%w: empty customer id", ErrPaymentProvider)
	}

	winner, err := c.registry.SetBillingCustomerID(acct.Email, cust.ID)
	if err != nil {
		return "", err
	}
	if winner != cust.ID {
		log.Debug().Str("email", acct.Email).Str("kept", winner).Str("discarded", cust.ID).
			Msg("billing customer already set by a concurrent checkout")
	}
	return winner, nil
}
