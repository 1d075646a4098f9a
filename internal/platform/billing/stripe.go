package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/funnelcoach/relay/pkg/config"
)

// CustomerLookup resolves a billing-provider customer reference to an email.
// Subscription events carry no email of their own, so this is the only way
// to join them to a CRM contact.
type CustomerLookup interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type StripeClient struct {
	api *client.API
	log *zap.SugaredLogger
}

// NewStripeClient builds the outbound Stripe API client. With no secret key
// configured the client is disabled and every lookup fails soft.
func NewStripeClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) CustomerLookup {
	if !cfg.StripeAPIEnabled() {
		return &StripeClient{log: log}
	}
	api := &client.API{}
	api.Init(cfg.Stripe.SecretKey, nil)
	return &StripeClient{api: api, log: log}
}

func (s *StripeClient) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if s.api == nil {
		return "", fmt.Errorf("stripe api disabled: no secret key configured")
	}
	if customerID == "" {
		return "", fmt.Errorf("empty customer id")
	}

	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	cust, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("failed to fetch customer %s: %w", customerID, err)
	}
	if cust.Email == "" {
		return "", fmt.Errorf("customer %s has no email", customerID)
	}
	return cust.Email, nil
}

var Module = fx.Options(
	fx.Provide(NewStripeClient),
)
