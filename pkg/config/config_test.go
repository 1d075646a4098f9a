package config

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidate_RequiresWebhookSecret(t *testing.T) {
	c := &Config{}
	err := Validate(c, zap.NewNop().Sugar())
	require.Error(t, err)
	require.Contains(t, err.Error(), "webhook_secret")
}

func TestValidate_DegradedFeaturesWarnOnly(t *testing.T) {
	c := &Config{}
	c.Stripe.WebhookSecret = "whsec_x"

	err := Validate(c, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.False(t, c.CRMEnabled())
	require.False(t, c.StripeAPIEnabled())
}

func TestFeatureToggles(t *testing.T) {
	c := &Config{}
	c.CRM.APIKey = "key"
	c.Stripe.SecretKey = "sk_test"
	require.True(t, c.CRMEnabled())
	require.True(t, c.StripeAPIEnabled())
}
