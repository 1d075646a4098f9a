package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	eh "github.com/funnelcoach/relay/internal/app/service/event_handler"
	"github.com/funnelcoach/relay/pkg/logctx"
)

const webhookBodyLimit = 1 << 20 // 1MiB

// @Summary      Stripe Webhook
// @Description  Handles Stripe billing events. The raw body is verified against the webhook signing secret before any parsing.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe signature header"
// @Success      200  {object}  map[string]bool
// @Failure      400  {object}  map[string]string
// @Router       /api/stripe/webhook [post]
// ApiStripeWebhook handles Stripe billing webhook deliveries.
func ApiStripeWebhook(h *eh.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, h.Logger)

		// The signature covers the exact original bytes; read them raw.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		err = h.HandleStripeEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, eh.ErrInvalidSignature) {
				log.Warnw("webhook_stripe_rejected", "error", err.Error())
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
				return
			}
			log.Errorw("webhook_stripe_handle_error", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func RegisterStripeWebhookRoutes(r gin.IRouter, h *eh.Handler) {
	// Mount under provided group, expected at "/api/stripe"
	r.POST("/webhook", ApiStripeWebhook(h))
}
