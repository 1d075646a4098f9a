package event_handler

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/funnelcoach/relay/internal/app/service/contact_sync"
	"github.com/funnelcoach/relay/internal/app/service/webhook_log"
	"github.com/funnelcoach/relay/internal/platform/billing"
	cfgpkg "github.com/funnelcoach/relay/pkg/config"
)

func newHandler(cfg *cfgpkg.Config, rec *webhook_log.Service, sync *contact_sync.Service, customers billing.CustomerLookup, log *zap.SugaredLogger) *Handler {
	return NewHandler(cfg, rec, sync, customers, log)
}

// Module exposes the webhook event handler via Fx.
var Module = fx.Options(
	fx.Provide(newHandler),
)
