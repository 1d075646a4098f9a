package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/funnelcoach/relay/internal/app/api/server"
	contactsync "github.com/funnelcoach/relay/internal/app/service/contact_sync"
	eventhandler "github.com/funnelcoach/relay/internal/app/service/event_handler"
	webhooklog "github.com/funnelcoach/relay/internal/app/service/webhook_log"
	"github.com/funnelcoach/relay/internal/platform/billing"
	"github.com/funnelcoach/relay/internal/platform/crm"
	"github.com/funnelcoach/relay/internal/platform/db"
	"github.com/funnelcoach/relay/pkg/config"
	"github.com/funnelcoach/relay/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	server.Module,
	billing.Module,
	crm.Module,
	webhooklog.Module,
	contactsync.Module,
	eventhandler.Module,
)
