package contact_sync

import "go.uber.org/fx"

// Module exposes the contact sync service via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
