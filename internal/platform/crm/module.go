package crm

import "go.uber.org/fx"

// Module exposes the CRM client and stage resolver via Fx.
var Module = fx.Options(
	fx.Provide(NewClient),
	fx.Provide(NewStageResolver),
)
