package metrics

import "go.uber.org/fx"

// Module provides no-op observability. Infrastructure modules replace these
// values with fx.Decorate when a backend is configured.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
