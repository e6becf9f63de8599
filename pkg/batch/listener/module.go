package listener

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/notification"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// AsListener annotates constructor so its result joins the listeners every job receives.
func AsListener(constructor any) any {
	return fx.Annotate(constructor, fx.As(new(any)), fx.ResultTags(`group:"listeners"`))
}

// GlobalParams collects the listeners contributed to the "listeners" group.
type GlobalParams struct {
	fx.In
	Listeners []any `group:"listeners"`
}

// Global is the Registry of listeners attached to every job built by the application.
type Global struct {
	*Registry
}

// NewGlobal registers the group members in the order fx supplies them.
func NewGlobal(p GlobalParams) (Global, error) {
	r := NewRegistry()
	for _, l := range p.Listeners {
		if err := r.Register(l); err != nil {
			return Global{}, err
		}
	}
	r.Describe("global listeners")
	return Global{Registry: r}, nil
}

// NewNotifier publishes to Redis when enabled and logs otherwise.
func NewNotifier(lc fx.Lifecycle, cfg *config.Config) port.Notifier {
	rc := cfg.ChunkBatch.Notification.Redis
	if !rc.Enabled {
		return notification.NewLogNotifier()
	}
	client := notification.NewRedisClient(rc)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warnf("Redis notifier at %s is unreachable: %v", rc.Addr, err)
			}
			return nil
		},
		OnStop: func(context.Context) error { return client.Close() },
	})
	return notification.NewRedisNotifier(client, rc.Channel)
}

func newNotificationListener(n port.Notifier, cfg *config.Config) *notification.Listener {
	return notification.NewListener(n, cfg.ChunkBatch.Notification.Steps)
}

// Module provides the Global registry with the logging and notification listeners.
var Module = fx.Options(
	fx.Provide(
		NewGlobal,
		NewNotifier,
		AsListener(logging.NewListener),
		AsListener(newNotificationListener),
	),
)
