package worker

import (
	"github.com/spec-kit/ops-portal/internal/cache"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/observability"
	"github.com/spec-kit/ops-portal/internal/service"
)

// Subscribers are the consumers of committed lifecycle events.
type Subscribers struct {
	Notifications *service.NotificationService
	Views         *cache.Views
	Metrics       *observability.Metrics
}

// StartSubscribers registers every configured subscriber on the dispatcher.
// Nil subscribers are skipped.
func StartSubscribers(dispatcher events.Dispatcher, subs Subscribers) {
	if dispatcher == nil {
		return
	}
	if subs.Notifications != nil {
		subs.Notifications.RegisterHandlers()
	}
	if subs.Views != nil {
		events.SubscribeAll(dispatcher, subs.Views.HandleEvent)
	}
	if subs.Metrics != nil {
		events.SubscribeAll(dispatcher, subs.Metrics.ObserveEvent)
	}
}
