package di

import (
	"net/http"

	"go.uber.org/zap"

	"signals-backend/application/commands/bus"
	querybus "signals-backend/application/queries/bus"
	"signals-backend/application/services"
	"signals-backend/infrastructure/config"
	"signals-backend/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Persistence *Persistence
	Coordinator *services.Coordinator
	CommandBus  *bus.CommandBus
	QueryBus    *querybus.QueryBus
	Collector   *observability.Collector
	CloudWatch  *observability.CloudWatchMetrics
	Handler     http.Handler
}
