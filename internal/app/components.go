package app

import (
	"github.com/stacklok/oic-target/internal/auth"
	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/httpclient"
	"github.com/stacklok/oic-target/internal/status"
	pkgsync "github.com/stacklok/oic-target/internal/sync"
	"github.com/stacklok/oic-target/internal/sync/coordinator"
	"github.com/stacklok/oic-target/internal/sync/orchestrator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Authenticator obtains and caches the OAuth2 token
	Authenticator auth.Authenticator

	// Client sends authenticated requests to the OIC REST API
	Client httpclient.Client

	// Registry maps streams to entity handlers
	Registry *entity.Registry

	// Dispatcher reconciles single records
	Dispatcher pkgsync.Dispatcher

	// Coordinator batches records per stream
	Coordinator coordinator.Coordinator

	// Orchestrator drives the run
	Orchestrator *orchestrator.Orchestrator

	// StatusPersistence stores the run status
	StatusPersistence status.StatusPersistence
}
