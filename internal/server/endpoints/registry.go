package endpoints

import (
	"github.com/jackzampolin/quire/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health
		&HealthEndpoint{},

		// Jobs
		&CreateJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&CancelJobEndpoint{},
		&ClearJobEndpoint{},
		&ResolveChoiceEndpoint{},
		&RetryJobEndpoint{},

		// Updates
		&CheckUpdatesEndpoint{},
		&IgnoreUpdatesEndpoint{},

		// Books
		&PreviewBookEndpoint{},

		// Library
		&ListLibraryEndpoint{},
		&LibraryFileEndpoint{},

		// Config
		&GetConfigEndpoint{},
		&UpdateConfigEndpoint{},
	}
}
