package endpoints

import (
	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/store"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// StoreManager is nil when the server points at a hosted store.
	StoreManager    *store.DockerManager
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{StoreManager: cfg.StoreManager},

		// Session endpoints
		&OpenSessionEndpoint{},
		&CloseSessionEndpoint{},

		// Extraction job endpoints
		&StartExtractionEndpoint{},
		&RetryExtractionEndpoint{},
		&ExtractionStatusEndpoint{},
		&ClearExtractionMessagesEndpoint{},
		&ListExtractionsEndpoint{},

		// Gallery endpoints
		&GetGalleryEndpoint{},
		&RefreshGalleryEndpoint{},
		&UpdateTagsEndpoint{},
		&ToggleVisibilityEndpoint{},
		&ReorderGalleryEndpoint{},
		&NavigateGalleryEndpoint{},
		&FocusGalleryEndpoint{},
		&RemoveGalleryItemEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},

		// Metrics endpoints
		&MetricsSummaryEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
