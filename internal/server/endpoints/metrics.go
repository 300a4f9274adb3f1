package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/svcctx"
)

// MetricsSummaryResponse wraps the engine counters.
type MetricsSummaryResponse struct {
	Summary metrics.Summary `json:"summary"`
}

// MetricsSummaryEndpoint handles GET /api/metrics.
type MetricsSummaryEndpoint struct{}

func (e *MetricsSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics", e.handler
}

func (e *MetricsSummaryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Engine metrics summary
//	@Description	Job outcomes, reconcile passes, and write failures since start
//	@Tags			metrics
//	@Produce		json
//	@Success		200	{object}	MetricsSummaryResponse
//	@Router			/api/metrics [get]
func (e *MetricsSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	writeJSON(w, http.StatusOK, MetricsSummaryResponse{Summary: rec.Snapshot()})
}

func (e *MetricsSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show engine metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp MetricsSummaryResponse
			if err := client.Get(cmd.Context(), "/api/metrics", &resp); err != nil {
				return err
			}
			return api.Output(resp.Summary)
		},
	}
}
