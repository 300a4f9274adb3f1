package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/extraction"
	"github.com/quartershq/quarters/internal/worker"
)

// StartExtractionRequest carries worker options for a new job.
type StartExtractionRequest struct {
	Options map[string]any `json:"options,omitempty"`
}

// ExtractionResponse wraps a single job snapshot.
type ExtractionResponse struct {
	Job extraction.Snapshot `json:"job"`
}

// ExtractionListResponse lists the jobs a session tracks for one entity.
type ExtractionListResponse struct {
	Jobs []extraction.Snapshot `json:"jobs"`
}

// parseExtractionType resolves the {type} path value. Writes the error
// response and returns false when the type string is outside the enum.
func parseExtractionType(w http.ResponseWriter, r *http.Request) (extraction.Type, bool) {
	typ, err := extraction.ParseType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return typ, true
}

// StartExtractionEndpoint handles POST /api/sessions/{session}/extractions/{type}/{entity}/start.
type StartExtractionEndpoint struct{}

func (e *StartExtractionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/extractions/{type}/{entity}/start", e.handler
}

func (e *StartExtractionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start an extraction
//	@Description	Command the extraction worker to refresh one dataset for an entity
//	@Tags			extractions
//	@Accept			json
//	@Produce		json
//	@Param			session	path		string					true	"Session ID"
//	@Param			type	path		string					true	"Extraction type"
//	@Param			entity	path		string					true	"Entity ID"
//	@Param			request	body		StartExtractionRequest	false	"Worker options"
//	@Success		202		{object}	ExtractionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/extractions/{type}/{entity}/start [post]
func (e *StartExtractionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	typ, ok := parseExtractionType(w, r)
	if !ok {
		return
	}
	entityID := r.PathValue("entity")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "entity id is required")
		return
	}

	var req StartExtractionRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if err := worker.ValidateOptions(string(typ), req.Options); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sess.Jobs().Start(r.Context(), typ, entityID, req.Options); err != nil {
		if errors.Is(err, extraction.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ExtractionResponse{Job: sess.Jobs().Snapshot(typ, entityID)})
}

func (e *StartExtractionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var optionsJSON string
	cmd := &cobra.Command{
		Use:   "start <session-id> <type> <entity-id>",
		Short: "Start an extraction job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req StartExtractionRequest
			if optionsJSON != "" {
				if err := json.Unmarshal([]byte(optionsJSON), &req.Options); err != nil {
					return fmt.Errorf("invalid --options JSON: %w", err)
				}
			}
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/extractions/%s/%s/start", args[0], args[1], args[2])
			var resp ExtractionResponse
			if err := client.Post(cmd.Context(), path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp.Job)
		},
	}
	cmd.Flags().StringVar(&optionsJSON, "options", "", "Worker options as a JSON object")
	return cmd
}

// RetryExtractionEndpoint handles POST /api/sessions/{session}/extractions/{type}/{entity}/retry.
type RetryExtractionEndpoint struct{}

func (e *RetryExtractionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/extractions/{type}/{entity}/retry", e.handler
}

func (e *RetryExtractionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry an extraction
//	@Description	Re-run the last start command with the same arguments
//	@Tags			extractions
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			type	path		string	true	"Extraction type"
//	@Param			entity	path		string	true	"Entity ID"
//	@Success		202		{object}	ExtractionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/extractions/{type}/{entity}/retry [post]
func (e *RetryExtractionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	typ, ok := parseExtractionType(w, r)
	if !ok {
		return
	}
	entityID := r.PathValue("entity")

	if err := sess.Jobs().Retry(r.Context(), typ, entityID); err != nil {
		switch {
		case errors.Is(err, extraction.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, extraction.ErrNoPriorStart):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, ExtractionResponse{Job: sess.Jobs().Snapshot(typ, entityID)})
}

func (e *RetryExtractionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session-id> <type> <entity-id>",
		Short: "Retry the last extraction with the same arguments",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/extractions/%s/%s/retry", args[0], args[1], args[2])
			var resp ExtractionResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp.Job)
		},
	}
}

// ExtractionStatusEndpoint handles GET /api/sessions/{session}/extractions/{type}/{entity}.
type ExtractionStatusEndpoint struct{}

func (e *ExtractionStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{session}/extractions/{type}/{entity}", e.handler
}

func (e *ExtractionStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get extraction status
//	@Description	Get the state of one job; never-started jobs report idle
//	@Tags			extractions
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			type	path		string	true	"Extraction type"
//	@Param			entity	path		string	true	"Entity ID"
//	@Success		200		{object}	ExtractionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/extractions/{type}/{entity} [get]
func (e *ExtractionStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	typ, ok := parseExtractionType(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, ExtractionResponse{Job: sess.Jobs().Snapshot(typ, r.PathValue("entity"))})
}

func (e *ExtractionStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id> <type> <entity-id>",
		Short: "Get the state of one extraction job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/extractions/%s/%s", args[0], args[1], args[2])
			var resp ExtractionResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp.Job)
		},
	}
}

// ClearExtractionMessagesEndpoint handles POST /api/sessions/{session}/extractions/{type}/{entity}/clear.
type ClearExtractionMessagesEndpoint struct{}

func (e *ClearExtractionMessagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/extractions/{type}/{entity}/clear", e.handler
}

func (e *ClearExtractionMessagesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Clear extraction messages
//	@Description	Dismiss a terminal job's banner, returning it to idle
//	@Tags			extractions
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			type	path		string	true	"Extraction type"
//	@Param			entity	path		string	true	"Entity ID"
//	@Success		200		{object}	ExtractionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/extractions/{type}/{entity}/clear [post]
func (e *ClearExtractionMessagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	typ, ok := parseExtractionType(w, r)
	if !ok {
		return
	}
	entityID := r.PathValue("entity")

	sess.Jobs().ClearMessages(typ, entityID)
	writeJSON(w, http.StatusOK, ExtractionResponse{Job: sess.Jobs().Snapshot(typ, entityID)})
}

func (e *ClearExtractionMessagesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id> <type> <entity-id>",
		Short: "Dismiss a finished job's status banner",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/extractions/%s/%s/clear", args[0], args[1], args[2])
			var resp ExtractionResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp.Job)
		},
	}
}

// ListExtractionsEndpoint handles GET /api/sessions/{session}/entities/{entity}/extractions.
type ListExtractionsEndpoint struct{}

func (e *ListExtractionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{session}/entities/{entity}/extractions", e.handler
}

func (e *ListExtractionsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List extractions for an entity
//	@Description	List every job this session has tracked for one entity
//	@Tags			extractions
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			entity	path		string	true	"Entity ID"
//	@Success		200		{object}	ExtractionListResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/entities/{entity}/extractions [get]
func (e *ListExtractionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}

	jobs := sess.Jobs().List(r.PathValue("entity"))
	if jobs == nil {
		jobs = []extraction.Snapshot{}
	}
	writeJSON(w, http.StatusOK, ExtractionListResponse{Jobs: jobs})
}

func (e *ListExtractionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id> <entity-id>",
		Short: "List extraction jobs for an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/entities/%s/extractions", args[0], args[1])
			var resp ExtractionListResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp.Jobs)
		},
	}
}
