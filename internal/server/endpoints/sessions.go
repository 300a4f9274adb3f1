package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/session"
	"github.com/quartershq/quarters/internal/svcctx"
)

// SessionResponse describes one dashboard session.
type SessionResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// sessionFrom resolves the {session} path value against the session manager.
// It writes the error response itself and returns nil when the session is
// missing or the manager isn't wired yet.
func sessionFrom(w http.ResponseWriter, r *http.Request) *session.Session {
	mgr := svcctx.SessionsFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
		return nil
	}
	id := r.PathValue("session")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return nil
	}
	sess, err := mgr.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil
	}
	return sess
}

// OpenSessionEndpoint handles POST /api/sessions.
type OpenSessionEndpoint struct{}

func (e *OpenSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions", e.handler
}

func (e *OpenSessionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Open a session
//	@Description	Open a new dashboard session holding job and gallery state
//	@Tags			sessions
//	@Produce		json
//	@Success		201	{object}	SessionResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions [post]
func (e *OpenSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.SessionsFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
		return
	}

	sess := mgr.Open()
	writeJSON(w, http.StatusCreated, SessionResponse{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (e *OpenSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open a new dashboard session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SessionResponse
			if err := client.Post(cmd.Context(), "/api/sessions", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CloseSessionEndpoint handles DELETE /api/sessions/{session}.
type CloseSessionEndpoint struct{}

func (e *CloseSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/sessions/{session}", e.handler
}

func (e *CloseSessionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Close a session
//	@Description	Close a session, tearing down its job registry and bus subscriptions
//	@Tags			sessions
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Success		200		{object}	map[string]string
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session} [delete]
func (e *CloseSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.SessionsFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
		return
	}

	id := r.PathValue("session")
	if err := mgr.Close(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": id})
}

func (e *CloseSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a dashboard session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/sessions/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Session closed: %s\n", args[0])
			return nil
		},
	}
}
