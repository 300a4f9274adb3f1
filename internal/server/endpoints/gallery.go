package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/gallery"
	"github.com/quartershq/quarters/internal/store"
)

// GalleryResponse wraps a reconciled collection view.
type GalleryResponse struct {
	Table    string       `json:"table"`
	EntityID string       `json:"entity_id"`
	View     gallery.View `json:"view"`
}

// UpdateTagsRequest replaces an item's ordered tag list.
type UpdateTagsRequest struct {
	Tags []string `json:"tags"`
}

// ReorderRequest carries the full item id list in the new display order.
type ReorderRequest struct {
	Order []string `json:"order"`
}

// NavigateRequest moves focus by a relative offset.
type NavigateRequest struct {
	Delta int `json:"delta"`
}

// FocusRequest moves focus to a specific item.
type FocusRequest struct {
	ItemID string `json:"item_id"`
}

// galleryTables are the collections the reconciler manages. Scalar tables
// like brand_profiles refresh through extraction jobs, not gallery views.
var galleryTables = map[string]bool{
	store.TablePropertyImages: true,
	store.TableFloorPlans:     true,
	store.TableAmenities:      true,
}

// galleryParams validates the {table} and {entity} path values and resolves
// the session's reconciler for them. Writes the error response on failure.
func galleryParams(w http.ResponseWriter, r *http.Request) (*gallery.Reconciler, string, string, bool) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return nil, "", "", false
	}
	table := r.PathValue("table")
	if !galleryTables[table] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("table %q has no gallery view", table))
		return nil, "", "", false
	}
	entityID := r.PathValue("entity")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "entity id is required")
		return nil, "", "", false
	}
	return sess.Gallery(table, entityID), table, entityID, true
}

// galleryItemError maps reconciler errors to HTTP responses.
func galleryItemError(w http.ResponseWriter, err error) {
	if errors.Is(err, gallery.ErrUnknownItem) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// GetGalleryEndpoint handles GET /api/sessions/{session}/galleries/{table}/{entity}.
type GetGalleryEndpoint struct{}

func (e *GetGalleryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{session}/galleries/{table}/{entity}", e.handler
}

func (e *GetGalleryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a gallery view
//	@Description	Get the current reconciled collection view without refetching
//	@Tags			galleries
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			table	path		string	true	"Collection table"
//	@Param			entity	path		string	true	"Entity ID"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity} [get]
func (e *GetGalleryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *GetGalleryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id> <table> <entity-id>",
		Short: "Get the current gallery view",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s", args[0], args[1], args[2])
			var resp GalleryResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
}

// RefreshGalleryEndpoint handles POST /api/sessions/{session}/galleries/{table}/{entity}/refresh.
type RefreshGalleryEndpoint struct{}

func (e *RefreshGalleryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/galleries/{table}/{entity}/refresh", e.handler
}

func (e *RefreshGalleryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Refresh a gallery
//	@Description	Refetch the collection from the store and reconcile it into the view
//	@Tags			galleries
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			table	path		string	true	"Collection table"
//	@Param			entity	path		string	true	"Entity ID"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/refresh [post]
func (e *RefreshGalleryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	table := r.PathValue("table")
	if !galleryTables[table] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("table %q has no gallery view", table))
		return
	}
	entityID := r.PathValue("entity")

	view, err := sess.RefreshGallery(r.Context(), table, entityID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: view})
}

func (e *RefreshGalleryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <session-id> <table> <entity-id>",
		Short: "Refetch a collection and reconcile it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/refresh", args[0], args[1], args[2])
			var resp GalleryResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
}

// UpdateTagsEndpoint handles PUT /api/sessions/{session}/galleries/{table}/{entity}/items/{item}/tags.
type UpdateTagsEndpoint struct{}

func (e *UpdateTagsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/sessions/{session}/galleries/{table}/{entity}/items/{item}/tags", e.handler
}

func (e *UpdateTagsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update item tags
//	@Description	Replace an item's ordered tag list; the first tag is primary
//	@Tags			galleries
//	@Accept			json
//	@Produce		json
//	@Param			session	path		string				true	"Session ID"
//	@Param			table	path		string				true	"Collection table"
//	@Param			entity	path		string				true	"Entity ID"
//	@Param			item	path		string				true	"Item ID"
//	@Param			request	body		UpdateTagsRequest	true	"New tag list"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/items/{item}/tags [put]
func (e *UpdateTagsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}

	var req UpdateTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := rec.ApplyTags(r.PathValue("item"), req.Tags); err != nil {
		galleryItemError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *UpdateTagsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <session-id> <table> <entity-id> <item-id> <tag>...",
		Short: "Replace an item's tag list",
		Args:  cobra.MinimumNArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/items/%s/tags", args[0], args[1], args[2], args[3])
			var resp GalleryResponse
			if err := client.Put(cmd.Context(), path, UpdateTagsRequest{Tags: args[4:]}, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
}

// ToggleVisibilityEndpoint handles POST /api/sessions/{session}/galleries/{table}/{entity}/items/{item}/visibility.
type ToggleVisibilityEndpoint struct{}

func (e *ToggleVisibilityEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/galleries/{table}/{entity}/items/{item}/visibility", e.handler
}

func (e *ToggleVisibilityEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Toggle item visibility
//	@Description	Hide or show an item; hiding the focused item advances focus
//	@Tags			galleries
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			table	path		string	true	"Collection table"
//	@Param			entity	path		string	true	"Entity ID"
//	@Param			item	path		string	true	"Item ID"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/items/{item}/visibility [post]
func (e *ToggleVisibilityEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}

	if err := rec.ToggleVisibility(r.PathValue("item")); err != nil {
		galleryItemError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *ToggleVisibilityEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <session-id> <table> <entity-id> <item-id>",
		Short: "Toggle an item's visibility",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/items/%s/visibility", args[0], args[1], args[2], args[3])
			var resp GalleryResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
}

// ReorderGalleryEndpoint handles PUT /api/sessions/{session}/galleries/{table}/{entity}/order.
type ReorderGalleryEndpoint struct{}

func (e *ReorderGalleryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/sessions/{session}/galleries/{table}/{entity}/order", e.handler
}

func (e *ReorderGalleryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Reorder a gallery
//	@Description	Set the full display order; positions persist asynchronously
//	@Tags			galleries
//	@Accept			json
//	@Produce		json
//	@Param			session	path		string			true	"Session ID"
//	@Param			table	path		string			true	"Collection table"
//	@Param			entity	path		string			true	"Entity ID"
//	@Param			request	body		ReorderRequest	true	"Item ids in new order"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/order [put]
func (e *ReorderGalleryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := rec.SetOrder(req.Order); err != nil {
		galleryItemError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *ReorderGalleryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <session-id> <table> <entity-id> <item-id>...",
		Short: "Set the gallery display order",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/order", args[0], args[1], args[2])
			var resp GalleryResponse
			if err := client.Put(cmd.Context(), path, ReorderRequest{Order: args[3:]}, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
}

// NavigateGalleryEndpoint handles POST /api/sessions/{session}/galleries/{table}/{entity}/navigate.
type NavigateGalleryEndpoint struct{}

func (e *NavigateGalleryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/galleries/{table}/{entity}/navigate", e.handler
}

func (e *NavigateGalleryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Navigate a gallery
//	@Description	Move focus by a relative offset, clamped to the collection bounds
//	@Tags			galleries
//	@Accept			json
//	@Produce		json
//	@Param			session	path		string			true	"Session ID"
//	@Param			table	path		string			true	"Collection table"
//	@Param			entity	path		string			true	"Entity ID"
//	@Param			request	body		NavigateRequest	true	"Relative offset"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/navigate [post]
func (e *NavigateGalleryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}

	var req NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec.Navigate(req.Delta)
	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *NavigateGalleryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var delta int
	cmd := &cobra.Command{
		Use:   "navigate <session-id> <table> <entity-id>",
		Short: "Move gallery focus by a relative offset",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/navigate", args[0], args[1], args[2])
			var resp GalleryResponse
			if err := client.Post(cmd.Context(), path, NavigateRequest{Delta: delta}, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
	cmd.Flags().IntVar(&delta, "delta", 1, "Offset to move focus by (negative for backward)")
	return cmd
}

// FocusGalleryEndpoint handles POST /api/sessions/{session}/galleries/{table}/{entity}/focus.
type FocusGalleryEndpoint struct{}

func (e *FocusGalleryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{session}/galleries/{table}/{entity}/focus", e.handler
}

func (e *FocusGalleryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Focus an item
//	@Description	Move focus directly to one item by id
//	@Tags			galleries
//	@Accept			json
//	@Produce		json
//	@Param			session	path		string			true	"Session ID"
//	@Param			table	path		string			true	"Collection table"
//	@Param			entity	path		string			true	"Entity ID"
//	@Param			request	body		FocusRequest	true	"Item to focus"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/focus [post]
func (e *FocusGalleryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}

	var req FocusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := rec.Focus(req.ItemID); err != nil {
		galleryItemError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *FocusGalleryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "focus <session-id> <table> <entity-id> <item-id>",
		Short: "Move gallery focus to one item",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/focus", args[0], args[1], args[2])
			var resp GalleryResponse
			if err := client.Post(cmd.Context(), path, FocusRequest{ItemID: args[3]}, &resp); err != nil {
				return err
			}
			return api.Output(resp.View)
		},
	}
}

// RemoveGalleryItemEndpoint handles DELETE /api/sessions/{session}/galleries/{table}/{entity}/items/{item}.
type RemoveGalleryItemEndpoint struct{}

func (e *RemoveGalleryItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/sessions/{session}/galleries/{table}/{entity}/items/{item}", e.handler
}

func (e *RemoveGalleryItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Remove an item
//	@Description	Delete an item from the collection; it never reappears on refresh
//	@Tags			galleries
//	@Produce		json
//	@Param			session	path		string	true	"Session ID"
//	@Param			table	path		string	true	"Collection table"
//	@Param			entity	path		string	true	"Entity ID"
//	@Param			item	path		string	true	"Item ID"
//	@Success		200		{object}	GalleryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{session}/galleries/{table}/{entity}/items/{item} [delete]
func (e *RemoveGalleryItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, table, entityID, ok := galleryParams(w, r)
	if !ok {
		return
	}

	if err := rec.RemoveItem(r.Context(), r.PathValue("item")); err != nil {
		galleryItemError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Table: table, EntityID: entityID, View: rec.View()})
}

func (e *RemoveGalleryItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <session-id> <table> <entity-id> <item-id>",
		Short: "Remove an item from a gallery",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/sessions/%s/galleries/%s/%s/items/%s", args[0], args[1], args[2], args[3])
			if err := client.Delete(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Printf("Item removed: %s\n", args[3])
			return nil
		},
	}
}
