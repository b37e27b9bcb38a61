package api

import (
	"errors"
	"net/http"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

var validStrategies = map[string]bool{
	storage.StrategyGraphFirst: true,
	storage.StrategyImapFirst:  true,
	storage.StrategyGraphOnly:  true,
	storage.StrategyImapOnly:   true,
}

func groupJSON(g *storage.EmailGroup) map[string]any {
	return map[string]any{
		"id":            g.ID,
		"name":          g.Name,
		"description":   g.Description,
		"fetchStrategy": g.FetchStrategy,
		"createdAt":     g.CreatedAt,
	}
}

type groupRequest struct {
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	FetchStrategy string  `json:"fetchStrategy,omitempty"`
}

func (req *groupRequest) validate() error {
	if req.Name == "" {
		return apperr.Validation("name is required", nil)
	}
	if req.FetchStrategy == "" {
		req.FetchStrategy = storage.StrategyGraphFirst
	}
	if !validStrategies[req.FetchStrategy] {
		return apperr.Validation("unknown fetch strategy", req.FetchStrategy)
	}
	return nil
}

func (h *AdminHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	group, err := h.store.CreateGroup(r.Context(), req.Name, req.Description, req.FetchStrategy)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			helpers.RespondError(w, r, apperr.ErrGroupExists)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("group_created", "group_id", group.ID, "name", group.Name)
	helpers.RespondData(w, r, http.StatusCreated, groupJSON(group))
}

func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListGroups(r.Context())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupJSON(g))
	}
	helpers.RespondData(w, r, http.StatusOK, out)
}

func (h *AdminHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, groupJSON(group))
}

func (h *AdminHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	req := groupRequest{Name: group.Name, Description: group.Description, FetchStrategy: group.FetchStrategy}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	updated, err := h.store.UpdateGroup(r.Context(), group.ID, req.Name, req.Description, req.FetchStrategy)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			helpers.RespondError(w, r, apperr.ErrGroupExists)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, groupJSON(updated))
}

// DeleteGroup removes the bucket; member mailboxes fall back to
// ungrouped.
func (h *AdminHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := h.store.DeleteGroup(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondError(w, r, apperr.ErrGroupNotFound)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("group_deleted", "group_id", id)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "group deleted"})
}

func (h *AdminHandler) groupFromPath(r *http.Request) (*storage.EmailGroup, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	group, err := h.store.GetGroupByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrGroupNotFound
	}
	return group, err
}
