package api

import (
	"net/http"

	"github.com/mailpool/mailpool/internal/api/helpers"
)

func Health(w http.ResponseWriter, r *http.Request) {
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"status": "ok"})
}
