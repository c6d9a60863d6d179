package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pysugar/gemini-relay/internal/proxy/mappers"
	"github.com/pysugar/gemini-relay/internal/providers/catalog"
)

// ModelsHandler handles GET /v1/models with the static catalog.
func ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Unix()

		list := mappers.ModelList{Object: "list"}
		for _, m := range catalog.Models() {
			list.Data = append(list.Data, mappers.ModelEntry{
				ID:      m.ID,
				Object:  "model",
				Created: now,
				OwnedBy: m.OwnedBy,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}
