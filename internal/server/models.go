package server

import (
	"net/http"
	"strings"
	"time"
)

// handleListModels returns the priced model ids as an OpenAI-compatible
// model list. A model appears here exactly when the gateway can bill it;
// owned_by carries the id's family prefix (deepseek, qwen, glm).
func (s *server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	models := s.deps.Catalog.Models()

	now := time.Now().Unix()
	data := make([]modelEntry, len(models))
	for i, id := range models {
		owner, _, _ := strings.Cut(id, "-")
		data[i] = modelEntry{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: owner,
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
