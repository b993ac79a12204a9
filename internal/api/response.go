// internal/api/response.go
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github-star-sync/internal/model"
)

type starResponse struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Owner       string     `json:"owner"`
	FullName    string     `json:"full_name"`
	Description *string    `json:"description"`
	Stars       int        `json:"stars"`
	Language    *string    `json:"language"`
	Topics      []string   `json:"topics"`
	StarredAt   time.Time  `json:"starred_at"`
	PushedAt    *time.Time `json:"pushed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type listResponse struct {
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Items  []starResponse `json:"items"`
}

func newStarResponse(s model.StarredRepo) starResponse {
	topics := s.Topics
	if topics == nil {
		topics = []string{}
	}
	return starResponse{
		ID:          s.ID,
		Name:        s.Name,
		Owner:       s.Owner,
		FullName:    s.FullName,
		Description: s.Description,
		Stars:       s.StarCount,
		Language:    s.Language,
		Topics:      topics,
		StarredAt:   s.StarredAt,
		PushedAt:    s.PushedAt,
		CreatedAt:   s.RepoCreatedAt,
	}
}

// respondWithError sends a JSON error message.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON marshals the payload to JSON and writes it to the response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
