package server

import "github.com/hamedsk/corpusqa/models"

// HTTPError is the JSON error envelope for all failing responses.
type HTTPError struct {
	Error string `json:"error"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
	Hybrid *bool  `json:"hybrid,omitempty"`
}

type SearchResponse struct {
	Query   string                `json:"query"`
	Hybrid  bool                  `json:"hybrid"`
	Results []models.RankedResult `json:"results"`
}

type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
	Hybrid   *bool  `json:"hybrid,omitempty"`
}

type StatusResponse struct {
	Status   string `json:"status"`
	Passages int64  `json:"passages"`
}
