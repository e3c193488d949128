// Package api serves stories and their audio over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/story"
)

// StoryStore is what the HTTP surface needs from story persistence
type StoryStore interface {
	GetHighestPriorityPending(ctx context.Context) (*story.Story, error)
	Delete(ctx context.Context, id string) error
}

// SceneResponse is a scene in a story payload
type SceneResponse struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	AudioPath string `json:"audio_path"`
}

// StoryResponse is the JSON form of a story
type StoryResponse struct {
	ID              string          `json:"id"`
	PriorityClass   string          `json:"priority_class"`
	RequestorName   string          `json:"requestor_name"`
	SourceTopicText string          `json:"source_topic_text"`
	Scenes          []SceneResponse `json:"scenes"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Options configures the optional parts of the HTTP surface
type Options struct {
	Checks         map[string]observability.HealthCheckFunc
	MetricsEnabled bool
}

// Server holds the HTTP handlers
type Server struct {
	stories   StoryStore
	audioRoot string
	hub       *Hub
	opts      Options
	logger    zerolog.Logger
}

// NewServer creates a Server. Audio is served from files under audioRoot only.
func NewServer(stories StoryStore, audioRoot string, hub *Hub, opts Options) *Server {
	return &Server{
		stories:   stories,
		audioRoot: audioRoot,
		hub:       hub,
		opts:      opts,
		logger:    observability.Component("api"),
	}
}

// Handler returns the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /story/getStory", s.getStory)
	mux.HandleFunc("DELETE /delete/{id}", s.deleteStory)
	mux.HandleFunc("GET /audio/{path...}", s.getAudio)
	mux.HandleFunc("GET /stories/ws", s.hub.ServeWS)

	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(s.opts.Checks))
	if s.opts.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	st, err := s.stories.GetHighestPriorityPending(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load story")
		writeError(w, http.StatusInternalServerError, "failed to load story")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "No story found")
		return
	}

	resp := StoryResponse{
		ID:              st.ID,
		PriorityClass:   st.SourcePriorityClass.String(),
		RequestorName:   st.RequestorName,
		SourceTopicText: st.SourceTopicText,
		Scenes:          make([]SceneResponse, len(st.Scenes)),
		CreatedAt:       st.CreatedAt,
	}
	for i, scene := range st.Scenes {
		resp.Scenes[i] = SceneResponse(scene)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteStory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.stories.Delete(r.Context(), id)
	switch {
	case errors.Is(err, story.ErrNotFound):
		writeError(w, http.StatusNotFound, "story not found")
	case err != nil:
		s.logger.Error().Err(err).Str("story_id", id).Msg("Failed to delete story")
		writeError(w, http.StatusInternalServerError, "failed to delete story")
	default:
		s.logger.Info().Str("story_id", id).Msg("Story deleted")
		writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
	}
}

func (s *Server) getAudio(w http.ResponseWriter, r *http.Request) {
	name := filepath.FromSlash(r.PathValue("path"))
	if !filepath.IsLocal(name) {
		writeError(w, http.StatusBadRequest, "invalid audio path")
		return
	}

	path := filepath.Join(s.audioRoot, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "Audio file not found")
		return
	}
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
