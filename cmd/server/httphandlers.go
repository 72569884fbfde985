package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/photoposts/internal/middleware"
	"example.com/photoposts/internal/models"
	"example.com/photoposts/internal/store"
	"example.com/photoposts/internal/validator"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes      = 1 << 20
	defaultHistoryMax = 50
	maxUsernameLength = 50
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// --- HTTP Handlers ---

// listPostsHandler returns one page of posts.
// Query parameters: ?skip=0&top=10&author=...&date=RFC3339&tags=a,b
// Malformed skip, top or date yield an empty page rather than an error.
func (s *Server) listPostsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	skip, okSkip := intParam(q.Get("skip"), 0)
	top, okTop := intParam(q.Get("top"), s.pageSize)
	filter, okFilter := parseFilter(q)
	if !okSkip || !okTop || !okFilter {
		logg.Info("http/posts", "Malformed list query, returning empty page")
		writeJSON(w, http.StatusOK, []models.Post{})
		return
	}

	writeJSON(w, http.StatusOK, s.posts.List(skip, top, filter))
}

// getPostHandler returns a single post by id.
func (s *Server) getPostHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.posts.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "post not found", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// createPostHandler adds the post given as JSON body.
// Expects a full post object: {"id","description","createdAt","author","photoLink","likes","hashTags"}
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	p, err := s.posts.Add(rec)
	if err != nil {
		s.handleStoreError(w, "http/posts", err)
		return
	}

	s.publish(r, models.EventPostAdded, p.ID, &p)

	logg.Info("http/posts", "Post created id="+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

// editPostHandler merges the JSON body into an existing post.
// id, author and createdAt in the body are ignored.
func (s *Server) editPostHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	patch, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	p, err := s.posts.Edit(id, patch)
	if err != nil {
		s.handleStoreError(w, "http/posts", err)
		return
	}

	s.publish(r, models.EventPostEdited, id, &p)

	logg.Info("http/posts", "Post edited id="+id)
	writeJSON(w, http.StatusOK, p)
}

// removePostHandler deletes a post.
func (s *Server) removePostHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.posts.Remove(id); err != nil {
		s.handleStoreError(w, "http/posts", err)
		return
	}

	s.publish(r, models.EventPostRemoved, id, nil)

	logg.Info("http/posts", "Post removed id="+id)
	w.WriteHeader(http.StatusNoContent)
}

// likePostHandler toggles the signed-in user's like on a post.
func (s *Server) likePostHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "sign in to like posts", "")
		return
	}

	id := chi.URLParam(r, "id")
	p, err := s.posts.Like(id, username)
	if err != nil {
		s.handleStoreError(w, "http/likes", err)
		return
	}

	s.publish(r, models.EventPostLiked, id, &p)
	writeJSON(w, http.StatusOK, p)
}

// historyHandler returns journaled events for a post, newest first.
// Query parameters: ?limit=50
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal is disabled", "")
		return
	}

	limit := defaultHistoryMax
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	id := chi.URLParam(r, "id")
	events, err := s.journal.History(id, limit)
	if err != nil {
		logg.Error("http/history", "Failed to read history for post id="+id, err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// createSessionHandler signs a user in.
// Expects JSON body: {"username": "Author 1"}
// Returns JSON response: {"username": ..., "token": ...}
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/session", "Invalid request body", err)
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	name := strings.TrimSpace(body.Username)
	if name == "" || len(name) > maxUsernameLength {
		writeError(w, http.StatusBadRequest, "username must be 1-50 characters", "username")
		return
	}

	token, err := middleware.IssueToken(s.secret, name, s.sessionTTL)
	if err != nil {
		logg.Error("http/session", "Failed to sign session token", err)
		writeError(w, http.StatusInternalServerError, "failed to generate token", "")
		return
	}

	logg.Info("http/session", "User signed in")
	writeJSON(w, http.StatusOK, map[string]any{
		"username": name,
		"token":    token,
	})
}

// getSessionHandler reports who is signed in, for the page header.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := middleware.UsernameFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"username": name,
		"signedIn": ok,
	})
}

// --- Helpers ---

// publish sends a mutation event; the mutation is already committed, so
// failures are logged and not surfaced to the caller.
func (s *Server) publish(r *http.Request, typ models.EventType, postID string, p *models.Post) {
	if !s.publisher.Enabled() {
		return
	}
	actor, _ := middleware.UsernameFromContext(r.Context())
	if err := s.publisher.Publish(models.NewEvent(typ, postID, actor, p)); err != nil {
		logg.Error("http/events", "Failed to publish "+string(typ)+" event", err)
	}
}

func (s *Server) handleStoreError(w http.ResponseWriter, module string, err error) {
	var valErr *validator.ValidationError
	switch {
	case errors.Is(err, store.ErrPostNotFound):
		writeError(w, http.StatusNotFound, "post not found", "")
	case errors.Is(err, store.ErrPostAlreadyExists):
		writeError(w, http.StatusConflict, "post already exists", models.FieldID)
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Error(), valErr.Field)
	case errors.Is(err, store.ErrInvalidPost),
		errors.Is(err, store.ErrInvalidPatch),
		errors.Is(err, store.ErrInvalidID),
		errors.Is(err, store.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		logg.Error(module, "Unexpected store error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// decodeRecord reads a JSON object body. Anything that is not an object
// (or is not JSON) is answered with 400 and ok=false.
func decodeRecord(w http.ResponseWriter, r *http.Request) (models.Record, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return nil, false
		}
		logg.Info("http/posts", "Invalid request body: "+err.Error())
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return nil, false
	}
	if raw == nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object", "")
		return nil, false
	}
	return models.RecordFromJSON(raw), true
}

func intParam(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFilter(q map[string][]string) (*models.Filter, bool) {
	var f models.Filter
	var set bool

	if author := firstValue(q, "author"); author != "" {
		f.Author = author
		set = true
	}
	if date := firstValue(q, "date"); date != "" {
		t, err := time.Parse(time.RFC3339Nano, date)
		if err != nil {
			return nil, false
		}
		f.Date = &t
		set = true
	}
	for _, raw := range q["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				f.Tags = append(f.Tags, tag)
				set = true
			}
		}
	}

	if !set {
		return nil, true
	}
	return &f, true
}

func firstValue(q map[string][]string, key string) string {
	if v := q[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logg.Error("http", "Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, errorResponse{Error: msg, Field: field})
}
