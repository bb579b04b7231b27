package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"enterprisesearch/internal/ratelimit"
	"enterprisesearch/internal/util"
	"enterprisesearch/pkg/ai"
	"enterprisesearch/pkg/domain"
	"enterprisesearch/pkg/vector"
	"enterprisesearch/services/search/internal/app"
)

const defaultMaxUploadBytes = 50 << 20

// UserVerifier resolves a bearer token to the calling user.
type UserVerifier interface {
	VerifyUser(token string) (domain.User, error)
}

// Server exposes the search backend over HTTP.
type Server struct {
	app            *app.App
	verifier       UserVerifier
	chatLimiter    *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
}

// Config wires the HTTP layer. ChatLimiter and TrustedProxies are optional.
type Config struct {
	App            *app.App
	Verifier       UserVerifier
	ChatLimiter    *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// New constructs the server.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		chatLimiter:    cfg.ChatLimiter,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

// Router builds the HTTP handler with the shared middleware chain.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/projects", s.withUser(s.handleProjects))
	mux.HandleFunc("/projects/", s.withUser(s.handleProjectSubtree))
	mux.HandleFunc("/chat/", s.withUser(s.handleChat))
	mux.HandleFunc("/messages/", s.withUser(s.handleMessages))
	mux.HandleFunc("/validate/", s.withUser(s.handleValidate))
	return util.WithRequestID(util.WithRequestLog("search", util.WithSecurityHeaders(util.WithCORS(mux))))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.createProject(w, r)
	case http.MethodGet:
		s.listProjects(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// handleProjectSubtree routes /projects/{id}[/publish|/documents[/{docID}[/download]]].
func (s *Server) handleProjectSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 4)
	if parts[0] == "" {
		notFound(w, "project not found")
		return
	}
	projectID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleProject(w, r, user, projectID)
	case len(parts) == 2 && parts[1] == "publish":
		s.publishProject(w, r, user, projectID)
	case len(parts) == 2 && parts[1] == "documents":
		s.handleDocuments(w, r, user, projectID)
	case len(parts) == 3 && parts[1] == "documents":
		s.handleDocument(w, r, user, projectID, parts[2])
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "download":
		s.downloadDocument(w, r, user, projectID, parts[2])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		AccessType  string   `json:"accessType"`
		GroupIDs    []string `json:"groupIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	project, err := s.app.CreateProject(r.Context(), req.Name, req.Description, domain.AccessType(req.AccessType), req.GroupIDs)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	projects, err := s.app.ListProjects(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.app.GetProject(r.Context(), user, projectID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.app.DeleteProject(r.Context(), user, projectID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) publishProject(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	project, err := s.app.PublishProject(r.Context(), user, projectID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	switch r.Method {
	case http.MethodPost:
		s.uploadDocument(w, r, user, projectID)
	case http.MethodGet:
		documents, err := s.app.ListDocuments(r.Context(), user, projectID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	doc, report, err := s.app.UploadDocument(r.Context(), user, projectID, header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"document": doc,
		"ingest":   report,
	})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, user domain.User, projectID, documentID string) {
	switch r.Method {
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), user, projectID, documentID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) downloadDocument(w http.ResponseWriter, r *http.Request, user domain.User, projectID, documentID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, filename, err := s.app.GetDocumentURL(r.Context(), user, projectID, documentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "filename": filename})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	projectID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/"), "/")
	if projectID == "" {
		notFound(w, "project not found")
		return
	}
	if s.chatLimiter != nil {
		ip := util.ClientIP(r, s.trustedProxies)
		if !s.chatLimiter.Allow(ip) {
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	answer, err := s.app.Chat(r.Context(), user, projectID, req.Question)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response": answer.Response,
		"sources":  answer.Sources,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	projectID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/messages/"), "/")
	if projectID == "" {
		notFound(w, "project not found")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	messages, err := s.app.ListMessages(r.Context(), user, projectID, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	projectID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/validate/"), "/")
	if projectID == "" {
		notFound(w, "project not found")
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	decision, answer, err := s.app.ValidateQuery(r.Context(), user, projectID, req.Query)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": decision.Reason,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"response": answer.Response,
	})
}

// withUser authenticates the bearer token and passes the resolved user on.
func (s *Server) withUser(next func(http.ResponseWriter, *http.Request, domain.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.verifier.VerifyUser(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrProjectNotFound):
		notFound(w, "project not found")
	case errors.Is(err, app.ErrDocumentNotFound):
		notFound(w, "document not found")
	case errors.Is(err, app.ErrProjectForbidden):
		writeError(w, http.StatusForbidden, "access to this project is denied")
	case errors.Is(err, app.ErrProjectNotPublished):
		writeError(w, http.StatusConflict, "project is not published")
	case errors.Is(err, app.ErrUnsupportedFileType):
		writeError(w, http.StatusBadRequest, "unsupported file type")
	case vector.IsCapacityExceeded(err):
		writeError(w, http.StatusConflict, "vector index capacity exceeded")
	case errors.Is(err, ai.ErrGeneration):
		writeError(w, http.StatusBadGateway, "answer generation failed")
	default:
		slog.Error("request failed", "path", r.URL.Path, "request_id", util.RequestIDFromRequest(r), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
