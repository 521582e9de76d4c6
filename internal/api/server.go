// Package api provides the HTTP server and handlers of the reference backing API.
package api

import (
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/auth"
	"github.com/fruitsalade/docnav/internal/events"
	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/internal/metadata"
	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/internal/storage"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 30 * time.Second

// Pool gzip writers to reduce allocations on the tree endpoint.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server is the HTTP server.
type Server struct {
	store       metadata.Store
	auth        *auth.Auth
	signer      storage.Signer
	broadcaster *events.Broadcaster
	log         *zap.Logger

	mu   sync.RWMutex
	tree *models.Node
}

// NewServer creates a new server.
func NewServer(store metadata.Store, authHandler *auth.Auth, signer storage.Signer, broadcaster *events.Broadcaster, log *zap.Logger) *Server {
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster()
	}
	return &Server{
		store:       store,
		auth:        authHandler,
		signer:      signer,
		broadcaster: broadcaster,
		log:         logging.OrGlobal(log).Named("api"),
	}
}

// Init builds the metadata tree.
func (s *Server) Init(ctx context.Context) error {
	s.log.Info("building metadata tree...")
	if err := s.RefreshTree(ctx); err != nil {
		return err
	}
	s.log.Info("metadata tree built", zap.Int("items", s.treeSize()))
	return nil
}

// RefreshTree rebuilds the metadata tree from the store.
func (s *Server) RefreshTree(ctx context.Context) error {
	root, err := s.store.Tree(ctx)
	if err != nil {
		return errors.Wrap(err, "build tree")
	}
	s.mu.Lock()
	s.tree = root
	s.mu.Unlock()
	metrics.SetMetadataTreeSize(tree.CountNodes(root))
	return nil
}

func (s *Server) treeSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tree.CountNodes(s.tree)
}

// visibleTree returns a private copy of the tree the caller may see.
func (s *Server) visibleTree(r *http.Request, publicOnly bool) *models.Node {
	s.mu.RLock()
	root := s.tree
	s.mu.RUnlock()

	if publicOnly || auth.GetClaims(r.Context()) == nil {
		return tree.FilterPublic(root)
	}
	return tree.Clone(root)
}

// publiclyVisible reports whether id is part of the anonymous projection.
func (s *Server) publiclyVisible(id string) bool {
	s.mu.RLock()
	root := s.tree
	s.mu.RUnlock()
	return tree.FindByID(tree.FilterPublic(root), id) != nil
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	handle := func(m *http.ServeMux, pattern string, h http.HandlerFunc) {
		m.HandleFunc(pattern, metrics.Route(h))
	}
	mux := http.NewServeMux()

	// Public endpoints
	handle(mux, "GET /health", s.handleHealth)
	handle(mux, "GET /login", s.auth.HandleLoginPage)
	handle(mux, "POST /login", s.auth.HandleLoginSubmit)
	handle(mux, "POST /api/v1/auth/exchange", s.auth.HandleExchange)

	// Optionally authenticated
	api := http.NewServeMux()
	handle(api, "GET /api/v1/tree", s.handleTree)
	handle(api, "GET /api/v1/search", s.handleSearch)
	handle(api, "GET /api/v1/events", s.handleEvents)
	handle(api, "GET /api/v1/auth/profile", auth.Require(s.auth.HandleProfile))

	// Mutations
	handle(api, "POST /api/v1/nodes/move", auth.Require(s.handleMove))
	handle(api, "POST /api/v1/nodes/rename", auth.Require(s.handleRename))
	handle(api, "POST /api/v1/nodes/access", auth.Require(s.handleAccess))
	handle(api, "POST /api/v1/nodes", auth.Require(s.handleCreateFolder))
	handle(api, "DELETE /api/v1/nodes/{id}", auth.Require(s.handleDelete))

	handle(mux, "/api/v1/", s.auth.Middleware(api).ServeHTTP)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{"status": "ok", "nodes": s.treeSize()})
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	publicOnly := r.URL.Query().Get("access") == "0"
	root := s.visibleTree(r, publicOnly)
	if root == nil {
		s.sendError(w, http.StatusInternalServerError, "metadata not initialized")
		return
	}
	storage.Decorate(r.Context(), s.signer, root)
	resp := protocol.TreeResponse{Root: root}

	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(resp)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

// ─── Search ─────────────────────────────────────────────────────────────────

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	resp := protocol.SearchResponse{Query: q, Results: []*models.Node{}}
	if q == "" {
		s.sendJSON(w, http.StatusOK, resp)
		return
	}

	root := s.visibleTree(r, false)
	for _, n := range metadata.Rank(root, q, metadata.DefaultSearchLimit) {
		storage.Decorate(r.Context(), s.signer, n)
		resp.Results = append(resp.Results, n)
	}
	s.log.Debug("search", logging.Query(q), zap.Int("results", len(resp.Results)))
	s.sendJSON(w, http.StatusOK, resp)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	audience := events.Public
	if auth.GetClaims(r.Context()) != nil {
		audience = events.Members
	}
	ch := s.broadcaster.Subscribe(audience)
	defer s.broadcaster.Unsubscribe(ch)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendStoreError maps metadata errors to HTTP statuses.
func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, metadata.ErrInvalid):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		logging.WithContext(r.Context()).Error("metadata store failure", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}
