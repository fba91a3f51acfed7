// internal/server/mux.go
// Package server implements the HTTP surface of the store client: the app page model,
// its event stream, category listings and install/remove actions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SnapStoreCommunity/snap-store-go/internal/auth"
	"github.com/SnapStoreCommunity/snap-store-go/internal/cache"
	"github.com/SnapStoreCommunity/snap-store-go/internal/catalog"
	errordefs "github.com/SnapStoreCommunity/snap-store-go/internal/errors"
	"github.com/SnapStoreCommunity/snap-store-go/internal/media"
	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
	"github.com/SnapStoreCommunity/snap-store-go/internal/page"
	"github.com/SnapStoreCommunity/snap-store-go/internal/snapd"
	"github.com/SnapStoreCommunity/snap-store-go/internal/telemetry"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	ContextKeySubject       ContextKey = "subject"       // Token subject of an authenticated request
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	maxBodySize = 64 << 10
)

// Snap and section names: lowercase alphanumerics separated by single hyphens.
var namePattern = regexp.MustCompile(`^[a-z0-9](?:-?[a-z0-9])*$`)

func validName(name string) bool {
	return len(name) <= 40 && namePattern.MatchString(name)
}

// Installer performs install and remove actions, returning a change id.
type Installer interface {
	Install(ctx context.Context, name, channel string) (string, error)
	Remove(ctx context.Context, name string) (string, error)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Page      *page.Page
	Catalog   *catalog.Service
	Installer Installer
	Cache     cache.Cache
	Mirror    media.Mirror   // Defaults to media.Passthrough
	Verifier  *auth.Verifier // Nil leaves POST routes unauthenticated
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Mux handles HTTP requests for the store client.
type Mux struct {
	mux       *http.ServeMux
	page      *page.Page
	catalog   *catalog.Service
	installer Installer
	cache     cache.Cache
	mirror    media.Mirror
	verifier  *auth.Verifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewMux creates the HTTP handler with all store client endpoints.
func NewMux(d Deps) http.Handler {
	if d.Mirror == nil {
		d.Mirror = media.Passthrough{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetrics()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	m := &Mux{
		mux:       http.NewServeMux(),
		page:      d.Page,
		catalog:   d.Catalog,
		installer: d.Installer,
		cache:     d.Cache,
		mirror:    d.Mirror,
		verifier:  d.Verifier,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}

	// Health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// App page
	m.mux.HandleFunc("/v1/page/select", m.method("POST", m.withMiddleware(m.handleSelect)))
	m.mux.HandleFunc("/v1/page", m.method("GET", m.withMiddleware(m.handleGetPage)))
	m.mux.HandleFunc("/v1/page/events", m.method("GET", m.withMiddleware(m.handlePageEvents)))
	m.mux.HandleFunc("/v1/page/media", m.method("GET", m.withMiddleware(m.handlePageMedia)))

	// Categories and actions
	m.mux.HandleFunc("/v1/categories", m.method("GET", m.withMiddleware(m.handleCategories)))
	m.mux.HandleFunc("/v1/categories/{name}", m.method("GET", m.withMiddleware(m.handleCategory)))
	m.mux.HandleFunc("/v1/apps/{name}/install", m.method("POST", m.withMiddleware(m.handleInstall)))
	m.mux.HandleFunc("/v1/apps/{name}/remove", m.method("POST", m.withMiddleware(m.handleRemove)))

	if len(d.CORSAllowedOrigins) == 0 {
		return m.mux
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: d.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
		ExposedHeaders: []string{"X-Correlation-Id"},
		MaxAge:         86400,
	})(m.mux)
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			err := errordefs.New(errordefs.STORE_BAD_REQUEST, "method not allowed", "")
			m.writeError(w, http.StatusMethodNotAllowed, string(err.Code), err.Message, "", nil)
			return
		}
		h(w, r)
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// withMiddleware applies correlation ids, tracing, authentication, logging and metrics.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-Id", correlationID)

		ctx, span := telemetry.Tracer().Start(r.Context(), r.Method+" "+r.Pattern)
		defer span.End()
		span.SetAttributes(attribute.String("correlation_id", correlationID))

		ctx = context.WithValue(ctx, ContextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		var authErr error
		if r.Method == http.MethodPost && m.verifier != nil {
			subject, err := m.authenticate(r)
			if err != nil {
				authErr = err
				var e *errordefs.Error
				if !errors.As(err, &e) {
					e = errordefs.New(errordefs.STORE_AUTHN, err.Error(), "")
				}
				e.CorrelationID = correlationID
				m.writeErrorDef(rec, e)
			} else {
				r = r.WithContext(context.WithValue(r.Context(), ContextKeySubject, subject))
			}
		}
		if authErr == nil {
			h(rec, r)
		}

		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, fmt.Sprint(rec.status)).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		m.logRequest(r, rec.status, time.Since(start), correlationID, authErr)
	}
}

// authenticate validates the bearer token and returns its subject.
func (m *Mux) authenticate(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.STORE_AUTHN, "missing Authorization header", "")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", errordefs.New(errordefs.STORE_AUTHN, "invalid Authorization header format", "")
	}

	claims, err := m.verifier.Verify(r.Context(), tokenString)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "", errordefs.New(errordefs.STORE_JWT_EXPIRED, "JWT token expired", "")
	case err != nil:
		return "", errordefs.New(errordefs.STORE_JWT_INVALID, err.Error(), "")
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", errordefs.New(errordefs.STORE_JWT_INVALID, "missing or invalid sub claim", "")
	}
	return subject, nil
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	return id
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeError writes an error response following the store error taxonomy
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]interface{}{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	}
	if details != nil {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}
	if subject, ok := r.Context().Value(ContextKeySubject).(string); ok && subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}

	switch {
	case err != nil:
		attrs = append(attrs, slog.String("error", err.Error()))
		m.logger.LogAttrs(r.Context(), slog.LevelWarn, "request rejected", attrs...)
	case status >= 500:
		m.logger.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	default:
		m.logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks that the cache answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// A miss proves the backend is reachable
	_, err := m.cache.Lookup(ctx, "health", "readyz")
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSelect handles POST /v1/page/select.
func (m *Mux) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req model.SelectAppRequest
	if err := decodeBody(r, &req); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_BAD_REQUEST, "invalid request body", correlationID(r)))
		return
	}
	if !validName(req.Name) {
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.STORE_VALIDATION, "invalid snap name", correlationID(r), map[string]string{"name": req.Name}))
		return
	}

	app := m.page.Resolve(r.Context(), req.Name)
	if err := m.page.SetApp(app); err != nil {
		code := errordefs.STORE_INTERNAL
		if errors.Is(err, page.ErrClosed) {
			code = errordefs.STORE_UNAVAILABLE
		}
		m.writeErrorDef(w, errordefs.New(code, err.Error(), correlationID(r)))
		return
	}
	m.writeSuccess(w, http.StatusOK, m.page.Snapshot())
}

// handleGetPage handles GET /v1/page.
func (m *Mux) handleGetPage(w http.ResponseWriter, r *http.Request) {
	st := m.page.Snapshot()
	if st.SessionID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_NOT_FOUND, "no app selected", correlationID(r)))
		return
	}
	m.writeSuccess(w, http.StatusOK, st)
}

// handlePageEvents streams page updates as server-sent events.
// The optional fields query parameter ("title,reviews,state") limits the stream to those fields.
func (m *Mux) handlePageEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_NOT_IMPLEMENTED, "streaming unsupported", correlationID(r)))
		return
	}

	var fields []model.Field
	if f := r.URL.Query().Get("fields"); f != "" {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fields = append(fields, model.Field(name))
			}
		}
	}

	// The stream outlives the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := m.page.Subscribe(fields...)
	defer m.page.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			m.logger.Error("failed to marshal page update", "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	st := m.page.Snapshot()
	if !send("snapshot", page.Update{SessionID: st.SessionID, State: st}) {
		return
	}

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-sub.C:
			if !ok || !send("update", u) {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handlePageMedia handles GET /v1/page/media.
func (m *Mux) handlePageMedia(w http.ResponseWriter, r *http.Request) {
	st := m.page.Snapshot()
	if st.SessionID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_NOT_FOUND, "no app selected", correlationID(r)))
		return
	}
	m.writeSuccess(w, http.StatusOK, media.Resolve(r.Context(), m.mirror, st.App))
}

// handleCategories handles GET /v1/categories.
func (m *Mux) handleCategories(w http.ResponseWriter, r *http.Request) {
	links, err := m.catalog.Categories(r.Context())
	if err != nil {
		m.writeErrorDef(w, backendError(err, correlationID(r)))
		return
	}
	m.writeSuccess(w, http.StatusOK, links)
}

// handleCategory handles GET /v1/categories/{name}.
func (m *Mux) handleCategory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validName(name) {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_VALIDATION, "invalid category name", correlationID(r)))
		return
	}

	cat, stale, err := m.catalog.Category(r.Context(), name)
	if err != nil {
		m.writeErrorDef(w, backendError(err, correlationID(r)))
		return
	}
	hero, tiles := catalog.Layout(cat.Apps)
	m.writeSuccess(w, http.StatusOK, model.CategoryResponse{Category: cat, Hero: hero, Tiles: tiles, Stale: stale})
}

// handleInstall handles POST /v1/apps/{name}/install.
func (m *Mux) handleInstall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validName(name) {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_VALIDATION, "invalid snap name", correlationID(r)))
		return
	}
	var req model.InstallRequest
	if err := decodeBody(r, &req); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_BAD_REQUEST, "invalid request body", correlationID(r)))
		return
	}

	change, err := m.installer.Install(r.Context(), name, req.Channel)
	if err != nil {
		m.writeErrorDef(w, backendError(err, correlationID(r)))
		return
	}
	m.logger.Info("Install requested", "app", name, "channel", req.Channel, "change", change)
	m.writeSuccess(w, http.StatusAccepted, model.ChangeResponse{Name: name, Action: "install", Change: change})
}

// handleRemove handles POST /v1/apps/{name}/remove.
func (m *Mux) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validName(name) {
		m.writeErrorDef(w, errordefs.New(errordefs.STORE_VALIDATION, "invalid snap name", correlationID(r)))
		return
	}

	change, err := m.installer.Remove(r.Context(), name)
	if err != nil {
		m.writeErrorDef(w, backendError(err, correlationID(r)))
		return
	}
	m.logger.Info("Remove requested", "app", name, "change", change)
	m.writeSuccess(w, http.StatusAccepted, model.ChangeResponse{Name: name, Action: "remove", Change: change})
}

// backendError maps a snapd failure onto the error taxonomy.
func backendError(err error, correlationID string) *errordefs.Error {
	if errors.Is(err, snapd.ErrNotFound) {
		return errordefs.New(errordefs.STORE_NOT_FOUND, err.Error(), correlationID)
	}
	var se *snapd.Error
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return errordefs.NewWithDetails(errordefs.STORE_CONFLICT, se.Message, correlationID, map[string]string{"kind": se.Kind})
	}
	return errordefs.New(errordefs.STORE_BACKEND, err.Error(), correlationID)
}
