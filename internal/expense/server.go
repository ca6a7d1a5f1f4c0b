package expense

import (
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/zombor/expense-tracker/internal/extract"
	"github.com/zombor/expense-tracker/internal/review"
)

// ScanSession is the receipt scan workflow the server drives
type ScanSession interface {
	Submit(image []byte, contentType string) (uint64, error)
	Snapshot() review.Snapshot
	RawText() (string, error)
	Edit(e review.DraftEdit) (extract.Draft, error)
	Confirm(commit func(extract.Draft) error) error
	Cancel() error
}

// Server handles HTTP requests for expenses and receipt scans
type Server struct {
	service   *Service
	scans     ScanSession
	basicAuth BasicAuth
	gatherer  prometheus.Gatherer
	mux       *http.ServeMux
	handler   http.Handler
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. gatherer may be nil, in
// which case /metrics is not served.
func NewServer(service *Service, scans ScanSession, basicAuth BasicAuth, gatherer prometheus.Gatherer) *Server {
	return NewServerWithMux(service, scans, basicAuth, gatherer, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, scans ScanSession, basicAuth BasicAuth, gatherer prometheus.Gatherer, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		scans:     scans,
		basicAuth: basicAuth,
		gatherer:  gatherer,
		mux:       mux,
	}
	s.registerRoutes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	}).Handler(mux)
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Expense Tracker"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/test", s.handleTest)

	// Expenses
	s.mux.HandleFunc("GET /api/expenses/summary", s.requireAuth(s.handleSummary))
	s.mux.HandleFunc("GET /api/expenses/export.xlsx", s.requireAuth(s.handleExport))
	s.mux.HandleFunc("GET /api/expenses/{id}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("PUT /api/expenses/{id}", s.requireAuth(s.handleUpdateExpense))
	s.mux.HandleFunc("DELETE /api/expenses/{id}", s.requireAuth(s.handleDeleteExpense))
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("POST /api/expenses", s.requireAuth(s.handleCreateExpense))

	// Receipt scan session
	s.mux.HandleFunc("GET /api/scan/text", s.requireAuth(s.handleScanText))
	s.mux.HandleFunc("PATCH /api/scan/draft", s.requireAuth(s.handleEditDraft))
	s.mux.HandleFunc("POST /api/scan/confirm", s.requireAuth(s.handleConfirmScan))
	s.mux.HandleFunc("POST /api/scan/cancel", s.requireAuth(s.handleCancelScan))
	s.mux.HandleFunc("GET /api/scan", s.requireAuth(s.handleScanStatus))
	s.mux.HandleFunc("POST /api/scan", s.requireAuth(s.handleSubmitScan))

	if s.gatherer != nil {
		metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
		s.mux.HandleFunc("GET /metrics", s.requireAuth(metrics.ServeHTTP))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
