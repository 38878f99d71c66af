package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/orderbook"
)

// FeedStatus is one venue connection as reported by /feeds.
type FeedStatus struct {
	Venue         string    `json:"venue"`
	State         string    `json:"state"`
	Live          bool      `json:"live"`
	Halted        bool      `json:"halted"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Subscriptions int       `json:"subscriptions"`
}

// BookSource serves reconciled books.
type BookSource interface {
	Snapshot(ticker string) (orderbook.Book, bool)
	Tickers() []string
}

// PriceSource serves the fused spot price.
type PriceSource interface {
	FairValue() aggregator.Estimate
	Quotes() []aggregator.PriceQuote
}

// Deps are the read-only views the server exposes.
type Deps struct {
	Books      BookSource
	Prices     PriceSource
	Feeds      func() []FeedStatus
	OpenOrders func() int
	Metrics    http.Handler
}

// Server is the local ops HTTP surface.
type Server struct {
	deps   Deps
	router *mux.Router
	srv    *http.Server
}

// NewServer builds the router. Call Start to listen on addr.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{deps: deps, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/feeds", s.feeds).Methods(http.MethodGet)
	s.router.HandleFunc("/books", s.bookList).Methods(http.MethodGet)
	s.router.HandleFunc("/books/{ticker}", s.book).Methods(http.MethodGet)
	s.router.HandleFunc("/fairvalue", s.fairValue).Methods(http.MethodGet)
	if deps.Metrics != nil {
		s.router.Handle("/metrics", deps.Metrics)
	}

	s.router.HandleFunc("/debug/pprof/", pprof.Index)
	s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("🌐 Ops API listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops API stopped", slog.Any("error", err))
		}
	}()
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status     string   `json:"status"`
	Degraded   []string `json:"degraded,omitempty"`
	Books      int      `json:"books"`
	OpenOrders int      `json:"open_orders"`
}

// health is 200 while every feed is live, 503 otherwise.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Feeds != nil {
		for _, f := range s.deps.Feeds() {
			if !f.Live {
				resp.Degraded = append(resp.Degraded, f.Venue)
			}
		}
	}
	if s.deps.Books != nil {
		resp.Books = len(s.deps.Books.Tickers())
	}
	if s.deps.OpenOrders != nil {
		resp.OpenOrders = s.deps.OpenOrders()
	}
	code := http.StatusOK
	if len(resp.Degraded) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) feeds(w http.ResponseWriter, r *http.Request) {
	out := []FeedStatus{}
	if s.deps.Feeds != nil {
		out = s.deps.Feeds()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) bookList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Books == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Books.Tickers())
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if s.deps.Books == nil {
		http.Error(w, "book not found", http.StatusNotFound)
		return
	}
	b, ok := s.deps.Books.Snapshot(ticker)
	if !ok {
		http.Error(w, "book not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b.View())
}

type fairValueResponse struct {
	Estimate aggregator.Estimate     `json:"estimate"`
	Quotes   []aggregator.PriceQuote `json:"quotes"`
}

func (s *Server) fairValue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prices == nil {
		http.Error(w, "no price source", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, fairValueResponse{
		Estimate: s.deps.Prices.FairValue(),
		Quotes:   s.deps.Prices.Quotes(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", slog.Any("error", err))
	}
}
