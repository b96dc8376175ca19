// Package httpapi implements the front-end adapter: a thin HTTP layer
// exposing the three client-facing calls (GetAll, Get, Put) that the core
// chain-replication logic (or the non-replicated solo mode) provides,
// plus a liveness probe and a Prometheus scrape endpoint.
package httpapi

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/distkv/chainkv/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Logic is the core surface the front-end adapter talks to: either
// internal/chain.Chain or internal/solo.Solo.
type Logic interface {
	Get(key string) (string, bool)
	Put(key, value string)
	GetAll() []store.Entry
}

// Server wires Logic to three HTTP routes (plus /healthz and /metrics).
type Server struct {
	logic  Logic
	log    *logrus.Entry
	router *mux.Router
}

// New builds a Server. reg is the Prometheus gatherer to expose at
// /metrics; pass prometheus.DefaultGatherer in production, a private
// registry in tests.
func New(logic Logic, reg prometheus.Gatherer, log *logrus.Entry) *Server {
	s := &Server{
		logic: logic,
		log:   log.WithField("component", "httpapi"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/get", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/put", s.handlePut).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries := s.logic.GetAll()

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><head>\n<title>chainkv</title>\n</head><body>\n")
	if len(entries) == 0 {
		fmt.Fprint(w, "Found no entries in the database.")
	} else {
		fmt.Fprint(w, "Found the following entries: <br />\n<ul>\n")
		for _, e := range entries {
			fmt.Fprintf(w, "<li>%s: %s</li>\n", html.EscapeString(e.Key), html.EscapeString(e.Value))
		}
		fmt.Fprint(w, "</ul>\n")
	}
	fmt.Fprint(w, "</html>")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, `{"error":"missing query parameter \"key\""}`, http.StatusBadRequest)
		return
	}

	value, ok := s.logic.Get(key)
	var body struct {
		Value *string `json:"value"`
	}
	if ok {
		body.Value = &value
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, `{"error":"missing query parameter \"key\""}`, http.StatusBadRequest)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"malformed body: %s"}`, err), http.StatusBadRequest)
		return
	}

	s.logic.Put(key, body.Value)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
