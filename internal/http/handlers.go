package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/airbar/internal/dispute"
	"github.com/example/airbar/internal/lifecycle"
	"github.com/example/airbar/internal/matcher"
	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/notify"
	"github.com/example/airbar/internal/storage"
)

type Server struct {
	Catalog  *lifecycle.Catalog
	Finder   *matcher.Finder
	Requests *lifecycle.Requests
	Matches  *lifecycle.Matches
	Disputes *dispute.Workflow
	Store    storage.Store
	WSReg    *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(catalog *lifecycle.Catalog, finder *matcher.Finder, requests *lifecycle.Requests,
	matches *lifecycle.Matches, disputes *dispute.Workflow, store storage.Store,
	wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Catalog:  catalog,
		Finder:   finder,
		Requests: requests,
		Matches:  matches,
		Disputes: disputes,
		Store:    store,
		WSReg:    wsreg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/locations", s.handleCreateLocation).Methods("POST")

	api.HandleFunc("/trips", s.handleCreateTrip).Methods("POST")
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{id}/cancel", s.handleCancelTrip).Methods("POST")
	api.HandleFunc("/trips/{id}/matches", s.handleTripMatches).Methods("GET")

	api.HandleFunc("/packages", s.handleCreatePackage).Methods("POST")
	api.HandleFunc("/packages/{id}", s.handleGetPackage).Methods("GET")
	api.HandleFunc("/packages/{id}/cancel", s.handleCancelPackage).Methods("POST")
	api.HandleFunc("/packages/{id}/matches", s.handlePackageMatches).Methods("GET")

	api.HandleFunc("/match-requests", s.handleCreateMatchRequest).Methods("POST")
	api.HandleFunc("/match-requests/{id}", s.handleGetMatchRequest).Methods("GET")
	api.HandleFunc("/match-requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/match-requests/{id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/match-requests/{id}/pay", s.handlePay).Methods("POST")

	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods("GET")
	api.HandleFunc("/matches/{id}/tracking", s.handleTracking).Methods("POST")
	api.HandleFunc("/matches/{id}/dispute", s.handleCreateDispute).Methods("POST")

	api.HandleFunc("/disputes/{id}", s.handleGetDispute).Methods("GET")
	api.HandleFunc("/disputes/{id}/timeline", s.handleDisputeTimeline).Methods("POST")
	api.HandleFunc("/disputes/{id}/transition", s.handleDisputeTransition).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var l models.Location
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	if l.ID == "" {
		l.ID = models.NewID()
	}
	if err := s.Store.AddLocation(l); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var t models.Trip
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	created, err := s.Catalog.CreateTrip(&t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Catalog.GetTrip(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Catalog.CancelTrip(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Finder.Invalidate(r.Context(), t.ID, "")
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTripMatches(w http.ResponseWriter, r *http.Request) {
	got, err := s.Finder.FindMatchingPackages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if got == nil {
		got = []matcher.PackageMatch{}
	}
	s.writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var p models.Package
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	created, err := s.Catalog.CreatePackage(&p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	p, err := s.Catalog.GetPackage(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancelPackage(w http.ResponseWriter, r *http.Request) {
	p, err := s.Catalog.CancelPackage(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Finder.Invalidate(r.Context(), "", p.ID)
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePackageMatches(w http.ResponseWriter, r *http.Request) {
	got, err := s.Finder.FindMatchingTrips(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if got == nil {
		got = []matcher.TripMatch{}
	}
	s.writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleCreateMatchRequest(w http.ResponseWriter, r *http.Request) {
	var req models.MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	created, err := s.Requests.Create(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetMatchRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req, err := s.Requests.Accept(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	req, err := s.Requests.Decline(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentRef string `json:"payment_ref"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	req, m, err := s.Requests.Pay(r.Context(), mux.Vars(r)["id"], body.PaymentRef)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// fresh supply state: the paid package is no longer matchable
	s.Finder.Invalidate(r.Context(), req.TripID, req.PackageID)
	s.writeJSON(w, http.StatusOK, map[string]any{"match_request": req, "match": m})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.Matches.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TrackingStep models.TrackingStep `json:"tracking_step"`
		Photos       []string            `json:"photos"`
		Notes        string              `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	m, err := s.Matches.UpdateTracking(r.Context(), mux.Vars(r)["id"], body.TrackingStep,
		lifecycle.TrackingUpdate{Photos: body.Photos, Notes: body.Notes})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor            string           `json:"actor"`
		ActorRole        models.ActorRole `json:"actor_role"`
		Reason           string           `json:"reason"`
		Description      string           `json:"description"`
		PreferredOutcome string           `json:"preferred_outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	d, err := s.Matches.ReportIssue(r.Context(), mux.Vars(r)["id"], body.Actor, body.ActorRole,
		body.Reason, body.Description, body.PreferredOutcome)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.Disputes.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDisputeTimeline(w http.ResponseWriter, r *http.Request) {
	var e models.TimelineEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	d, err := s.Disputes.AddEntry(r.Context(), mux.Vars(r)["id"], e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDisputeTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To      models.DisputeStatus `json:"to"`
		Outcome string               `json:"outcome"`
		Entry   models.TimelineEntry `json:"entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	var (
		d   *models.Dispute
		err error
	)
	if body.To == models.DisputeResolved {
		d, err = s.Matches.ResolveDispute(r.Context(), mux.Vars(r)["id"], body.Outcome, body.Entry)
	} else {
		d, err = s.Disputes.Transition(r.Context(), mux.Vars(r)["id"], body.To, body.Entry)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	sess := s.WSReg.Add(id, conn)
	// read pump: the client never sends payloads we act on, but reading is
	// how we learn the peer went away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(id, sess)
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, dispute.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrVersionConflict), errors.Is(err, storage.ErrDuplicateMatch):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, apiError{Error: err.Error()})
}

func badJSON(err error) error {
	return errors.Join(models.ErrValidation, err)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
