package main

import (
	"net/http"

	"github.com/AdamBeresnev/bracket-engine/internal/health"
	"github.com/AdamBeresnev/bracket-engine/internal/httputil"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type api struct {
	tournaments *service.TournamentService
	matches     *service.MatchService
	monitor     *health.Monitor
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tournaments", func(r chi.Router) {
		r.Post("/", a.createTournament)
		r.Get("/", a.listTournaments)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getBracket)
			r.Post("/join", a.join)
			r.Post("/leave", a.leave)
			r.Post("/brackets", a.generateBrackets)
			r.Post("/cancel", a.cancelTournament)
		})
	})

	r.Route("/matches/{id}", func(r chi.Router) {
		r.Post("/start", a.startMatch)
		r.Post("/winner", a.reportWinner)
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "Invalid ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	status := a.monitor.Status()
	code := http.StatusOK
	if status.Degraded {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

func (a *api) createTournament(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTournamentInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.BadRequest(w, "Invalid tournament", err)
		return
	}

	tournament, err := a.tournaments.CreateTournament(r.Context(), in)
	if err != nil {
		httputil.Error(w, "Failed to create tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tournament)
}

func (a *api) listTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := a.tournaments.ListTournaments(r.Context(), r.URL.Query().Get("guild_id"))
	if err != nil {
		httputil.Error(w, "Failed to list tournaments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tournaments)
}

func (a *api) getBracket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	snapshot, err := a.tournaments.GetBracket(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get bracket", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

type joinRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (a *api) join(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid join request", err)
		return
	}

	result, err := a.tournaments.Join(r.Context(), id, req.UserID, req.DisplayName)
	if err != nil {
		httputil.Error(w, "Failed to join tournament", err)
		return
	}
	code := http.StatusCreated
	if result.AlreadyJoined {
		code = http.StatusOK
	}
	httputil.WriteJSON(w, code, result)
}

type leaveRequest struct {
	UserID string `json:"user_id"`
}

func (a *api) leave(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req leaveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid leave request", err)
		return
	}

	result, err := a.tournaments.Leave(r.Context(), id, req.UserID)
	if err != nil {
		httputil.Error(w, "Failed to leave tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (a *api) generateBrackets(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	matches, err := a.tournaments.GenerateBrackets(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to generate brackets", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, matches)
}

func (a *api) cancelTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	tournament, err := a.tournaments.CancelTournament(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to cancel tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tournament)
}

func (a *api) startMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	match, err := a.matches.StartMatch(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to start match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

type winnerRequest struct {
	WinnerID string `json:"winner_id"`
}

func (a *api) reportWinner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req winnerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid winner report", err)
		return
	}

	result, err := a.matches.ReportWinner(r.Context(), id, req.WinnerID)
	if err != nil {
		httputil.Error(w, "Failed to report winner", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
