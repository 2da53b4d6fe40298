package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/cache"
	"github.com/AdamBeresnev/bracket-engine/internal/config"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/health"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	monitor *health.Monitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.LoadFrom(map[string]string{
		"DATABASE_URL": filepath.Join(t.TempDir(), "server.db") +
			"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate",
	})
	require.NoError(t, err)

	database, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	redisServer := miniredis.RunT(t)
	snapshots, err := cache.Connect(context.Background(), "redis://"+redisServer.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { snapshots.Close() })

	monitor := health.NewMonitor(db.Probe(database, time.Second), time.Hour)
	exec := db.NewExecutor(database, monitor, db.Policy{
		AcquireTimeout: time.Second,
		MaxAttempts:    2,
		InitialDelay:   5 * time.Millisecond,
		Multiplier:     2,
	})

	tournamentStore := store.NewTournamentStore()
	a := &api{
		tournaments: service.NewTournamentService(exec, tournamentStore, service.WithSnapshots(snapshots)),
		matches:     service.NewMatchService(exec, tournamentStore, service.WithSnapshots(snapshots)),
		monitor:     monitor,
	}
	return &testServer{handler: a.routes(), monitor: monitor}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createTournament(t *testing.T) bracket.Tournament {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/tournaments", service.CreateTournamentInput{
		GuildID:              "guild-1",
		ChannelID:            "channel-1",
		Name:                 "Friday Cup",
		Capacity:             8,
		RegistrationDeadline: time.Now().Add(time.Hour),
		CreatedBy:            "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[bracket.Tournament](t, rec)
}

func TestTournamentFlow(t *testing.T) {
	s := newTestServer(t)
	tournament := s.createTournament(t)
	base := "/tournaments/" + tournament.ID.String()

	for _, p := range []string{"P1", "P2", "P3"} {
		rec := s.do(t, http.MethodPost, base+"/join", joinRequest{UserID: p, DisplayName: "Player " + p})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, base+"/join", joinRequest{UserID: "P1", DisplayName: "Player P1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[service.JoinResult](t, rec).AlreadyJoined)

	rec = s.do(t, http.MethodPost, base+"/leave", leaveRequest{UserID: "P3"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[service.LeaveResult](t, rec).NotRegistered)

	rec = s.do(t, http.MethodGet, "/tournaments?guild_id=guild-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]bracket.Tournament](t, rec), 1)

	rec = s.do(t, http.MethodPost, base+"/brackets", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	matches := decode[[]bracket.Match](t, rec)
	assert.Len(t, matches, 7)

	var first bracket.Match
	for _, m := range matches {
		if m.RoundNumber == 1 && m.MatchNumber == 1 {
			first = m
		}
	}
	require.Equal(t, bracket.MatchPending, first.Status)

	rec = s.do(t, http.MethodPost, "/matches/"+first.ID.String()+"/winner", winnerRequest{WinnerID: "P1"})
	assert.Equal(t, http.StatusConflict, rec.Code, "winner before start")

	rec = s.do(t, http.MethodPost, "/matches/"+first.ID.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, bracket.MatchInProgress, decode[bracket.Match](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/matches/"+first.ID.String()+"/winner", winnerRequest{WinnerID: "P9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/matches/"+first.ID.String()+"/winner", winnerRequest{WinnerID: "P1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[service.ReportResult](t, rec)
	assert.Equal(t, "P1", *result.Match.WinnerID)
	assert.Equal(t, bracket.TournamentInProgress, result.TournamentStatus)

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[bracket.Snapshot](t, rec)
	assert.Len(t, snapshot.Participants, 2)
	assert.Equal(t, bracket.TournamentInProgress, snapshot.Tournament.Status)

	rec = s.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bracket.TournamentCancelled, decode[bracket.Tournament](t, rec).Status)

	rec = s.do(t, http.MethodPost, base+"/join", joinRequest{UserID: "P4", DisplayName: "Player P4"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/tournaments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/tournaments/0b7e4c3a-8f5e-4a3b-9a59-3c7d2f1e0a11", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/tournaments", map[string]any{"guild_id": "g", "capacity": 12})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/tournaments", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/tournaments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDegradedServesCachedBracket(t *testing.T) {
	s := newTestServer(t)
	tournament := s.createTournament(t)
	base := "/tournaments/" + tournament.ID.String()

	rec := s.do(t, http.MethodPost, base+"/join", joinRequest{UserID: "P1", DisplayName: "Player P1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.monitor.MarkDegraded("test", errors.New("connection refused"))

	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, decode[health.Status](t, rec).Degraded)

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snapshot := decode[bracket.Snapshot](t, rec)
	require.Len(t, snapshot.Participants, 1)
	assert.Equal(t, "P1", snapshot.Participants[0].UserID)

	rec = s.do(t, http.MethodPost, base+"/join", joinRequest{UserID: "P2", DisplayName: "Player P2"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection_failed", decode[map[string]string](t, rec)["kind"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.createTournament(t)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bracket_db_queries_total")
}
