// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the engine over HTTP for a browser UI: the published
// state as JSON and the three operations as POST endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mccoysc/fhesync/engine"
	"github.com/mccoysc/fhesync/fhe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Operations is the engine surface served over HTTP.
type Operations interface {
	Snapshot() engine.State
	Refresh(ctx context.Context) error
	Submit(ctx context.Context, tenths uint32) error
	Decrypt(ctx context.Context) error
}

type fieldView struct {
	Handle    common.Hash `json:"handle"`
	Decrypted bool        `json:"decrypted"`
	Clear     any         `json:"clear,omitempty"`
}

type stateView struct {
	ChainID      uint64          `json:"chainId"`
	Contract     *common.Address `json:"contractAddress,omitempty"`
	IsDeployed   bool            `json:"isDeployed"`
	HasSigner    bool            `json:"hasSigner"`
	Temperature  fieldView       `json:"temperature"`
	FeverResult  fieldView       `json:"feverResult"`
	IsRefreshing bool            `json:"isRefreshing"`
	IsSubmitting bool            `json:"isSubmitting"`
	IsDecrypting bool            `json:"isDecrypting"`
	CanRefresh   bool            `json:"canRefresh"`
	CanSubmit    bool            `json:"canSubmit"`
	CanDecrypt   bool            `json:"canDecrypt"`
	Message      string          `json:"message"`
}

type response struct {
	RequestID string    `json:"requestId"`
	State     stateView `json:"state"`
	Error     string    `json:"error,omitempty"`
}

type submitRequest struct {
	Tenths *uint32 `json:"tenths"`
}

func newStateView(st engine.State) stateView {
	view := stateView{
		ChainID:      st.ChainID,
		IsDeployed:   st.IsDeployed(),
		HasSigner:    st.HasSigner,
		IsRefreshing: st.Refreshing,
		IsSubmitting: st.Submitting,
		IsDecrypting: st.Decrypting,
		CanRefresh:   st.CanRefresh(),
		CanSubmit:    st.CanSubmit(),
		CanDecrypt:   st.CanDecrypt(),
		Message:      st.Message,
		Temperature: fieldView{
			Handle:    st.Handle(engine.FieldTemperature),
			Decrypted: st.IsTemperatureDecrypted(),
		},
		FeverResult: fieldView{
			Handle:    st.Handle(engine.FieldFeverResult),
			Decrypted: st.IsFeverResultDecrypted(),
		},
	}
	if st.Deployed {
		addr := st.Contract
		view.Contract = &addr
	}
	if v, ok := st.Temperature(); ok {
		view.Temperature.Clear = v
	}
	if v, ok := st.FeverResult(); ok {
		view.FeverResult.Clear = v
	}
	return view
}

// Server serves the engine API.
type Server struct {
	ops     Operations
	handler http.Handler
}

// NewServer builds the router. gatherer backs /metrics; nil uses the default
// registry. Browser requests are allowed from origins.
func NewServer(ops Operations, gatherer prometheus.Gatherer, origins []string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{ops: ops}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/state", s.handleState)
	r.Post("/refresh", s.handleRefresh)
	r.Post("/submit", s.handleSubmit)
	r.Post("/decrypt", s.handleDecrypt)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("HTTP API listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, http.StatusOK, "")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.result(w, r, s.ops.Refresh(r.Context()))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Tenths == nil {
		s.write(w, r, http.StatusBadRequest, `expected {"tenths": <uint32>}`)
		return
	}
	// A dropped connection must not abandon a transaction midway.
	s.result(w, r, s.ops.Submit(context.WithoutCancel(r.Context()), *req.Tenths))
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	s.result(w, r, s.ops.Decrypt(context.WithoutCancel(r.Context())))
}

func (s *Server) result(w http.ResponseWriter, r *http.Request, err error) {
	var verr *engine.ValidationError
	switch {
	case err == nil:
		s.write(w, r, http.StatusOK, "")
	case engine.IsDiscard(err):
		s.write(w, r, http.StatusAccepted, err.Error())
	case errors.As(err, &verr):
		s.write(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotReady):
		s.write(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrServiceUnavailable), fhe.IsUnavailable(err):
		s.write(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		s.write(w, r, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, msg string) {
	resp := response{
		RequestID: middleware.GetReqID(r.Context()),
		State:     newStateView(s.ops.Snapshot()),
		Error:     msg,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debug("Failed to write API response", "err", err)
	}
}
