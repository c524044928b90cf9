package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/gorilla/mux"
)

const (
	_PathIndex  = "/"
	_PathStatus = "/status"

	shutdownTimeout = 5 * time.Second
)

// StatusProvider reports the current round, *Coordinator implements it.
type StatusProvider interface {
	Status() RoundStatus
}

// Service serves the JSON-RPC APIs on POST / next to a status endpoint.
type Service struct {
	srv    *http.Server
	rpc    *rpc.Server
	status StatusProvider
}

func NewService(listenAddr string, status StatusProvider, apis []rpc.API) (*Service, error) {
	server := rpc.NewServer()
	for _, api := range apis {
		if err := server.RegisterName(api.Namespace, api.Service); err != nil {
			return nil, fmt.Errorf("could not register %s api: %w", api.Namespace, err)
		}
	}

	s := &Service{rpc: server, status: status}
	s.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           s.getRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Service) getRouter() http.Handler {
	router := mux.NewRouter()

	router.Handle(_PathIndex, s.rpc).Methods(http.MethodPost)
	router.HandleFunc(_PathIndex, s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc(_PathStatus, s.handleStatus).Methods(http.MethodGet)

	return httplogger.LoggingMiddleware(router)
}

func (s *Service) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts the server down.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Service started", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.rpc.Stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	s.rpc.Stop()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Service) handleIndex(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "mev-bootee")
}

func (s *Service) handleStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.status.Status()); err != nil {
		log.Debug("could not write status", "err", err)
	}
}
