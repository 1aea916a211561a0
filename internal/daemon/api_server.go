package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fabrick/internal/api"
	"fabrick/internal/config"
	"fabrick/internal/logging"
	"fabrick/internal/queue"
	"fabrick/internal/services"
)

const maxManifestBytes = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/status", srv.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/manifests", srv.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/v1/manifests", srv.handleManifests).Methods(http.MethodGet)
	router.HandleFunc("/v1/manifests/{id}", srv.handleManifest).Methods(http.MethodGet)
	router.HandleFunc("/v1/jobs", srv.handleJobs).Methods(http.MethodGet)
	router.HandleFunc("/v1/jobs/{id}", srv.handleJob).Methods(http.MethodGet)
	router.HandleFunc("/v1/jobs/{id}/retry", srv.handleRetry).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{id}/cancel", srv.handleCancel).Methods(http.MethodPost)

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     status.Workflow,
	})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	result, err := s.daemon.workflow.SubmitManifest(r.Context(), body)
	if err != nil {
		if services.IsTerminal(err) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{
		ManifestID:   result.ManifestID,
		JobsCreated:  result.JobCount,
		JobsExisting: result.Duplicates,
	})
}

func (s *apiServer) handleManifests(w http.ResponseWriter, r *http.Request) {
	records, err := s.daemon.store.ListManifests(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]api.ManifestView, 0, len(records))
	for _, record := range records {
		views = append(views, api.FromManifest(record))
	}
	s.writeJSON(w, http.StatusOK, api.ManifestListResponse{Manifests: views})
}

func (s *apiServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.daemon.store.GetManifest(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, "manifest not found")
		return
	}
	jobs, err := s.daemon.store.JobsByManifest(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ManifestResponse{
		Manifest: api.FromManifest(record),
		Jobs:     api.FromJobs(jobs),
	})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	jobs, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.daemon.workflow.RetryJob(r.Context(), id); err != nil {
		s.writeJobActionError(w, err)
		return
	}
	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil || job == nil {
		s.writeJSON(w, http.StatusOK, api.JobResponse{})
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.daemon.workflow.CancelJob(r.Context(), id); err != nil {
		s.writeJobActionError(w, err)
		return
	}
	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil || job == nil {
		s.writeJSON(w, http.StatusOK, api.JobResponse{})
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) writeJobActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound) || errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case queue.IsConflict(err):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
