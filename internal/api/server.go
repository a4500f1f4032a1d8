package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/queue"
	"speecheval/internal/services"
	"speecheval/internal/workflow"
)

const maxBodyBytes = 1 << 20

// HealthChecker reports on the job database.
type HealthChecker interface {
	CheckHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// Server serves the job API over fiber.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	jobs    *JobService
	logger  *slog.Logger
	db      HealthChecker
	status  func(ctx context.Context) workflow.StatusSummary
	busUp   func() bool
	metrics http.Handler
	ln      net.Listener
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthChecker adds a database check to /api/health.
func WithHealthChecker(db HealthChecker) ServerOption {
	return func(s *Server) { s.db = db }
}

// WithWorkflowStatus adds workflow diagnostics to /api/health.
func WithWorkflowStatus(status func(ctx context.Context) workflow.StatusSummary) ServerOption {
	return func(s *Server) { s.status = status }
}

// WithBusHealth adds the NATS connection state to /api/health.
func WithBusHealth(healthy func() bool) ServerOption {
	return func(s *Server) { s.busUp = healthy }
}

// WithMetricsHandler mounts a Prometheus handler at the configured path.
func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(s *Server) { s.metrics = handler }
}

// NewServer builds the fiber app and registers routes.
func NewServer(cfg *config.Config, jobs *JobService, opts ...ServerOption) *Server {
	s := &Server{cfg: cfg, jobs: jobs, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String(logging.FieldComponent, "api"))

	app := fiber.New(fiber.Config{
		AppName:               "speecheval",
		BodyLimit:             maxBodyBytes,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.requestContext)

	if s.metrics != nil {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(s.metrics))
	}
	app.Get("/api/health", s.health)

	jobsGroup := app.Group("/api/jobs", s.authorize)
	jobsGroup.Post("/", s.createJob)
	jobsGroup.Get("/", s.listJobs)
	jobsGroup.Get("/:id", s.getJob)
	jobsGroup.Get("/:id/result", s.getResult)
	jobsGroup.Post("/:id/cancel", s.cancelJob)
	jobsGroup.Post("/:id/retry", s.retryJob)

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured bind address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Paths.APIBind, err)
	}
	s.ln = ln
	go func() {
		if err := s.app.Listener(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("api server stopped", logging.Error(err), logging.Alert("api_server"))
		}
	}()
	s.logger.Info("api server listening",
		logging.String("address", ln.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestContext(c *fiber.Ctx) error {
	requestID := strings.TrimSpace(c.Get("X-Request-ID"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("X-Request-ID", requestID)
	c.SetUserContext(services.WithRequestID(c.UserContext(), requestID))

	start := time.Now()
	err := c.Next()
	s.logger.Debug("api request",
		logging.String("method", c.Method()),
		logging.String("path", c.Path()),
		logging.Int("status", c.Response().StatusCode()),
		logging.Duration("duration", time.Since(start)),
		logging.String(logging.FieldCorrelationID, requestID),
	)
	return err
}

func (s *Server) authorize(c *fiber.Ctx) error {
	token := s.cfg.Paths.APIToken
	if token == "" {
		return c.Next()
	}
	header := c.Get(fiber.HeaderAuthorization)
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid bearer token")
	}
	return c.Next()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		message = fiberErr.Message
	case errors.Is(err, services.ErrValidation):
		status = fiber.StatusBadRequest
		message = services.Details(err).Message
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
		message = services.Details(err).Message
	default:
		s.logger.Error("api request failed",
			logging.String("path", c.Path()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_error"),
		)
	}
	return c.Status(status).JSON(ErrorResponse{Error: message})
}

func (s *Server) createJob(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "request body must be a JSON job")
	}
	job, err := s.jobs.Submit(c.UserContext(), req)
	if err != nil {
		return err
	}
	s.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("test_id", job.TestID),
		logging.Int("segments", len(job.Segments)),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return c.Status(fiber.StatusAccepted).JSON(CreateJobResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) listJobs(c *fiber.Ctx) error {
	var statuses []queue.Status
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := queue.ParseStatus(part)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
			}
			statuses = append(statuses, status)
		}
	}
	jobs, err := s.jobs.List(c.UserContext(), statuses...)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return c.JSON(JobListResponse{Jobs: SortJobsNewestFirst(jobs)})
}

func (s *Server) getJob(c *fiber.Ctx) error {
	job, err := s.jobs.Describe(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if job == nil {
		return fiber.NewError(fiber.StatusNotFound, "job not found")
	}
	return c.JSON(JobResponse{Job: *job})
}

func (s *Server) getResult(c *fiber.Ctx) error {
	result, err := s.jobs.Result(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if result == nil {
		return fiber.NewError(fiber.StatusNotFound, "no result for job")
	}
	return c.JSON(result)
}

func (s *Server) cancelJob(c *fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "request body must be JSON")
		}
	}
	id := c.Params("id")
	outcome, err := s.jobs.Cancel(c.UserContext(), id, strings.TrimSpace(req.Owner), req.Reason)
	if err != nil {
		return err
	}
	return s.actionReply(c, id, outcome)
}

func (s *Server) retryJob(c *fiber.Ctx) error {
	id := c.Params("id")
	outcome, err := s.jobs.Retry(c.UserContext(), id)
	if err != nil {
		return err
	}
	return s.actionReply(c, id, outcome)
}

func (s *Server) actionReply(c *fiber.Ctx, id string, outcome ActionOutcome) error {
	status := fiber.StatusOK
	switch outcome {
	case OutcomeNotFound:
		status = fiber.StatusNotFound
	case OutcomeForbidden:
		status = fiber.StatusForbidden
	case OutcomeAlreadyTerminal, OutcomeNotFailed:
		status = fiber.StatusConflict
	}
	resp := ActionResponse{JobID: id, Outcome: string(outcome)}
	if job, err := s.jobs.Describe(c.UserContext(), id); err == nil && job != nil {
		resp.Status = job.Status
	}
	return c.Status(status).JSON(resp)
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx := c.UserContext()
	resp := HealthResponse{Status: "ok"}
	if s.db != nil {
		dbHealth, err := s.db.CheckHealth(ctx)
		resp.Database = DatabaseStatus{
			Path:          dbHealth.DBPath,
			Readable:      dbHealth.DatabaseReadable,
			SchemaVersion: dbHealth.SchemaVersion,
			Integrity:     dbHealth.IntegrityCheck,
			TotalJobs:     dbHealth.TotalJobs,
			Error:         dbHealth.Error,
		}
		if err != nil {
			resp.Status = "degraded"
			if resp.Database.Error == "" {
				resp.Database.Error = err.Error()
			}
		} else if !dbHealth.DatabaseReadable || !dbHealth.IntegrityCheck {
			resp.Status = "degraded"
		}
	}
	if s.status != nil {
		wf := FromStatusSummary(s.status(ctx))
		resp.Workflow = &wf
		for _, stageHealth := range wf.StageHealth {
			if !stageHealth.Ready {
				resp.Status = "degraded"
			}
		}
	}
	if s.busUp != nil {
		connected := s.busUp()
		resp.Bus = &BusStatus{Connected: connected}
		if !connected {
			resp.Status = "degraded"
		}
	}
	code := fiber.StatusOK
	if resp.Status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(resp)
}
