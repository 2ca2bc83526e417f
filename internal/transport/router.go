package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/config"
	"github.com/formbridge/formbridge/internal/delivery"
	"github.com/formbridge/formbridge/internal/intake"
	"github.com/formbridge/formbridge/internal/observability"
	"github.com/formbridge/formbridge/internal/submission"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Engine    *submission.Engine
	Delivery  *delivery.Engine
	Intakes   *intake.Registry
	Handoff   *HandoffSigner
	Metrics   *observability.Metrics
	Readiness observability.ReadinessChecks
	APIKeys   []string
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes, no authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	// Authenticated routes with the full middleware chain.
	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(deps.APIKeys))
		if deps.Config.Observability.Tracing.Enabled {
			r.Use(observability.TracingMiddleware)
		}
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/intake", handleIntakeList(deps.Intakes))
		r.Get("/intake/{intakeId}", handleIntakeGet(deps.Intakes))

		r.Route("/intake/{intakeId}/submissions", func(r chi.Router) {
			r.Post("/", handleSubmissionCreate(deps.Engine))
			r.Get("/", handleSubmissionList(deps.Engine))

			r.Route("/{submissionId}", func(r chi.Router) {
				r.Get("/", handleSubmissionGet(deps.Engine))
				r.Patch("/", handleSubmissionPatch(deps.Engine))
				r.Post("/validate", handleSubmissionValidate(deps.Engine))
				r.Post("/submit", handleSubmissionSubmit(deps.Engine))
				r.Post("/cancel", handleSubmissionCancel(deps.Engine))

				r.Post("/approve", handleReviewApprove(deps.Engine))
				r.Post("/reject", handleReviewReject(deps.Engine))
				r.Post("/request-changes", handleReviewRequestChanges(deps.Engine))

				r.Get("/events", handleEventsList(deps.Engine))
				r.Get("/events/export", handleEventsExport(deps.Engine))

				r.Post("/uploads", handleUploadRequest(deps.Engine))
				r.Post("/uploads/{uploadId}/confirm", handleUploadConfirm(deps.Engine))

				r.Get("/deliveries", handleDeliveryList(deps.Engine))
				r.Post("/deliveries/retry", handleDeliveryRetry(deps.Delivery))

				r.Post("/handoff", handleHandoffIssue(deps.Engine, deps.Handoff))
			})
		})

		r.Post("/handoff/resume", handleHandoffResume(deps.Engine, deps.Handoff))
	})

	return r
}
