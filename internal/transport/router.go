package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/approval"
	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/listview"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/internal/session"
	"github.com/pitabwire/sentinel/internal/workflow"
	"github.com/pitabwire/sentinel/model"
)

// SignalSubmitter starts a new workflow from a sentiment signal.
// *bankapi.Client satisfies it.
type SignalSubmitter interface {
	SubmitSignal(ctx context.Context, signal model.FDASignal) (model.SignalReceipt, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Clock     clockwork.Clock
	Session   *session.Session
	Board     *workflow.Board
	Approvals *approval.Controller
	Views     *listview.Views
	Signals   SignalSubmitter
	Readiness observability.ReadinessChecks
	// MetricsHandler serves the metrics endpoint. Nil uses the default
	// Prometheus registry.
	MetricsHandler http.Handler
}

type handlers struct {
	Dependencies
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and sign-in bypass
// authentication.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	h := &handlers{Dependencies: deps}

	r := chi.NewRouter()
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/console/health", observability.HandleHealth())
	r.Get("/console/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		mh := deps.MetricsHandler
		if mh == nil {
			mh = observability.Handler()
		}
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, mh)
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Post("/console/session", h.login)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Session))

			r.Get("/console/session", h.getSession)
			r.Delete("/console/session", h.logout)
			r.Get("/console/settings", h.getSettings)
			r.Put("/console/settings", h.putSettings)
			r.Post("/console/settings/reset", h.resetSettings)
			r.Get("/console/approver", h.getApprover)
			r.Put("/console/approver", h.putApprover)

			r.Get("/console/dashboard", h.dashboard)
			r.Post("/console/signals", h.submitSignal)
			r.Get("/console/approvals", h.pendingApprovals)
			r.Get("/console/audit", h.audit)
			r.Get("/console/summary", h.summary)

			r.Route("/console/workflows", func(r chi.Router) {
				r.Get("/", h.listWorkflows)
				r.Route("/{workflowID}", func(r chi.Router) {
					r.Get("/", h.getWorkflow)
					r.Delete("/", h.deleteWorkflow)
					r.Post("/edit", h.beginEdit)
					r.Put("/edit", h.updateEdit)
					r.Delete("/edit", h.cancelEdit)
					r.Post("/approve", h.approve)
					r.Delete("/approve", h.cancelApprove)
					r.Post("/discard", h.discard)
					r.Post("/escalate", h.escalate)
				})
			})

			r.Route("/console/transactions", func(r chi.Router) {
				r.Get("/", h.listTransactions)
				r.Post("/", h.createTransaction)
				r.Get("/{id}", h.getTransaction)
				r.Patch("/{id}", h.updateTransaction)
				r.Delete("/{id}", h.deleteTransaction)
			})
			r.Route("/console/reviews", func(r chi.Router) {
				r.Get("/", h.listReviews)
				r.Post("/", h.createReview)
				r.Get("/{id}", h.getReview)
				r.Patch("/{id}", h.updateReview)
				r.Delete("/{id}", h.deleteReview)
			})
			r.Get("/console/sentiments", h.listSentiments)
			r.Delete("/console/sentiments/{id}", h.deleteSentiment)

			r.Route("/console/feed", func(r chi.Router) {
				r.Get("/posts", h.listPosts)
				r.Post("/posts", h.createPost)
				r.Post("/posts/{postID}/reactions", h.react)
				r.Get("/posts/{postID}/comments", h.listComments)
				r.Post("/posts/{postID}/comments", h.createComment)
				r.Post("/reset", h.resetFeed)
				r.Post("/clear/{target}", h.clearFeed)
				r.Post("/sync", h.syncFeed)
				r.Get("/status", h.feedStatus)
			})
		})
	})

	return r
}

// fail writes err for the current request.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.Logger, err)
}

// operatorName returns the operator named in a request body, falling back to
// the remembered approver.
func (h *handlers) operatorName(name string) string {
	if name != "" {
		return name
	}
	return h.Session.Approver()
}

// remember stores a successful operator as the approver for next time.
func (h *handlers) remember(r *http.Request, name string) {
	if _, err := h.Session.SetApprover(r.Context(), name); err != nil {
		observability.RequestLogger(r.Context(), h.Logger).Warn("failed to remember approver", zap.Error(err))
	}
}
