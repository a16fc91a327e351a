package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/autosave"
	"github.com/rotafacil/formagent/internal/config"
	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/internal/netmon"
	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/queue"
	"github.com/rotafacil/formagent/internal/recovery"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *formstate.Store
	AutoSave  *autosave.Scheduler
	Monitor   *netmon.Monitor
	Queue     *queue.Queue
	Recovery  *recovery.Service
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the middleware pipeline and all route
// registrations.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(RequestLogging(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware)
	}

	r.Get("/agent/health", observability.HandleHealth())
	r.Get("/agent/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled && deps.Gatherer != nil {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path,
			observability.Handler(deps.Gatherer))
	}

	form := &formHandler{store: deps.Store, autosave: deps.AutoSave}
	r.Route("/agent/form", func(r chi.Router) {
		r.Get("/", form.getState)
		r.Delete("/", form.clear)
		r.Patch("/data", form.updateData)
		r.Put("/page", form.setPage)
		r.Get("/navigation/{page}", form.canNavigate)
		r.Post("/files/{category}", form.addFile)
		r.Delete("/files/{category}/{fileName}", form.removeFile)
		r.Get("/token", form.getToken)
		r.Post("/token", form.regenerateToken)
		r.Delete("/token", form.resetSubmissionState)
		r.Post("/save", form.manualSave)
	})

	subs := &queueHandler{queue: deps.Queue, monitor: deps.Monitor, logger: deps.Logger}
	r.Route("/agent/submissions", func(r chi.Router) {
		r.Get("/", subs.list)
		r.Post("/", subs.add)
		r.Delete("/", subs.clearAll)
		r.Post("/process", subs.process)
		r.Delete("/completed", subs.clearCompleted)
		r.Delete("/{id}", subs.remove)
	})

	net := &networkHandler{monitor: deps.Monitor}
	r.Route("/agent/network", func(r chi.Router) {
		r.Get("/", net.status)
		r.Post("/retry", net.retry)
		r.Post("/online", net.notifyOnline)
		r.Post("/offline", net.notifyOffline)
	})

	rec := &recoveryHandler{recovery: deps.Recovery, store: deps.Store}
	r.Route("/agent/recovery", func(r chi.Router) {
		r.Get("/", rec.prompt)
		r.Post("/resume", rec.resume)
		r.Post("/discard", rec.discard)
	})

	return r
}
