// Package httpapi implements the HTTP surface (C7): one go-chi router,
// one handler per spec.md §6.1 endpoint, threaded through an explicit
// *Context rather than package-level state.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/pkg/adapters"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/intervention"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
	"github.com/jordigilh/omr-ledger/pkg/orchestrator"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

// ImageStore is the subset of pkg/images.FSStore the HTTP layer needs:
// writing newly ingested bytes in addition to the read orchestrator's
// own ImageStore seam already covers.
type ImageStore interface {
	orchestrator.ImageStore
	Put(ctx context.Context, data []byte) (string, error)
}

// Context bundles every dependency a handler may need. Handlers reach it
// through the small handlers wrapper type (see helpers.go), which holds a
// *Context, rather than reading package globals, per SPEC_FULL.md §6.1's
// singleton-elimination note.
type Context struct {
	Store        store.Store
	Chain        *ledger.Chain
	Orchestrator *orchestrator.Orchestrator
	Queue        *intervention.Queue
	Images       ImageStore
	KeyVerifier  adapters.KeyVerifier
	Log          *zap.Logger
	Validate     *validator.Validate
}

// NewContext fills in zero-value-safe defaults for the optional fields
// (Log, Validate) and returns ctx ready to hand to NewRouter.
func NewContext(ctx Context) *Context {
	if ctx.Log == nil {
		ctx.Log = zap.NewNop()
	}
	if ctx.Validate == nil {
		ctx.Validate = validator.New()
	}
	return &ctx
}

// NewRouter builds the chi.Mux serving every spec.md §6.1 route.
// corsOrigins configures go-chi/cors directly: the teacher's own
// pkg/http/cors wrapper around it did not survive this corpus's
// test-only pruning, so this wiring targets go-chi/cors's API straight,
// grounded on the usage shown in the teacher's cors integration test.
func NewRouter(hctx *Context, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(requestLogger(hctx.Log))

	h := &handlers{ctx: hctx}

	r.Post("/papers", h.createPaper)
	r.Get("/papers/{id}", h.getPaper)

	r.Post("/keys", h.createKey)
	r.Get("/keys/{id}", h.getKey)
	r.Post("/keys/{id}/verify", h.verifyKey)
	r.Post("/keys/{id}/approve", h.approveKey)
	r.Post("/keys/{id}/lock", h.lockKey)

	r.Post("/sheets", h.ingestSheet)
	r.Get("/sheets/{id}", h.getSheet)
	r.Post("/sheets/{id}/quality", h.advanceStage(domain.StageIngested))
	r.Post("/sheets/{id}/reconstruct", h.advanceStage(domain.StageQualityAssessed))
	r.Post("/sheets/{id}/bubbles", h.submitBubbles)
	r.Post("/sheets/{id}/ai-solve", h.advanceStage(domain.StageBubblesRead))
	r.Post("/sheets/{id}/manual", h.submitManual)
	r.Post("/sheets/{id}/reconcile", h.advanceReconcile)
	r.Post("/sheets/{id}/score", h.advanceStage(domain.StageReconciled))
	r.Post("/sheets/{id}/finalize", h.finalizeSheet)

	r.Post("/workflow/complete", h.workflowComplete)

	r.Get("/ledger/status", h.ledgerStatus)
	r.Get("/ledger/blocks", h.ledgerBlocks)
	r.Get("/ledger/block/{hash}", h.ledgerBlock)
	r.Get("/ledger/validate", h.ledgerValidate)

	r.Get("/interventions", h.listInterventions)
	r.Post("/interventions/{id}/claim", h.claimIntervention)
	r.Post("/interventions/{id}/resolve", h.resolveIntervention)

	return r
}
