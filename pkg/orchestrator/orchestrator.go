// Package orchestrator drives the per-sheet pipeline state machine
// (C6): a bounded worker pool advances sheets through spec.md §4.6's
// transitions, pairing every transition with exactly one ledger block
// and releasing its per-sheet lock at every stage boundary so it is
// never held across a human gate.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/adapters"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/intervention"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
	"github.com/jordigilh/omr-ledger/pkg/metrics"
	"github.com/jordigilh/omr-ledger/pkg/reconciliation"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

// ImageStore fetches the bytes behind a sheet's content hash. Entity
// persistence (pkg/store) only ever carries hashes, never raw image
// bytes, so adapter calls that need pixels go through this seam.
type ImageStore interface {
	Get(ctx context.Context, contentHash string) ([]byte, error)
}

// Orchestrator owns the worker pool and the stage-transition logic for
// every Sheet in flight.
type Orchestrator struct {
	store   store.Store
	chain   *ledger.Chain
	queue   *intervention.Queue
	images  ImageStore
	quality adapters.QualityAssessor
	recon   adapters.Reconstructor
	solver  adapters.QuestionSolver

	cfg        config.OrchestratorConfig
	reconCfg   config.ReconciliationConfig
	scoringCfg config.ScoringConfig
	qualityCfg config.QualityConfig
	log        *zap.Logger
	metrics    *metrics.Metrics
	journal    *store.Journal

	mu         sync.Mutex
	sheetLocks map[string]*sync.Mutex
	cancels    map[string]context.CancelFunc

	activeMu       sync.Mutex
	activeDuration map[string]time.Duration

	jobs chan string
	wg   sync.WaitGroup
}

type Dependencies struct {
	Store           store.Store
	Chain           *ledger.Chain
	Queue           *intervention.Queue
	Images          ImageStore
	QualityAssessor adapters.QualityAssessor
	Reconstructor   adapters.Reconstructor
	QuestionSolver  adapters.QuestionSolver
	// Metrics is optional; a nil value disables stage and adapter
	// instrumentation rather than panicking on every transition.
	Metrics *metrics.Metrics
	// Journal is optional; a nil value runs each transition's ledger
	// append and Store mutation back-to-back without a recoverable
	// intent record between them.
	Journal *store.Journal
}

func New(deps Dependencies, cfg *config.Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	capacity := cfg.Orchestrator.QueueCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	return &Orchestrator{
		store:          deps.Store,
		chain:          deps.Chain,
		queue:          deps.Queue,
		images:         deps.Images,
		quality:        deps.QualityAssessor,
		recon:          deps.Reconstructor,
		solver:         deps.QuestionSolver,
		cfg:            cfg.Orchestrator,
		reconCfg:       cfg.Reconciliation,
		scoringCfg:     cfg.Scoring,
		qualityCfg:     cfg.Quality,
		log:            log,
		metrics:        deps.Metrics,
		journal:        deps.Journal,
		sheetLocks:     make(map[string]*sync.Mutex),
		cancels:        make(map[string]context.CancelFunc),
		activeDuration: make(map[string]time.Duration),
		jobs:           make(chan string, capacity),
	}
}

// Start launches the bounded worker pool; workers exit when ctx is
// cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
}

// Stop waits for in-flight workers to exit after ctx (passed to Start)
// is cancelled.
func (o *Orchestrator) Stop() {
	o.wg.Wait()
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sheetID := <-o.jobs:
			if _, _, err := o.RunUntilGate(ctx, sheetID); err != nil {
				o.log.Warn("stage advance failed", zap.String("sheet_id", sheetID), zap.Error(err))
			}
		}
	}
}

// Enqueue schedules sheetID for background advancement. Non-blocking:
// a full queue drops the request and logs it; the orchestrator does not
// retry a dropped request, so the sheet advances only when something
// enqueues or advances it again.
func (o *Orchestrator) Enqueue(sheetID string) {
	select {
	case o.jobs <- sheetID:
	default:
		o.log.Warn("orchestrator queue full, dropping enqueue", zap.String("sheet_id", sheetID))
	}
}

// Cancel requests cooperative cancellation of sheetID's in-flight
// stage, if any is currently running.
func (o *Orchestrator) Cancel(sheetID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[sheetID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) lockFor(sheetID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.sheetLocks[sheetID]
	if !ok {
		l = &sync.Mutex{}
		o.sheetLocks[sheetID] = l
	}
	return l
}

func (o *Orchestrator) registerCancel(sheetID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[sheetID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) clearCancel(sheetID string) {
	o.mu.Lock()
	delete(o.cancels, sheetID)
	o.mu.Unlock()
}

// sheetDeadline returns the global per-sheet deadline, measured against
// time actually spent advancing the sheet (addActiveDuration), not
// wall-clock time since ingest — spec.md §5 excludes human-gate wait
// time from this budget.
func (o *Orchestrator) sheetDeadline() time.Duration {
	d := time.Duration(o.cfg.SheetDeadlineSeconds) * time.Second
	if d <= 0 {
		d = 10 * time.Minute
	}
	return d
}

// addActiveDuration records d as time AdvanceOne spent actually running
// sheetID's current stage transition. Time the sheet spends parked at a
// human gate between calls (awaiting SubmitBubbleReading,
// SubmitManualEntry, or intervention resolution) is never added here,
// so it never counts against the per-sheet deadline.
func (o *Orchestrator) addActiveDuration(sheetID string, d time.Duration) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	o.activeDuration[sheetID] += d
}

// activeDurationFor returns sheetID's accumulated active-processing time.
func (o *Orchestrator) activeDurationFor(sheetID string) time.Duration {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	return o.activeDuration[sheetID]
}

// clearActiveDuration drops sheetID's accumulator once it reaches a
// terminal stage, so the map does not grow for the lifetime of the
// process.
func (o *Orchestrator) clearActiveDuration(sheetID string) {
	o.activeMu.Lock()
	delete(o.activeDuration, sheetID)
	o.activeMu.Unlock()
}

// RunUntilGate advances sheetID through every stage it is currently
// eligible for, stopping at the first stage that needs human input or
// cannot proceed, per spec.md §4.6's "workflow/complete" endpoint. It
// never holds the per-sheet lock across a gate: each AdvanceOne call
// acquires and releases its own lock.
func (o *Orchestrator) RunUntilGate(ctx context.Context, sheetID string) (domain.Stage, []string, error) {
	var openedInterventions []string
	for {
		sheet, err := o.store.GetSheet(ctx, sheetID)
		if err != nil {
			return "", openedInterventions, err
		}
		if sheet.Stage.Terminal() {
			o.clearActiveDuration(sheetID)
			return sheet.Stage, openedInterventions, nil
		}
		if o.activeDurationFor(sheetID) > o.sheetDeadline() {
			id, err := o.openDeadlineIntervention(ctx, sheet)
			if err != nil {
				return sheet.Stage, openedInterventions, err
			}
			return sheet.Stage, append(openedInterventions, id), nil
		}

		newStage, interventionID, advanced, err := o.AdvanceOne(ctx, sheetID)
		if err != nil {
			return sheet.Stage, openedInterventions, err
		}
		if interventionID != "" {
			openedInterventions = append(openedInterventions, interventionID)
		}
		if !advanced {
			return newStage, openedInterventions, nil
		}
	}
}

func (o *Orchestrator) openDeadlineIntervention(ctx context.Context, sheet *domain.Sheet) (string, error) {
	item, err := o.queue.Enqueue(ctx, "sheet", sheet.ID, sheet.ID, "sheet_deadline_exceeded", domain.PriorityCritical)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// AdvanceOne attempts exactly one stage transition for sheetID. It
// returns the sheet's stage after the attempt, the id of any
// intervention opened as a side effect, and whether a transition
// actually occurred (false means the sheet is waiting on a gate: an
// externally-supplied input, an unmet precondition, or a terminal
// state).
func (o *Orchestrator) AdvanceOne(ctx context.Context, sheetID string) (domain.Stage, string, bool, error) {
	lock := o.lockFor(sheetID)
	lock.Lock()
	defer lock.Unlock()

	stageCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	o.registerCancel(sheetID, cancel)
	defer func() {
		cancel()
		o.clearCancel(sheetID)
	}()

	sheet, err := o.store.GetSheet(stageCtx, sheetID)
	if err != nil {
		return "", "", false, err
	}
	fromStage := sheet.Stage
	started := time.Now()

	stage, interventionID, advanced, err := o.dispatch(stageCtx, sheet)
	elapsed := time.Since(started)
	o.recordTransition(fromStage, stage, advanced, err, elapsed)
	o.addActiveDuration(sheetID, elapsed)
	if err != nil && stageCtx.Err() == context.Canceled {
		return o.handleCancellation(ctx, sheet)
	}
	return stage, interventionID, advanced, err
}

// recordTransition is a no-op when no Metrics was supplied.
func (o *Orchestrator) recordTransition(from, to domain.Stage, advanced bool, err error, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	outcome := metrics.OutcomeGateWaiting
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
	case advanced:
		outcome = metrics.OutcomeAdvanced
	}
	o.metrics.StageTransitionsTotal.WithLabelValues(string(from), string(to), outcome).Inc()
	o.metrics.StageDurationSeconds.WithLabelValues(string(from)).Observe(elapsed.Seconds())
}

// journalKey builds a stable per-sheet, per-operation journal ID. Only
// one such operation is ever in flight for a given sheet because every
// entry point that calls withJournal holds that sheet's lock for the
// duration of the call.
func journalKey(sheetID, kind string) string {
	return sheetID + ":" + kind
}

// withJournal pairs one ledger append with one Store mutation so a
// crash between the two is recoverable (spec.md §4.2, the §8
// crash-injection property): record intent, append, mark the append
// durable, run the mutation, mark it durable, then clear the entry. A
// nil Journal (the default) runs append then mutate directly,
// uninstrumented; a journal write failure is logged and otherwise
// ignored rather than failing the transition, since the journal is a
// recovery aid, not a gate on forward progress.
func (o *Orchestrator) withJournal(id, kind string, mutation json.RawMessage, appendFn func() (ledger.Block, error), mutateFn func(ledger.Block) error) (ledger.Block, error) {
	if o.journal == nil {
		block, err := appendFn()
		if err != nil {
			return block, err
		}
		return block, mutateFn(block)
	}

	if err := o.journal.BeginIntent(id, kind, mutation); err != nil {
		o.log.Warn("journal BeginIntent failed, proceeding unjournaled", zap.String("id", id), zap.Error(err))
	}

	block, err := appendFn()
	if err != nil {
		return block, err
	}
	if err := o.journal.MarkLedgerAppended(id, kind, mutation); err != nil {
		o.log.Warn("journal MarkLedgerAppended failed", zap.String("id", id), zap.Error(err))
	}

	if err := mutateFn(block); err != nil {
		return block, err
	}
	if err := o.journal.MarkStoreMutated(id, kind, mutation); err != nil {
		o.log.Warn("journal MarkStoreMutated failed", zap.String("id", id), zap.Error(err))
	}
	if err := o.journal.Clear(id); err != nil {
		o.log.Warn("journal Clear failed", zap.String("id", id), zap.Error(err))
	}
	return block, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	switch sheet.Stage {
	case domain.StageIngested:
		return o.transitionQuality(ctx, sheet)
	case domain.StageQualityAssessed:
		return o.transitionFromQualityAssessed(ctx, sheet)
	case domain.StageReconstructed:
		return o.transitionBubblesGate(ctx, sheet)
	case domain.StageBubblesRead:
		return o.transitionAISolved(ctx, sheet)
	case domain.StageAISolved, domain.StageManualEntered:
		return o.transitionReconciled(ctx, sheet)
	case domain.StageReconciled:
		return o.transitionScored(ctx, sheet)
	default:
		return sheet.Stage, "", false, nil
	}
}

// handleCancellation implements spec.md §4.6's cooperative-cancellation
// rule: a Cancel() call racing an in-flight stage raises a normal-
// priority intervention and leaves the sheet at its last-committed
// stage rather than surfacing the bare context error.
func (o *Orchestrator) handleCancellation(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	item, err := o.queue.Enqueue(ctx, "sheet", sheet.ID, sheet.ID, "cancelled", domain.PriorityNormal)
	if err != nil {
		return sheet.Stage, "", false, apperrors.NewCancelled(string(sheet.Stage))
	}
	o.log.Info("sheet stage cancelled", zap.String("sheet_id", sheet.ID), zap.String("stage", string(sheet.Stage)))
	return sheet.Stage, item.ID, false, nil
}

func (o *Orchestrator) updateStage(ctx context.Context, sheet *domain.Sheet, stage domain.Stage, blockHash string) error {
	if err := o.store.UpdateSheetStage(ctx, sheet.ID, stage, blockHash); err != nil {
		return err
	}
	sheet.Stage = stage
	sheet.LastBlockHash = blockHash
	return nil
}

// handleAdapterFailure opens a critical intervention in place of
// propagating a bare adapter failure, per spec.md §4.6's "on
// exhaustion... opens an InterventionItem of priority critical and
// leaves the Sheet in its current stage" rule.
func (o *Orchestrator) handleAdapterFailure(ctx context.Context, sheet *domain.Sheet, reasonKind string, err error) (domain.Stage, string, bool, error) {
	if ctx.Err() == context.Canceled {
		// A Cancel() call ended the adapter call: let AdvanceOne route it
		// to handleCancellation instead of opening an adapter failure.
		return sheet.Stage, "", false, ctx.Err()
	}
	item, ierr := o.queue.Enqueue(ctx, "sheet", sheet.ID, sheet.ID, reasonKind, domain.PriorityCritical)
	if ierr != nil {
		return sheet.Stage, "", false, ierr
	}
	if o.metrics != nil {
		o.metrics.AdapterFailuresTotal.WithLabelValues(reasonKind).Inc()
		o.metrics.InterventionsOpenedTotal.WithLabelValues(reasonKind, string(domain.PriorityCritical)).Inc()
	}
	o.log.Error("adapter call exhausted retries, sheet held",
		zap.String("sheet_id", sheet.ID), zap.String("reason", reasonKind), zap.Error(err))
	return sheet.Stage, item.ID, false, nil
}
