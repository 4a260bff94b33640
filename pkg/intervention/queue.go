// Package intervention implements the human-in-the-loop queue (C5):
// enqueue/claim/resolve/cancel lifecycle for work that blocks a Sheet's
// pipeline progression, backed by pkg/store for persistence and
// pkg/ledger for INTERVENTION_OPENED/INTERVENTION_RESOLVED blocks.
package intervention

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

// Queue serializes enqueue/claim/resolve/cancel against pkg/store,
// guarding its own index structures with one mutex per spec.md §5's
// "the intervention queue uses one mutex guarding its index
// structures" concurrency rule — distinct from the store's own
// transactional guarantees and the ledger's single-writer lock.
type Queue struct {
	mu    sync.Mutex
	store store.Store
	chain *ledger.Chain
	log   *zap.Logger
}

func New(st store.Store, chain *ledger.Chain, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{store: st, chain: chain, log: log}
}

// Enqueue opens a new InterventionItem, pinning its sheet: the sheet
// may not advance past any stage that would finalize results until
// this item resolves or is cancelled. It appends an INTERVENTION_OPENED
// block and stores the item with that block's hash.
func (q *Queue) Enqueue(ctx context.Context, entityType, entityID, sheetID, reasonKind string, priority domain.InterventionPriority) (domain.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	item := &domain.InterventionItem{
		Base:       domain.Base{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		EntityType: entityType,
		EntityID:   entityID,
		SheetID:    sheetID,
		ReasonKind: reasonKind,
		Priority:   priority,
		Status:     domain.InterventionOpen,
	}

	payload, err := interventionPayload(
		[3]string{"intervention_id", "sheet_id", "reason_kind"},
		[3]string{item.ID, sheetID, reasonKind})
	if err != nil {
		return domain.InterventionItem{}, apperrors.NewInternalError("building intervention payload", err)
	}
	block, err := q.chain.Append(ledger.KindInterventionOpened, payload, nil, ledger.AppendOptions{})
	if err != nil {
		return domain.InterventionItem{}, err
	}
	item.OpenedBlockHash = block.SelfHash

	if err := q.store.CreateIntervention(ctx, item); err != nil {
		return domain.InterventionItem{}, err
	}
	q.log.Info("intervention opened",
		zap.String("id", item.ID), zap.String("sheet_id", sheetID), zap.String("reason", reasonKind), zap.String("priority", string(priority)))
	return *item, nil
}

// Claim atomically transitions an open item to claimed by assignee.
// Only the assignee recorded here may subsequently Resolve it.
func (q *Queue) Claim(ctx context.Context, id, assignee string) (domain.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetIntervention(ctx, id)
	if err != nil {
		return domain.InterventionItem{}, err
	}
	if item.Status != domain.InterventionOpen {
		return domain.InterventionItem{}, apperrors.NewPreconditionFailed(string(item.Status), "intervention is not open")
	}
	item.Status = domain.InterventionClaimed
	item.Assignee = assignee
	if err := q.store.UpdateIntervention(ctx, item); err != nil {
		return domain.InterventionItem{}, err
	}
	return *item, nil
}

// Resolve records a decision for a claimed item, produces an
// INTERVENTION_RESOLVED block referencing the originating
// INTERVENTION_OPENED block, and marks the item resolved. Only the
// assignee that claimed it may resolve it.
func (q *Queue) Resolve(ctx context.Context, id, assignee, resolutionNote string) (domain.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetIntervention(ctx, id)
	if err != nil {
		return domain.InterventionItem{}, err
	}
	if item.Status != domain.InterventionClaimed {
		return domain.InterventionItem{}, apperrors.NewPreconditionFailed(string(item.Status), "intervention is not claimed")
	}
	if item.Assignee != assignee {
		return domain.InterventionItem{}, apperrors.NewValidationError("only the claiming assignee may resolve this intervention")
	}

	payload, err := interventionPayload(
		[3]string{"intervention_id", "opened_block_hash", "resolution_note"},
		[3]string{item.ID, item.OpenedBlockHash, resolutionNote})
	if err != nil {
		return domain.InterventionItem{}, apperrors.NewInternalError("building intervention payload", err)
	}
	block, err := q.chain.Append(ledger.KindInterventionResolved, payload, nil, ledger.AppendOptions{})
	if err != nil {
		return domain.InterventionItem{}, err
	}

	item.Status = domain.InterventionResolved
	item.ResolutionNote = resolutionNote
	item.ResolvedBlockHash = block.SelfHash
	if err := q.store.UpdateIntervention(ctx, item); err != nil {
		return domain.InterventionItem{}, err
	}
	return *item, nil
}

// Cancel is the terminal alternative from any non-terminal state.
func (q *Queue) Cancel(ctx context.Context, id, reason string) (domain.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetIntervention(ctx, id)
	if err != nil {
		return domain.InterventionItem{}, err
	}
	if !item.Open() {
		return domain.InterventionItem{}, apperrors.NewPreconditionFailed(string(item.Status), "intervention is already terminal")
	}
	item.Status = domain.InterventionCancelled
	item.ResolutionNote = reason
	if err := q.store.UpdateIntervention(ctx, item); err != nil {
		return domain.InterventionItem{}, err
	}
	return *item, nil
}

// Next returns the highest-priority open item matching filter,
// tie-broken oldest first.
func (q *Queue) Next(ctx context.Context, filter store.InterventionFilter) (*domain.InterventionItem, error) {
	items, err := q.store.ListInterventions(ctx, filter.WithStatus(domain.InterventionOpen))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[j].Priority.Less(items[i].Priority)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return &items[0], nil
}

// OpenForSheet reports whether sheetID has any item still pinning it,
// the guard spec.md §4.5/§4.6 require before FINALIZED or SCORED.
func (q *Queue) OpenForSheet(ctx context.Context, sheetID string) (bool, error) {
	items, err := q.store.ListInterventions(ctx, store.InterventionFilter{})
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.SheetID == sheetID && item.Open() {
			return true, nil
		}
	}
	return false, nil
}

// interventionPayload hashes a set of named string fields into a
// block's payload. Called with (intervention_id, sheet_id, reason_kind)
// on open and (intervention_id, opened_block_hash, resolution_note) on
// resolve.
func interventionPayload(keys [3]string, values [3]string) ([]ledger.PayloadEntry, error) {
	entries := make([]ledger.PayloadEntry, 0, 3)
	for i, v := range values {
		e, err := ledger.NewPayloadEntry(keys[i], v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
