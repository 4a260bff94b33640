// Package store provides transactional persistence over the domain
// entities in pkg/domain. Every mutating method either commits or
// leaves the row untouched — partial writes are never observable to
// other callers, matching spec.md §4.2's transactional contract.
package store

import (
	"context"

	"github.com/jordigilh/omr-ledger/pkg/domain"
)

// Store is the persistence surface the orchestrator, reconciliation
// engine, and HTTP layer depend on. It never itself decides when a
// ledger block is due — callers pair a Store mutation with a ledger
// append through Journal (journal.go) so a crash between the two is
// recoverable on restart.
type Store interface {
	CreateQuestionPaper(ctx context.Context, p *domain.QuestionPaper) error
	GetQuestionPaper(ctx context.Context, id string) (*domain.QuestionPaper, error)
	UpdateQuestionPaperLedgerHash(ctx context.Context, id, lastBlockHash string) error

	CreateAnswerKey(ctx context.Context, k *domain.AnswerKey) error
	GetAnswerKey(ctx context.Context, id string) (*domain.AnswerKey, error)
	GetAnswerKeyByPaperID(ctx context.Context, paperID string) (*domain.AnswerKey, error)
	UpdateAnswerKey(ctx context.Context, k *domain.AnswerKey) error

	CreateSheet(ctx context.Context, s *domain.Sheet) error
	GetSheet(ctx context.Context, id string) (*domain.Sheet, error)
	GetSheetWithRelations(ctx context.Context, id string) (*SheetAggregate, error)
	UpdateSheetStage(ctx context.Context, id string, stage domain.Stage, lastBlockHash string) error
	ListSheetsInStage(ctx context.Context, stage domain.Stage) ([]domain.Sheet, error)

	SaveQualityRecord(ctx context.Context, r *domain.QualityRecord) error
	SaveBubbleReading(ctx context.Context, r *domain.BubbleReading) error
	SaveAISolverVerdict(ctx context.Context, v *domain.AISolverVerdict) error
	SaveManualEntry(ctx context.Context, m *domain.ManualEntry) error
	SaveReconciliation(ctx context.Context, r *domain.Reconciliation) error
	SaveScoreResult(ctx context.Context, r *domain.ScoreResult) error

	GetQualityRecord(ctx context.Context, sheetID string) (*domain.QualityRecord, error)
	GetBubbleReading(ctx context.Context, sheetID string) (*domain.BubbleReading, error)
	GetAISolverVerdict(ctx context.Context, sheetID string) (*domain.AISolverVerdict, error)
	GetManualEntry(ctx context.Context, sheetID string) (*domain.ManualEntry, error)
	GetReconciliation(ctx context.Context, sheetID string) (*domain.Reconciliation, error)
	GetScoreResult(ctx context.Context, sheetID string) (*domain.ScoreResult, error)

	CreateIntervention(ctx context.Context, it *domain.InterventionItem) error
	GetIntervention(ctx context.Context, id string) (*domain.InterventionItem, error)
	UpdateIntervention(ctx context.Context, it *domain.InterventionItem) error
	ListInterventions(ctx context.Context, f InterventionFilter) ([]domain.InterventionItem, error)

	ListSignerKeys(ctx context.Context) ([]domain.SignerKey, error)
}

// SheetAggregate bundles a Sheet with every 1:1 relation a full status
// view needs, per spec.md §4.2's "fetch Sheet by id with all 1:1
// relations" query requirement.
type SheetAggregate struct {
	Sheet          domain.Sheet
	Quality        *domain.QualityRecord
	Bubbles        *domain.BubbleReading
	AISolver       *domain.AISolverVerdict
	Manual         *domain.ManualEntry
	Reconciliation *domain.Reconciliation
	Score          *domain.ScoreResult
}

// InterventionFilter narrows ListInterventions. Zero-value fields are
// treated as "don't filter on this dimension".
type InterventionFilter struct {
	Status   domain.InterventionStatus
	Priority domain.InterventionPriority
	Assignee string

	hasStatus   bool
	hasPriority bool
}

// WithStatus returns a copy of f restricted to status.
func (f InterventionFilter) WithStatus(status domain.InterventionStatus) InterventionFilter {
	f.Status = status
	f.hasStatus = true
	return f
}

// WithPriority returns a copy of f restricted to priority.
func (f InterventionFilter) WithPriority(priority domain.InterventionPriority) InterventionFilter {
	f.Priority = priority
	f.hasPriority = true
	return f
}
