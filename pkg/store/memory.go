package store

import (
	"context"
	"sync"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
)

// MemoryStore is an in-process Store used by unit tests and by the
// orchestrator's own test suite; it never talks to Postgres. It is not
// used in production — PostgresStore is — but mirrors its contract
// exactly so tests written against MemoryStore stay valid against the
// real backend.
type MemoryStore struct {
	mu sync.Mutex

	papers         map[string]domain.QuestionPaper
	keys           map[string]domain.AnswerKey
	keysByPaper    map[string]string
	sheets         map[string]domain.Sheet
	quality        map[string]domain.QualityRecord
	bubbles        map[string]domain.BubbleReading
	aiSolver       map[string]domain.AISolverVerdict
	manual         map[string]domain.ManualEntry
	reconciliation map[string]domain.Reconciliation
	scores         map[string]domain.ScoreResult
	interventions  map[string]domain.InterventionItem
	signers        []domain.SignerKey
}

// NewMemoryStore builds an empty MemoryStore, optionally seeded with
// signer keys (the registry is immutable at runtime, so it is the one
// collection that can only be set at construction).
func NewMemoryStore(signers ...domain.SignerKey) *MemoryStore {
	return &MemoryStore{
		papers:         make(map[string]domain.QuestionPaper),
		keys:           make(map[string]domain.AnswerKey),
		keysByPaper:    make(map[string]string),
		sheets:         make(map[string]domain.Sheet),
		quality:        make(map[string]domain.QualityRecord),
		bubbles:        make(map[string]domain.BubbleReading),
		aiSolver:       make(map[string]domain.AISolverVerdict),
		manual:         make(map[string]domain.ManualEntry),
		reconciliation: make(map[string]domain.Reconciliation),
		scores:         make(map[string]domain.ScoreResult),
		interventions:  make(map[string]domain.InterventionItem),
		signers:        signers,
	}
}

func (m *MemoryStore) CreateQuestionPaper(_ context.Context, p *domain.QuestionPaper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.papers[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetQuestionPaper(_ context.Context, id string) (*domain.QuestionPaper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("question paper " + id)
	}
	return &p, nil
}

func (m *MemoryStore) UpdateQuestionPaperLedgerHash(_ context.Context, id, lastBlockHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return apperrors.NewNotFoundError("question paper " + id)
	}
	p.LastBlockHash = lastBlockHash
	m.papers[id] = p
	return nil
}

func (m *MemoryStore) CreateAnswerKey(_ context.Context, k *domain.AnswerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ID] = *k
	m.keysByPaper[k.PaperID] = k.ID
	return nil
}

func (m *MemoryStore) GetAnswerKey(_ context.Context, id string) (*domain.AnswerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("answer key " + id)
	}
	return &k, nil
}

func (m *MemoryStore) GetAnswerKeyByPaperID(_ context.Context, paperID string) (*domain.AnswerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keysByPaper[paperID]
	if !ok {
		return nil, apperrors.NewNotFoundError("answer key for paper " + paperID)
	}
	k := m.keys[id]
	return &k, nil
}

func (m *MemoryStore) UpdateAnswerKey(_ context.Context, k *domain.AnswerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[k.ID]; !ok {
		return apperrors.NewNotFoundError("answer key " + k.ID)
	}
	m.keys[k.ID] = *k
	return nil
}

func (m *MemoryStore) CreateSheet(_ context.Context, s *domain.Sheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSheet(_ context.Context, id string) (*domain.Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("sheet " + id)
	}
	return &s, nil
}

func (m *MemoryStore) GetSheetWithRelations(_ context.Context, id string) (*SheetAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("sheet " + id)
	}
	agg := &SheetAggregate{Sheet: s}
	if v, ok := m.quality[id]; ok {
		agg.Quality = &v
	}
	if v, ok := m.bubbles[id]; ok {
		agg.Bubbles = &v
	}
	if v, ok := m.aiSolver[id]; ok {
		agg.AISolver = &v
	}
	if v, ok := m.manual[id]; ok {
		agg.Manual = &v
	}
	if v, ok := m.reconciliation[id]; ok {
		agg.Reconciliation = &v
	}
	if v, ok := m.scores[id]; ok {
		agg.Score = &v
	}
	return agg, nil
}

func (m *MemoryStore) UpdateSheetStage(_ context.Context, id string, stage domain.Stage, lastBlockHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return apperrors.NewNotFoundError("sheet " + id)
	}
	s.Stage = stage
	s.LastBlockHash = lastBlockHash
	m.sheets[id] = s
	return nil
}

func (m *MemoryStore) ListSheetsInStage(_ context.Context, stage domain.Stage) ([]domain.Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sheet
	for _, s := range m.sheets {
		if s.Stage == stage {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveQualityRecord(_ context.Context, r *domain.QualityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quality[r.SheetID] = *r
	return nil
}

func (m *MemoryStore) SaveBubbleReading(_ context.Context, r *domain.BubbleReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bubbles[r.SheetID] = *r
	return nil
}

func (m *MemoryStore) SaveAISolverVerdict(_ context.Context, v *domain.AISolverVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aiSolver[v.SheetID] = *v
	return nil
}

func (m *MemoryStore) SaveManualEntry(_ context.Context, e *domain.ManualEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manual[e.SheetID] = *e
	return nil
}

func (m *MemoryStore) SaveReconciliation(_ context.Context, r *domain.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciliation[r.SheetID] = *r
	return nil
}

func (m *MemoryStore) SaveScoreResult(_ context.Context, r *domain.ScoreResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[r.SheetID] = *r
	return nil
}

func (m *MemoryStore) GetQualityRecord(_ context.Context, sheetID string) (*domain.QualityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.quality[sheetID]
	if !ok {
		return nil, apperrors.NewNotFoundError("quality record for sheet " + sheetID)
	}
	return &v, nil
}

func (m *MemoryStore) GetBubbleReading(_ context.Context, sheetID string) (*domain.BubbleReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.bubbles[sheetID]
	if !ok {
		return nil, apperrors.NewNotFoundError("bubble reading for sheet " + sheetID)
	}
	return &v, nil
}

func (m *MemoryStore) GetAISolverVerdict(_ context.Context, sheetID string) (*domain.AISolverVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.aiSolver[sheetID]
	if !ok {
		return nil, apperrors.NewNotFoundError("ai solver verdict for sheet " + sheetID)
	}
	return &v, nil
}

func (m *MemoryStore) GetManualEntry(_ context.Context, sheetID string) (*domain.ManualEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.manual[sheetID]
	if !ok {
		return nil, apperrors.NewNotFoundError("manual entry for sheet " + sheetID)
	}
	return &v, nil
}

func (m *MemoryStore) GetReconciliation(_ context.Context, sheetID string) (*domain.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.reconciliation[sheetID]
	if !ok {
		return nil, apperrors.NewNotFoundError("reconciliation for sheet " + sheetID)
	}
	return &v, nil
}

func (m *MemoryStore) GetScoreResult(_ context.Context, sheetID string) (*domain.ScoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scores[sheetID]
	if !ok {
		return nil, apperrors.NewNotFoundError("score result for sheet " + sheetID)
	}
	return &v, nil
}

func (m *MemoryStore) CreateIntervention(_ context.Context, it *domain.InterventionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interventions[it.ID] = *it
	return nil
}

func (m *MemoryStore) GetIntervention(_ context.Context, id string) (*domain.InterventionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.interventions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("intervention " + id)
	}
	return &it, nil
}

func (m *MemoryStore) UpdateIntervention(_ context.Context, it *domain.InterventionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interventions[it.ID]; !ok {
		return apperrors.NewNotFoundError("intervention " + it.ID)
	}
	m.interventions[it.ID] = *it
	return nil
}

func (m *MemoryStore) ListInterventions(_ context.Context, f InterventionFilter) ([]domain.InterventionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InterventionItem
	for _, it := range m.interventions {
		if f.hasStatus && it.Status != f.Status {
			continue
		}
		if f.hasPriority && it.Priority != f.Priority {
			continue
		}
		if f.Assignee != "" && it.Assignee != f.Assignee {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *MemoryStore) ListSignerKeys(_ context.Context) ([]domain.SignerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SignerKey, len(m.signers))
	copy(out, m.signers)
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
