package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
)

// PostgresStore is the production Store backend: every method issues
// one round trip against Postgres through sqlx, the way the corpus's
// per-entity repositories do (constructor takes *sqlx.DB and a logger,
// no package-level globals).
type PostgresStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewPostgresStore wraps an already-connected *sqlx.DB. Use
// internal/database.Connect to build db.
func NewPostgresStore(db *sqlx.DB, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{db: db, log: log}
}

func notFound(entity, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s", entity, id))
	}
	return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "query %s %s", entity, id)
}

// --- question papers ---

func (s *PostgresStore) CreateQuestionPaper(ctx context.Context, p *domain.QuestionPaper) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO question_papers
			(id, exam_id, subject, total_questions, max_marks, content_hash, version, answer_key_id, last_block_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`,
		p.ID, p.ExamID, p.Subject, p.TotalQuestions, p.MaxMarks, p.ContentHash, p.Version, p.AnswerKeyID, p.LastBlockHash, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "insert question paper %s", p.ID)
	}
	return nil
}

const selectQuestionPaper = `
	SELECT id, exam_id, subject, total_questions, max_marks, content_hash, version,
		COALESCE(answer_key_id, '') AS answer_key_id, last_block_hash, created_at, updated_at
	FROM question_papers`

func (s *PostgresStore) GetQuestionPaper(ctx context.Context, id string) (*domain.QuestionPaper, error) {
	var p domain.QuestionPaper
	err := s.db.GetContext(ctx, &p, selectQuestionPaper+` WHERE id = $1`, id)
	if err != nil {
		return nil, notFound("question paper", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateQuestionPaperLedgerHash(ctx context.Context, id, lastBlockHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE question_papers SET last_block_hash = $1, updated_at = $2 WHERE id = $3`, lastBlockHash, time.Now().UTC(), id)
	return mustUpdateOne(res, err, "question paper", id)
}

func mustUpdateOne(res sql.Result, err error, entity, id string) error {
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "update %s %s", entity, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "check rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s", entity, id))
	}
	return nil
}

// --- answer keys ---

func (s *PostgresStore) CreateAnswerKey(ctx context.Context, k *domain.AnswerKey) error {
	entries, err := json.Marshal(k.Entries)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal answer key entries %s", k.ID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answer_keys (id, paper_id, status, entries, last_block_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.ID, k.PaperID, k.Status, entries, k.LastBlockHash, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "insert answer key %s", k.ID)
	}
	return nil
}

type answerKeyRow struct {
	domain.Base
	domain.LedgerLinked
	PaperID string          `db:"paper_id"`
	Status  string          `db:"status"`
	Entries json.RawMessage `db:"entries"`
}

func (r answerKeyRow) toDomain() (*domain.AnswerKey, error) {
	var entries map[int]domain.AnswerKeyEntry
	if len(r.Entries) > 0 {
		if err := json.Unmarshal(r.Entries, &entries); err != nil {
			return nil, fmt.Errorf("unmarshal answer key entries: %w", err)
		}
	}
	return &domain.AnswerKey{
		Base:         r.Base,
		LedgerLinked: r.LedgerLinked,
		PaperID:      r.PaperID,
		Status:       domain.AnswerKeyStatus(r.Status),
		Entries:      entries,
	}, nil
}

func (s *PostgresStore) GetAnswerKey(ctx context.Context, id string) (*domain.AnswerKey, error) {
	var row answerKeyRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM answer_keys WHERE id = $1`, id); err != nil {
		return nil, notFound("answer key", id, err)
	}
	return row.toDomain()
}

func (s *PostgresStore) GetAnswerKeyByPaperID(ctx context.Context, paperID string) (*domain.AnswerKey, error) {
	var row answerKeyRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM answer_keys WHERE paper_id = $1`, paperID); err != nil {
		return nil, notFound("answer key for paper", paperID, err)
	}
	return row.toDomain()
}

func (s *PostgresStore) UpdateAnswerKey(ctx context.Context, k *domain.AnswerKey) error {
	entries, err := json.Marshal(k.Entries)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal answer key entries %s", k.ID)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE answer_keys SET status = $1, entries = $2, last_block_hash = $3, updated_at = $4 WHERE id = $5`,
		k.Status, entries, k.LastBlockHash, time.Now().UTC(), k.ID)
	return mustUpdateOne(res, err, "answer key", k.ID)
}

// --- sheets ---

func (s *PostgresStore) CreateSheet(ctx context.Context, sh *domain.Sheet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheets
			(id, exam_id, paper_id, roll_number, source_image_hash, reconstructed_image_hash, stage, ingest_source, last_block_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)`,
		sh.ID, sh.ExamID, sh.PaperID, sh.RollNumber, sh.SourceImageHash, sh.ReconstructedImageHash, sh.Stage, sh.IngestSource, sh.LastBlockHash, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "insert sheet %s", sh.ID)
	}
	return nil
}

const selectSheet = `
	SELECT id, exam_id, paper_id, roll_number, source_image_hash,
		COALESCE(reconstructed_image_hash, '') AS reconstructed_image_hash,
		stage, COALESCE(ingest_source, '') AS ingest_source, last_block_hash, created_at, updated_at
	FROM sheets`

func (s *PostgresStore) GetSheet(ctx context.Context, id string) (*domain.Sheet, error) {
	var sh domain.Sheet
	if err := s.db.GetContext(ctx, &sh, selectSheet+` WHERE id = $1`, id); err != nil {
		return nil, notFound("sheet", id, err)
	}
	return &sh, nil
}

func (s *PostgresStore) GetSheetWithRelations(ctx context.Context, id string) (*SheetAggregate, error) {
	sh, err := s.GetSheet(ctx, id)
	if err != nil {
		return nil, err
	}
	agg := &SheetAggregate{Sheet: *sh}

	if q, err := s.GetQualityRecord(ctx, id); err == nil {
		agg.Quality = q
	}
	if b, err := s.GetBubbleReading(ctx, id); err == nil {
		agg.Bubbles = b
	}
	if a, err := s.GetAISolverVerdict(ctx, id); err == nil {
		agg.AISolver = a
	}
	if m, err := s.GetManualEntry(ctx, id); err == nil {
		agg.Manual = m
	}
	if r, err := s.GetReconciliation(ctx, id); err == nil {
		agg.Reconciliation = r
	}
	if sc, err := s.GetScoreResult(ctx, id); err == nil {
		agg.Score = sc
	}
	return agg, nil
}

func (s *PostgresStore) UpdateSheetStage(ctx context.Context, id string, stage domain.Stage, lastBlockHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sheets SET stage = $1, last_block_hash = $2, updated_at = $3 WHERE id = $4`,
		stage, lastBlockHash, time.Now().UTC(), id)
	return mustUpdateOne(res, err, "sheet", id)
}

func (s *PostgresStore) ListSheetsInStage(ctx context.Context, stage domain.Stage) ([]domain.Sheet, error) {
	var sheets []domain.Sheet
	if err := s.db.SelectContext(ctx, &sheets, selectSheet+` WHERE stage = $1 ORDER BY created_at`, stage); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "list sheets in stage %s", stage)
	}
	return sheets, nil
}

// --- per-sheet sub-entities: upsert by sheet_id ---

func (s *PostgresStore) SaveQualityRecord(ctx context.Context, r *domain.QualityRecord) error {
	damage, err := json.Marshal(r.Damage)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal damage list for sheet %s", r.SheetID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_records (sheet_id, score, damage, decision, reconstruction_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sheet_id) DO UPDATE SET
			score = EXCLUDED.score, damage = EXCLUDED.damage, decision = EXCLUDED.decision,
			reconstruction_hash = EXCLUDED.reconstruction_hash, updated_at = EXCLUDED.updated_at`,
		r.SheetID, r.Score, damage, r.Decision, r.ReconstructionHash, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "save quality record for sheet %s", r.SheetID)
	}
	return nil
}

func (s *PostgresStore) GetQualityRecord(ctx context.Context, sheetID string) (*domain.QualityRecord, error) {
	type row struct {
		domain.Base
		SheetID            string          `db:"sheet_id"`
		Score              float64         `db:"score"`
		Damage             json.RawMessage `db:"damage"`
		Decision           string          `db:"decision"`
		ReconstructionHash string          `db:"reconstruction_hash"`
	}
	var r row
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM quality_records WHERE sheet_id = $1`, sheetID); err != nil {
		return nil, notFound("quality record for sheet", sheetID, err)
	}
	var damage []domain.DamageKind
	if len(r.Damage) > 0 {
		if err := json.Unmarshal(r.Damage, &damage); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "unmarshal damage list for sheet %s", sheetID)
		}
	}
	return &domain.QualityRecord{
		Base: r.Base, SheetID: r.SheetID, Score: r.Score, Damage: damage,
		Decision: domain.QualityDecision(r.Decision), ReconstructionHash: r.ReconstructionHash,
	}, nil
}

func (s *PostgresStore) SaveBubbleReading(ctx context.Context, r *domain.BubbleReading) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal bubble answers for sheet %s", r.SheetID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bubble_readings (sheet_id, answers, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sheet_id) DO UPDATE SET answers = EXCLUDED.answers, updated_at = EXCLUDED.updated_at`,
		r.SheetID, answers, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "save bubble reading for sheet %s", r.SheetID)
	}
	return nil
}

func (s *PostgresStore) GetBubbleReading(ctx context.Context, sheetID string) (*domain.BubbleReading, error) {
	type row struct {
		domain.Base
		SheetID string          `db:"sheet_id"`
		Answers json.RawMessage `db:"answers"`
	}
	var r row
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM bubble_readings WHERE sheet_id = $1`, sheetID); err != nil {
		return nil, notFound("bubble reading for sheet", sheetID, err)
	}
	var answers map[int]domain.BubbleAnswer
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &answers); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "unmarshal bubble answers for sheet %s", sheetID)
		}
	}
	return &domain.BubbleReading{Base: r.Base, SheetID: r.SheetID, Answers: answers}, nil
}

func (s *PostgresStore) SaveAISolverVerdict(ctx context.Context, v *domain.AISolverVerdict) error {
	answers, err := json.Marshal(v.Answers)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal ai solver answers for sheet %s", v.SheetID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_solver_verdicts (sheet_id, answers, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sheet_id) DO UPDATE SET answers = EXCLUDED.answers, updated_at = EXCLUDED.updated_at`,
		v.SheetID, answers, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "save ai solver verdict for sheet %s", v.SheetID)
	}
	return nil
}

func (s *PostgresStore) GetAISolverVerdict(ctx context.Context, sheetID string) (*domain.AISolverVerdict, error) {
	type row struct {
		domain.Base
		SheetID string          `db:"sheet_id"`
		Answers json.RawMessage `db:"answers"`
	}
	var r row
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM ai_solver_verdicts WHERE sheet_id = $1`, sheetID); err != nil {
		return nil, notFound("ai solver verdict for sheet", sheetID, err)
	}
	var answers map[int]domain.SolverAnswer
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &answers); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "unmarshal ai solver answers for sheet %s", sheetID)
		}
	}
	return &domain.AISolverVerdict{Base: r.Base, SheetID: r.SheetID, Answers: answers}, nil
}

func (s *PostgresStore) SaveManualEntry(ctx context.Context, e *domain.ManualEntry) error {
	answers, err := json.Marshal(e.Answers)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal manual answers for sheet %s", e.SheetID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manual_entries (sheet_id, answers, entered_by, entered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sheet_id) DO UPDATE SET
			answers = EXCLUDED.answers, entered_by = EXCLUDED.entered_by, entered_at = EXCLUDED.entered_at, updated_at = EXCLUDED.updated_at`,
		e.SheetID, answers, e.EnteredBy, e.EnteredAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "save manual entry for sheet %s", e.SheetID)
	}
	return nil
}

func (s *PostgresStore) GetManualEntry(ctx context.Context, sheetID string) (*domain.ManualEntry, error) {
	type row struct {
		domain.Base
		SheetID   string          `db:"sheet_id"`
		Answers   json.RawMessage `db:"answers"`
		EnteredBy string          `db:"entered_by"`
		EnteredAt time.Time       `db:"entered_at"`
	}
	var r row
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM manual_entries WHERE sheet_id = $1`, sheetID); err != nil {
		return nil, notFound("manual entry for sheet", sheetID, err)
	}
	var answers map[int]string
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &answers); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "unmarshal manual answers for sheet %s", sheetID)
		}
	}
	return &domain.ManualEntry{Base: r.Base, SheetID: r.SheetID, Answers: answers, EnteredBy: r.EnteredBy, EnteredAt: r.EnteredAt}, nil
}

func (s *PostgresStore) SaveReconciliation(ctx context.Context, r *domain.Reconciliation) error {
	rows, err := json.Marshal(r.Rows)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal reconciliation rows for sheet %s", r.SheetID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliations (sheet_id, rows, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sheet_id) DO UPDATE SET rows = EXCLUDED.rows, updated_at = EXCLUDED.updated_at`,
		r.SheetID, rows, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "save reconciliation for sheet %s", r.SheetID)
	}
	return nil
}

func (s *PostgresStore) GetReconciliation(ctx context.Context, sheetID string) (*domain.Reconciliation, error) {
	type row struct {
		domain.Base
		SheetID string          `db:"sheet_id"`
		Rows    json.RawMessage `db:"rows"`
	}
	var r row
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM reconciliations WHERE sheet_id = $1`, sheetID); err != nil {
		return nil, notFound("reconciliation for sheet", sheetID, err)
	}
	var rows []domain.ReconciliationRow
	if len(r.Rows) > 0 {
		if err := json.Unmarshal(r.Rows, &rows); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "unmarshal reconciliation rows for sheet %s", sheetID)
		}
	}
	return &domain.Reconciliation{Base: r.Base, SheetID: r.SheetID, Rows: rows}, nil
}

func (s *PostgresStore) SaveScoreResult(ctx context.Context, r *domain.ScoreResult) error {
	breakdown, err := json.Marshal(r.Breakdown)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "marshal score breakdown for sheet %s", r.SheetID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO score_results
			(sheet_id, automated_marks, manual_marks, marks_match, is_perfect_evaluation, grade, breakdown, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sheet_id) DO UPDATE SET
			automated_marks = EXCLUDED.automated_marks, manual_marks = EXCLUDED.manual_marks,
			marks_match = EXCLUDED.marks_match, is_perfect_evaluation = EXCLUDED.is_perfect_evaluation,
			grade = EXCLUDED.grade, breakdown = EXCLUDED.breakdown, updated_at = EXCLUDED.updated_at`,
		r.SheetID, r.AutomatedMarks, r.ManualMarks, r.MarksMatch, r.IsPerfectEvaluation, r.Grade, breakdown, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "save score result for sheet %s", r.SheetID)
	}
	return nil
}

func (s *PostgresStore) GetScoreResult(ctx context.Context, sheetID string) (*domain.ScoreResult, error) {
	type row struct {
		domain.Base
		SheetID             string          `db:"sheet_id"`
		AutomatedMarks      decimal.Decimal `db:"automated_marks"`
		ManualMarks         *decimal.Decimal `db:"manual_marks"`
		MarksMatch          bool            `db:"marks_match"`
		IsPerfectEvaluation bool            `db:"is_perfect_evaluation"`
		Grade               string          `db:"grade"`
		Breakdown           json.RawMessage `db:"breakdown"`
	}
	var r row
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM score_results WHERE sheet_id = $1`, sheetID); err != nil {
		return nil, notFound("score result for sheet", sheetID, err)
	}
	var breakdown []domain.QuestionScore
	if len(r.Breakdown) > 0 {
		if err := json.Unmarshal(r.Breakdown, &breakdown); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "unmarshal score breakdown for sheet %s", sheetID)
		}
	}
	return &domain.ScoreResult{
		Base: r.Base, SheetID: r.SheetID, AutomatedMarks: r.AutomatedMarks, ManualMarks: r.ManualMarks,
		MarksMatch: r.MarksMatch, IsPerfectEvaluation: r.IsPerfectEvaluation, Grade: r.Grade, Breakdown: breakdown,
	}, nil
}

// --- interventions ---

func (s *PostgresStore) CreateIntervention(ctx context.Context, it *domain.InterventionItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intervention_items
			(id, entity_type, entity_id, sheet_id, reason_kind, priority, status, assignee, resolution_note, opened_block_hash, resolved_block_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12, $13)`,
		it.ID, it.EntityType, it.EntityID, it.SheetID, it.ReasonKind, it.Priority, it.Status,
		it.Assignee, it.ResolutionNote, it.OpenedBlockHash, it.ResolvedBlockHash, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "insert intervention %s", it.ID)
	}
	return nil
}

const selectIntervention = `
	SELECT id, entity_type, entity_id, sheet_id, reason_kind, priority, status,
		COALESCE(assignee, '') AS assignee, COALESCE(resolution_note, '') AS resolution_note,
		COALESCE(opened_block_hash, '') AS opened_block_hash, COALESCE(resolved_block_hash, '') AS resolved_block_hash,
		created_at, updated_at
	FROM intervention_items`

func (s *PostgresStore) GetIntervention(ctx context.Context, id string) (*domain.InterventionItem, error) {
	var it domain.InterventionItem
	if err := s.db.GetContext(ctx, &it, selectIntervention+` WHERE id = $1`, id); err != nil {
		return nil, notFound("intervention", id, err)
	}
	return &it, nil
}

func (s *PostgresStore) UpdateIntervention(ctx context.Context, it *domain.InterventionItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intervention_items SET
			status = $1, assignee = NULLIF($2, ''), resolution_note = NULLIF($3, ''),
			resolved_block_hash = NULLIF($4, ''), updated_at = $5
		WHERE id = $6`,
		it.Status, it.Assignee, it.ResolutionNote, it.ResolvedBlockHash, time.Now().UTC(), it.ID)
	return mustUpdateOne(res, err, "intervention", it.ID)
}

func (s *PostgresStore) ListInterventions(ctx context.Context, f InterventionFilter) ([]domain.InterventionItem, error) {
	query := selectIntervention + ` WHERE 1=1`
	var args []interface{}
	n := 1
	if f.hasStatus {
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
		n++
	}
	if f.hasPriority {
		query += fmt.Sprintf(" AND priority = $%d", n)
		args = append(args, f.Priority)
		n++
	}
	if f.Assignee != "" {
		query += fmt.Sprintf(" AND assignee = $%d", n)
		args = append(args, f.Assignee)
		n++
	}
	query += " ORDER BY created_at"

	var items []domain.InterventionItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "list interventions")
	}
	return items, nil
}

// --- signer registry ---

func (s *PostgresStore) ListSignerKeys(ctx context.Context) ([]domain.SignerKey, error) {
	var keys []domain.SignerKey
	if err := s.db.SelectContext(ctx, &keys, `SELECT signer_kind, signer_key FROM signer_keys ORDER BY signer_kind`); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "list signer keys")
	}
	return keys, nil
}

var _ Store = (*PostgresStore)(nil)
