// Package domain defines the entities in the evaluation pipeline's data
// model. Every cross-entity reference is an id looked up through
// pkg/store — there is no direct object graph, per the corpus's
// "arena of identifiers" design note.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is one named position in the per-sheet state machine (spec.md
// §4.6). Values are ordered roughly as the happy path progresses, but
// the machine is not purely linear (RECONSTRUCTED is optional, AI_SOLVED
// and MANUAL_ENTERED may interleave).
type Stage string

const (
	StageIngested         Stage = "INGESTED"
	StageQualityAssessed  Stage = "QUALITY_ASSESSED"
	StageReconstructed    Stage = "RECONSTRUCTED"
	StageBubblesRead      Stage = "BUBBLES_READ"
	StageAISolved         Stage = "AI_SOLVED"
	StageManualEntered    Stage = "MANUAL_ENTERED"
	StageReconciled       Stage = "RECONCILED"
	StageScored           Stage = "SCORED"
	StageFinalized        Stage = "FINALIZED"
	StageRejected         Stage = "REJECTED"
)

// Terminal reports whether the stage ends pipeline progression.
func (s Stage) Terminal() bool {
	return s == StageFinalized || s == StageRejected
}

// AnswerKeyStatus enumerates an AnswerKey's lifecycle (spec.md §3).
type AnswerKeyStatus string

const (
	AnswerKeyDraft         AnswerKeyStatus = "draft"
	AnswerKeyAIVerified    AnswerKeyStatus = "ai_verified"
	AnswerKeyFlagged       AnswerKeyStatus = "flagged"
	AnswerKeyHumanApproved AnswerKeyStatus = "human_approved"
	AnswerKeyLocked        AnswerKeyStatus = "locked"
)

// QualityDecision is the outcome of the quality-assessment adapter call.
type QualityDecision string

const (
	QualityProceed      QualityDecision = "proceed"
	QualityReconstruct  QualityDecision = "reconstruct"
	QualityReject       QualityDecision = "reject"
	QualityHumanReview  QualityDecision = "human_review"
)

// DetectedAnswer is a bubble-reading value; it may be a letter answer,
// NONE (left blank), or MULTIPLE (double-marked).
type DetectedAnswer string

const (
	AnswerNone     DetectedAnswer = "NONE"
	AnswerMultiple DetectedAnswer = "MULTIPLE"
)

// ReconciliationStatus is the per-question classification produced by C4.
type ReconciliationStatus string

const (
	StatusMatched         ReconciliationStatus = "matched"
	StatusDisputedAI      ReconciliationStatus = "disputed_ai"
	StatusDisputedManual  ReconciliationStatus = "disputed_manual"
	StatusThreeWaySplit   ReconciliationStatus = "three_way_split"
	StatusNeedsReview     ReconciliationStatus = "needs_review"
	StatusResolved        ReconciliationStatus = "resolved"
)

// InterventionPriority orders open work for C5.
type InterventionPriority string

const (
	PriorityLow      InterventionPriority = "low"
	PriorityNormal   InterventionPriority = "normal"
	PriorityHigh     InterventionPriority = "high"
	PriorityCritical InterventionPriority = "critical"
)

// rank gives a total order for priority comparisons, highest first.
func (p InterventionPriority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Less reports whether p is strictly lower priority than other.
func (p InterventionPriority) Less(other InterventionPriority) bool {
	return p.rank() < other.rank()
}

// InterventionStatus is the C5 lifecycle state.
type InterventionStatus string

const (
	InterventionOpen      InterventionStatus = "open"
	InterventionClaimed   InterventionStatus = "claimed"
	InterventionResolved  InterventionStatus = "resolved"
	InterventionCancelled InterventionStatus = "cancelled"
)

// Base carries the fields every entity shares.
type Base struct {
	ID        string    `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerLinked is embedded by entities whose every mutation is paired
// with a ledger append.
type LedgerLinked struct {
	LastBlockHash string `db:"last_block_hash" json:"last_block_hash"`
}

// QuestionPaper is immutable after creation except for its AnswerKey link.
type QuestionPaper struct {
	Base
	LedgerLinked
	ExamID            string `db:"exam_id" json:"exam_id"`
	Subject           string `db:"subject" json:"subject"`
	TotalQuestions    int    `db:"total_questions" json:"total_questions"`
	MaxMarks          decimal.Decimal `db:"max_marks" json:"max_marks"`
	ContentHash       string `db:"content_hash" json:"content_hash"`
	Version           int    `db:"version" json:"version"`
	AnswerKeyID       string `db:"answer_key_id" json:"answer_key_id,omitempty"`
}

// AnswerKeyEntry is one question's expected answer and marks, plus
// optional AI-verification flags.
type AnswerKeyEntry struct {
	QuestionNumber   int             `json:"question_number"`
	ExpectedAnswer   string          `json:"expected_answer"`
	Marks            decimal.Decimal `json:"marks"`
	Confidence       float64         `json:"confidence,omitempty"`
	AmbiguityNotes   string          `json:"ambiguity_notes,omitempty"`
}

// AnswerKey belongs to exactly one QuestionPaper.
type AnswerKey struct {
	Base
	LedgerLinked
	PaperID string                     `db:"paper_id" json:"paper_id"`
	Status  AnswerKeyStatus            `db:"status" json:"status"`
	Entries map[int]AnswerKeyEntry     `db:"-" json:"entries"`
}

// Locked reports whether this key may score sheets.
func (k *AnswerKey) Locked() bool {
	return k.Status == AnswerKeyLocked
}

// Sheet is one scanned answer sheet moving through the pipeline.
type Sheet struct {
	Base
	LedgerLinked
	ExamID                  string `db:"exam_id" json:"exam_id"`
	PaperID                 string `db:"paper_id" json:"paper_id"`
	RollNumber              string `db:"roll_number" json:"roll_number"`
	SourceImageHash         string `db:"source_image_hash" json:"source_image_hash"`
	ReconstructedImageHash  string `db:"reconstructed_image_hash" json:"reconstructed_image_hash,omitempty"`
	Stage                   Stage  `db:"stage" json:"stage"`
	IngestSource            string `db:"ingest_source" json:"ingest_source,omitempty"`
}

// DamageKind enumerates a recognized class of sheet damage.
type DamageKind struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"` // "minor" | "moderate" | "severe"
}

// QualityRecord is 1:1 with a Sheet.
type QualityRecord struct {
	Base
	SheetID              string          `db:"sheet_id" json:"sheet_id"`
	Score                float64         `db:"score" json:"score"`
	Damage               []DamageKind    `db:"-" json:"damage"`
	Decision             QualityDecision `db:"decision" json:"decision"`
	ReconstructionHash   string          `db:"reconstruction_hash" json:"reconstruction_hash,omitempty"`
}

// BubbleAnswer pairs a detected answer with its confidence.
type BubbleAnswer struct {
	Answer     DetectedAnswer `json:"answer"`
	Confidence float64        `json:"confidence"`
}

// BubbleReading is 1:1 with a Sheet.
type BubbleReading struct {
	Base
	SheetID string                  `db:"sheet_id" json:"sheet_id"`
	Answers map[int]BubbleAnswer    `db:"-" json:"answers"`
}

// SolverAnswer pairs an AI-solver's answer with its confidence and
// explanation.
type SolverAnswer struct {
	Answer      string  `json:"answer"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// AISolverVerdict is 1:1 with a Sheet, optional.
type AISolverVerdict struct {
	Base
	SheetID string                `db:"sheet_id" json:"sheet_id"`
	Answers map[int]SolverAnswer  `db:"-" json:"answers"`
}

// ManualEntry is 1:1 with a Sheet, optional.
type ManualEntry struct {
	Base
	SheetID   string         `db:"sheet_id" json:"sheet_id"`
	Answers   map[int]string `db:"-" json:"answers"`
	EnteredBy string         `db:"entered_by" json:"entered_by"`
	EnteredAt time.Time      `db:"entered_at" json:"entered_at"`
}

// ReconciliationRow is the per-question tuple (spec.md §3).
type ReconciliationRow struct {
	QuestionNumber int                  `json:"question_number"`
	OMR            *DetectedAnswer      `json:"omr,omitempty"`
	AI             *string              `json:"ai,omitempty"`
	Manual         *string              `json:"manual,omitempty"`
	Final          *string              `json:"final"`
	Status         ReconciliationStatus `json:"status"`
}

// Reconciliation is 1:1 with a Sheet.
type Reconciliation struct {
	Base
	SheetID string               `db:"sheet_id" json:"sheet_id"`
	Rows    []ReconciliationRow  `db:"-" json:"rows"`
}

// QuestionScore is one row of the ScoreResult breakdown.
type QuestionScore struct {
	QuestionNumber int             `json:"question_number"`
	Marks          decimal.Decimal `json:"marks"`
	Correct        bool            `json:"correct"`
}

// ScoreResult is 1:1 with a Sheet; may only exist if the key is locked.
type ScoreResult struct {
	Base
	SheetID              string          `db:"sheet_id" json:"sheet_id"`
	AutomatedMarks       decimal.Decimal `db:"automated_marks" json:"automated_marks"`
	ManualMarks          *decimal.Decimal `db:"manual_marks" json:"manual_marks,omitempty"`
	MarksMatch           bool            `db:"marks_match" json:"marks_match"`
	IsPerfectEvaluation  bool            `db:"is_perfect_evaluation" json:"is_perfect_evaluation"`
	Grade                string          `db:"grade" json:"grade"`
	Breakdown            []QuestionScore `db:"-" json:"breakdown"`
}

// InterventionItem blocks pipeline progression for some entity until
// a human resolves it.
type InterventionItem struct {
	Base
	EntityType        string                `db:"entity_type" json:"entity_type"` // "sheet" | "answer_key" | "reconciliation"
	EntityID          string                `db:"entity_id" json:"entity_id"`
	SheetID           string                `db:"sheet_id" json:"sheet_id"` // the pinned sheet; empty for answer-key interventions, which pin no sheet
	ReasonKind        string                `db:"reason_kind" json:"reason_kind"`
	Priority          InterventionPriority  `db:"priority" json:"priority"`
	Status            InterventionStatus    `db:"status" json:"status"`
	Assignee          string                `db:"assignee" json:"assignee,omitempty"`
	ResolutionNote     string               `db:"resolution_note" json:"resolution_note,omitempty"`
	OpenedBlockHash   string                `db:"opened_block_hash" json:"opened_block_hash,omitempty"`
	ResolvedBlockHash string                `db:"resolved_block_hash" json:"resolved_block_hash,omitempty"`
}

// Open reports whether the item still blocks pipeline progression.
func (i *InterventionItem) Open() bool {
	return i.Status == InterventionOpen || i.Status == InterventionClaimed
}

// SignerKey is one entry of the signer-kind -> public-key registry.
type SignerKey struct {
	SignerKind string `json:"signer_kind"`
	SignerKey  string `json:"signer_key"` // hex-encoded ed25519 public key
}
