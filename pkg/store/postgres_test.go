package store_test

import (
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

var _ = Describe("PostgresStore", func() {
	var (
		db   *sqlx.DB
		mock sqlmock.Sqlmock
		s    *store.PostgresStore
		ctx  = newTestContext()
	)

	BeforeEach(func() {
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		s = store.NewPostgresStore(db, zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("CreateQuestionPaper", func() {
		It("executes the insert with the paper's fields", func() {
			p := &domain.QuestionPaper{
				Base:           domain.Base{ID: "paper-1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
				ExamID:         "exam-1",
				Subject:        "Physics",
				TotalQuestions: 3,
				MaxMarks:       decimal.NewFromInt(6),
				ContentHash:    "abc123",
				Version:        1,
			}

			mock.ExpectExec(`INSERT INTO question_papers`).
				WithArgs(p.ID, p.ExamID, p.Subject, p.TotalQuestions, p.MaxMarks, p.ContentHash, p.Version, p.AnswerKeyID, p.LastBlockHash, p.CreatedAt, p.UpdatedAt).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(s.CreateQuestionPaper(ctx, p)).To(Succeed())
		})

		It("surfaces the driver error as an internal AppError", func() {
			p := &domain.QuestionPaper{Base: domain.Base{ID: "paper-err"}}

			mock.ExpectExec(`INSERT INTO question_papers`).WillReturnError(sqlmock.ErrCancelled)

			err := s.CreateQuestionPaper(ctx, p)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("UpdateSheetStage", func() {
		It("fails with not_found when no row matches the sheet id", func() {
			mock.ExpectExec(`UPDATE sheets SET stage`).
				WithArgs(domain.StageQualityAssessed, "hash-1", sqlmock.AnyArg(), "missing-sheet").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := s.UpdateSheetStage(ctx, "missing-sheet", domain.StageQualityAssessed, "hash-1")
			Expect(err).To(HaveOccurred())
		})

		It("succeeds when exactly one row is updated", func() {
			mock.ExpectExec(`UPDATE sheets SET stage`).
				WithArgs(domain.StageQualityAssessed, "hash-1", sqlmock.AnyArg(), "sheet-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(s.UpdateSheetStage(ctx, "sheet-1", domain.StageQualityAssessed, "hash-1")).To(Succeed())
		})
	})

	Describe("ListInterventions", func() {
		It("adds a WHERE clause per populated filter dimension", func() {
			rows := sqlmock.NewRows([]string{
				"id", "entity_type", "entity_id", "sheet_id", "reason_kind", "priority", "status",
				"assignee", "resolution_note", "opened_block_hash", "resolved_block_hash", "created_at", "updated_at",
			}).AddRow("intervention-1", "reconciliation", "recon-1", "sheet-1", "three_way_split", "high", "open",
				"", "", "", "", time.Now(), time.Now())

			mock.ExpectQuery(`SELECT .* FROM intervention_items WHERE 1=1 AND status = \$1 AND priority = \$2`).
				WithArgs("open", "high").
				WillReturnRows(rows)

			items, err := s.ListInterventions(ctx, store.InterventionFilter{}.WithStatus(domain.InterventionOpen).WithPriority(domain.PriorityHigh))
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].ID).To(Equal("intervention-1"))
		})
	})
})
