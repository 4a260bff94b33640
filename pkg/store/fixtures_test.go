package store_test

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jordigilh/omr-ledger/pkg/domain"
)

func newTestContext() context.Context {
	return context.Background()
}

var testQuestionPaper = domain.QuestionPaper{
	Base:           domain.Base{ID: "paper-1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	ExamID:         "exam-2026-physics",
	Subject:        "Physics",
	TotalQuestions: 3,
	MaxMarks:       decimal.NewFromInt(6),
	ContentHash:    "deadbeef",
	Version:        1,
}

var openCriticalIntervention = domain.InterventionItem{
	Base:       domain.Base{ID: "intervention-open-1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	EntityType: "reconciliation",
	EntityID:   "recon-1",
	SheetID:    "sheet-1",
	ReasonKind: "three_way_split",
	Priority:   domain.PriorityCritical,
	Status:     domain.InterventionOpen,
}

var resolvedNormalIntervention = domain.InterventionItem{
	Base:       domain.Base{ID: "intervention-resolved-1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	EntityType: "sheet",
	EntityID:   "sheet-2",
	SheetID:    "sheet-2",
	ReasonKind: "low_quality",
	Priority:   domain.PriorityNormal,
	Status:     domain.InterventionResolved,
}
