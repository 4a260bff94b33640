// Package adapters implements the four external-service adapters (C3):
// synchronous request/response calls over a remote HTTP service for
// quality assessment, reconstruction, answer-key verification, and
// question solving. Every production adapter layers the same uniform
// contract — rate limit, circuit breaker, retry, timeout — grounded on
// the corpus's per-channel circuit-breaker-manager pattern
// (test/integration/notification/suite_test.go).
package adapters

import (
	"context"
)

// FailureKind classifies why an adapter call did not produce a result,
// per spec.md §4.3's uniform contract.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureTimeout   FailureKind = "timeout"
)

// Error wraps an adapter failure with its classification, so callers
// can decide whether to retry without string-matching.
type Error struct {
	Adapter string
	Kind    FailureKind
	Cause   error
}

func (e *Error) Error() string {
	return e.Adapter + ": " + string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// DamageKind mirrors domain.DamageKind without importing pkg/domain,
// keeping this package's wire contract independent of the persistence
// model (the orchestrator maps between the two).
type DamageKind struct {
	Kind     string
	Severity string
}

// QualityAssessor is assess_quality: image-bytes in, a quality score
// plus damage list plus proceed/reconstruct/reject/human_review
// decision out.
type QualityAssessor interface {
	AssessQuality(ctx context.Context, imageBytes []byte) (QualityResult, error)
}

type QualityResult struct {
	Score    float64
	Damage   []DamageKind
	Decision string // "proceed" | "reconstruct" | "reject" | "human_review"
}

// Reconstructor is reconstruct: damaged image-bytes plus the expected
// bubble grid shape in, a reconstructed image plus confidence out.
type Reconstructor interface {
	Reconstruct(ctx context.Context, imageBytes []byte, expectedRows, expectedCols int) (ReconstructResult, error)
}

type ReconstructResult struct {
	ImageBytes []byte
	Confidence float64
}

// KeyVerifier is verify_answer_key: question text and a proposed
// answer in, an agreement boolean plus confidence plus notes out.
type KeyVerifier interface {
	VerifyAnswerKey(ctx context.Context, questionText, proposedAnswer string) (VerifyResult, error)
}

type VerifyResult struct {
	Agrees     bool
	Confidence float64
	Notes      string
}

// QuestionSolver is solve_question: question text and subject in, a
// solved answer plus confidence plus explanation out.
type QuestionSolver interface {
	SolveQuestion(ctx context.Context, questionText, subject string) (SolveResult, error)
}

type SolveResult struct {
	Answer      string
	Confidence  float64
	Explanation string
}
