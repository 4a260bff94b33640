package adapters

import (
	"context"
	"errors"
)

// FakeQualityAssessor is a scripted in-memory QualityAssessor for tests
// that don't want a real HTTP round trip. Calls records every
// invocation so a test can assert retry/call counts.
type FakeQualityAssessor struct {
	Result QualityResult
	Err    error
	Calls  int
}

func (f *FakeQualityAssessor) AssessQuality(ctx context.Context, imageBytes []byte) (QualityResult, error) {
	f.Calls++
	if f.Err != nil {
		return QualityResult{}, f.Err
	}
	return f.Result, nil
}

// FakeReconstructor is a scripted in-memory Reconstructor.
type FakeReconstructor struct {
	Result ReconstructResult
	Err    error
	Calls  int
}

func (f *FakeReconstructor) Reconstruct(ctx context.Context, imageBytes []byte, rows, cols int) (ReconstructResult, error) {
	f.Calls++
	if f.Err != nil {
		return ReconstructResult{}, f.Err
	}
	return f.Result, nil
}

// FakeKeyVerifier is a scripted in-memory KeyVerifier.
type FakeKeyVerifier struct {
	Result VerifyResult
	Err    error
	Calls  int
}

func (f *FakeKeyVerifier) VerifyAnswerKey(ctx context.Context, questionText, proposedAnswer string) (VerifyResult, error) {
	f.Calls++
	if f.Err != nil {
		return VerifyResult{}, f.Err
	}
	return f.Result, nil
}

// FakeQuestionSolver is a scripted in-memory QuestionSolver.
type FakeQuestionSolver struct {
	Result SolveResult
	Err    error
	Calls  int
}

func (f *FakeQuestionSolver) SolveQuestion(ctx context.Context, questionText, subject string) (SolveResult, error) {
	f.Calls++
	if f.Err != nil {
		return SolveResult{}, f.Err
	}
	return f.Result, nil
}

// ErrFakeUnavailable is a convenience Transient error for fakes that
// need to simulate an unreachable dependency.
var ErrFakeUnavailable = &Error{Adapter: "fake", Kind: FailureTransient, Cause: errors.New("simulated unavailability")}

var (
	_ QualityAssessor = (*FakeQualityAssessor)(nil)
	_ Reconstructor   = (*FakeReconstructor)(nil)
	_ KeyVerifier     = (*FakeKeyVerifier)(nil)
	_ QuestionSolver  = (*FakeQuestionSolver)(nil)
)
