package adapters

import (
	"context"

	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/metrics"
)

// HTTPQuestionSolver calls a remote solve_question endpoint.
type HTTPQuestionSolver struct{ c *client }

func NewHTTPQuestionSolver(baseURL string, cfg config.AdapterConfig, log *zap.Logger) *HTTPQuestionSolver {
	return &HTTPQuestionSolver{c: newClient("solve_question", baseURL, cfg, log)}
}

// WithMetrics attaches latency instrumentation and returns the receiver.
func (a *HTTPQuestionSolver) WithMetrics(m *metrics.Metrics) *HTTPQuestionSolver {
	a.c.withMetrics(m)
	return a
}

type solveRequest struct {
	QuestionText string `json:"question_text"`
	Subject      string `json:"subject"`
}

type solveResponse struct {
	Answer      string  `json:"answer"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

func (a *HTTPQuestionSolver) SolveQuestion(ctx context.Context, questionText, subject string) (SolveResult, error) {
	var resp solveResponse
	req := solveRequest{QuestionText: questionText, Subject: subject}
	if err := a.c.do(ctx, "/solve_question", req, &resp); err != nil {
		return SolveResult{}, err
	}
	return SolveResult{Answer: resp.Answer, Confidence: resp.Confidence, Explanation: resp.Explanation}, nil
}

var _ QuestionSolver = (*HTTPQuestionSolver)(nil)
