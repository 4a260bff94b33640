package adapters

import (
	"context"

	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/metrics"
)

// HTTPKeyVerifier calls a remote verify_answer_key endpoint.
type HTTPKeyVerifier struct{ c *client }

func NewHTTPKeyVerifier(baseURL string, cfg config.AdapterConfig, log *zap.Logger) *HTTPKeyVerifier {
	return &HTTPKeyVerifier{c: newClient("verify_answer_key", baseURL, cfg, log)}
}

// WithMetrics attaches latency instrumentation and returns the receiver.
func (a *HTTPKeyVerifier) WithMetrics(m *metrics.Metrics) *HTTPKeyVerifier {
	a.c.withMetrics(m)
	return a
}

type verifyKeyRequest struct {
	QuestionText   string `json:"question_text"`
	ProposedAnswer string `json:"proposed_answer"`
}

type verifyKeyResponse struct {
	Agrees     bool    `json:"agrees"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

func (a *HTTPKeyVerifier) VerifyAnswerKey(ctx context.Context, questionText, proposedAnswer string) (VerifyResult, error) {
	var resp verifyKeyResponse
	req := verifyKeyRequest{QuestionText: questionText, ProposedAnswer: proposedAnswer}
	if err := a.c.do(ctx, "/verify_answer_key", req, &resp); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Agrees: resp.Agrees, Confidence: resp.Confidence, Notes: resp.Notes}, nil
}

var _ KeyVerifier = (*HTTPKeyVerifier)(nil)
