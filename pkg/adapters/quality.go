package adapters

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/metrics"
)

// HTTPQualityAssessor calls a remote assess_quality endpoint.
type HTTPQualityAssessor struct{ c *client }

func NewHTTPQualityAssessor(baseURL string, cfg config.AdapterConfig, log *zap.Logger) *HTTPQualityAssessor {
	return &HTTPQualityAssessor{c: newClient("assess_quality", baseURL, cfg, log)}
}

// WithMetrics attaches latency instrumentation and returns the receiver.
func (a *HTTPQualityAssessor) WithMetrics(m *metrics.Metrics) *HTTPQualityAssessor {
	a.c.withMetrics(m)
	return a
}

type qualityRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type qualityResponse struct {
	Score    float64 `json:"score"`
	Decision string  `json:"decision"`
	Damage   []struct {
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
	} `json:"damage"`
}

func (a *HTTPQualityAssessor) AssessQuality(ctx context.Context, imageBytes []byte) (QualityResult, error) {
	var resp qualityResponse
	req := qualityRequest{ImageBase64: base64.StdEncoding.EncodeToString(imageBytes)}
	if err := a.c.do(ctx, "/assess_quality", req, &resp); err != nil {
		return QualityResult{}, err
	}

	damage := make([]DamageKind, 0, len(resp.Damage))
	for _, d := range resp.Damage {
		damage = append(damage, DamageKind{Kind: d.Kind, Severity: d.Severity})
	}
	return QualityResult{Score: resp.Score, Decision: resp.Decision, Damage: damage}, nil
}

var _ QualityAssessor = (*HTTPQualityAssessor)(nil)
