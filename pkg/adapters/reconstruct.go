package adapters

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/metrics"
)

// HTTPReconstructor calls a remote reconstruct endpoint.
type HTTPReconstructor struct{ c *client }

func NewHTTPReconstructor(baseURL string, cfg config.AdapterConfig, log *zap.Logger) *HTTPReconstructor {
	return &HTTPReconstructor{c: newClient("reconstruct", baseURL, cfg, log)}
}

// WithMetrics attaches latency instrumentation and returns the receiver.
func (a *HTTPReconstructor) WithMetrics(m *metrics.Metrics) *HTTPReconstructor {
	a.c.withMetrics(m)
	return a
}

type reconstructRequest struct {
	ImageBase64  string `json:"image_base64"`
	ExpectedRows int    `json:"expected_rows"`
	ExpectedCols int    `json:"expected_cols"`
}

type reconstructResponse struct {
	ImageBase64 string  `json:"image_base64"`
	Confidence  float64 `json:"confidence"`
}

func (a *HTTPReconstructor) Reconstruct(ctx context.Context, imageBytes []byte, expectedRows, expectedCols int) (ReconstructResult, error) {
	var resp reconstructResponse
	req := reconstructRequest{
		ImageBase64:  base64.StdEncoding.EncodeToString(imageBytes),
		ExpectedRows: expectedRows,
		ExpectedCols: expectedCols,
	}
	if err := a.c.do(ctx, "/reconstruct", req, &resp); err != nil {
		return ReconstructResult{}, err
	}

	decoded, err := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if err != nil {
		return ReconstructResult{}, &Error{Adapter: "reconstruct", Kind: FailurePermanent, Cause: err}
	}
	return ReconstructResult{ImageBytes: decoded, Confidence: resp.Confidence}, nil
}

var _ Reconstructor = (*HTTPReconstructor)(nil)
