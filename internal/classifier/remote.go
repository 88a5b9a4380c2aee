package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
)

type predictRequest struct {
	Instances [][6]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// Remote calls a model server exposing POST /v1/models/{name}:predict.
type Remote struct {
	client *resty.Client
	path   string
}

// NewRemote builds an adapter for the model name served at baseURL.
// Failed requests are returned to the caller as is, never retried.
func NewRemote(baseURL, name string, timeout time.Duration) *Remote {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	return &Remote{
		client: c,
		path:   fmt.Sprintf("/v1/models/%s:predict", name),
	}
}

// Classify posts the feature vector and validates the returned distribution.
func (rm *Remote) Classify(ctx context.Context, r imu.Reading) (detector.Prediction, error) {
	if rm == nil || rm.client == nil {
		return detector.Prediction{}, ErrNotLoaded
	}

	var out predictResponse
	resp, err := rm.client.R().
		SetContext(ctx).
		SetBody(predictRequest{Instances: [][6]float64{r.Features()}}).
		SetResult(&out).
		SetError(&out).
		Post(rm.path)
	if err != nil {
		return detector.Prediction{}, fmt.Errorf("model server: %w", err)
	}
	if resp.IsError() {
		if out.Error != "" {
			return detector.Prediction{}, fmt.Errorf("model server: %s: %s", resp.Status(), out.Error)
		}
		return detector.Prediction{}, fmt.Errorf("model server: %s", resp.Status())
	}
	if len(out.Predictions) != 1 {
		return detector.Prediction{}, fmt.Errorf("%w: %d predictions in reply", ErrInvalidPrediction, len(out.Predictions))
	}
	return fromVector(out.Predictions[0])
}
