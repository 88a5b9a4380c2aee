package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
)

// Activation names accepted in a weights file.
const (
	ActivationReLU    = "relu"
	ActivationSoftmax = "softmax"
	ActivationLinear  = "linear"
)

// Layer is one dense layer. Weights are indexed [input][output], the
// layout Keras exports for Dense and kernel-size-1 Conv1D kernels.
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

func (l Layer) inputs() int  { return len(l.Weights) }
func (l Layer) outputs() int { return len(l.Bias) }

// MLP evaluates exported dense weights for the per-sample 6-feature model.
type MLP struct {
	Layers []Layer `json:"layers"`
}

// LoadMLP reads and validates a weights file.
func LoadMLP(path string) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	defer f.Close()

	var m MLP
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode weights %s: %w", path, err)
	}
	if err := m.check(); err != nil {
		return nil, fmt.Errorf("weights %s: %w", path, err)
	}
	return &m, nil
}

func (m *MLP) check() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("no layers")
	}
	in := 6
	for i, l := range m.Layers {
		if l.inputs() != in {
			return fmt.Errorf("layer %d: %d inputs, want %d", i, l.inputs(), in)
		}
		for j, row := range l.Weights {
			if len(row) != l.outputs() {
				return fmt.Errorf("layer %d: weight row %d has %d columns, bias has %d", i, j, len(row), l.outputs())
			}
		}
		switch l.Activation {
		case ActivationReLU, ActivationSoftmax, ActivationLinear, "":
		default:
			return fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		if l.Activation == ActivationSoftmax && i != len(m.Layers)-1 {
			return fmt.Errorf("layer %d: softmax only allowed on the output layer", i)
		}
		in = l.outputs()
	}
	if in != 3 {
		return fmt.Errorf("output layer has %d units, want 3", in)
	}
	return nil
}

// Classify runs the forward pass. The output layer is always normalised
// with softmax so the result is a distribution.
func (m *MLP) Classify(ctx context.Context, r imu.Reading) (detector.Prediction, error) {
	if m == nil || len(m.Layers) == 0 {
		return detector.Prediction{}, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return detector.Prediction{}, err
	}

	f := r.Features()
	x := f[:]
	for _, l := range m.Layers {
		x = l.forward(x)
	}
	if m.Layers[len(m.Layers)-1].Activation != ActivationSoftmax {
		softmax(x)
	}
	return fromVector(x)
}

func (l Layer) forward(in []float64) []float64 {
	out := make([]float64, l.outputs())
	copy(out, l.Bias)
	for i, v := range in {
		if v == 0 {
			continue
		}
		for j, w := range l.Weights[i] {
			out[j] += v * w
		}
	}
	switch l.Activation {
	case ActivationReLU:
		for j, v := range out {
			if v < 0 {
				out[j] = 0
			}
		}
	case ActivationSoftmax:
		softmax(out)
	}
	return out
}

// softmax normalises v in place, shifting by the max for stability.
func softmax(v []float64) {
	max := math.Inf(-1)
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - max)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
