// Package detector scores windows of package telemetry features with a
// fixed-parameter sequence model: per-channel convolution for local shape,
// cross-feature attention for correlation breaks, and a gated recurrent
// encoder for drift across the window.
package detector

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg-warden/warden/pkg/features"
)

// ModelConfig fixes the scorer's dimensions. Parameters are loaded from a
// weights document or initialized deterministically from Seed.
type ModelConfig struct {
	NumFeatures int
	WindowSize  int
	KernelSize  int
	HiddenSize  int
	NumLayers   int
	Alpha       float64
	Seed        int64
}

// DefaultModelConfig mirrors the trained model's dimensions: kernel 7,
// hidden size 64, two recurrent layers, leaky slope 0.2.
func DefaultModelConfig(numFeatures, windowSize int) ModelConfig {
	return ModelConfig{
		NumFeatures: numFeatures,
		WindowSize:  windowSize,
		KernelSize:  7,
		HiddenSize:  64,
		NumLayers:   2,
		Alpha:       0.2,
		Seed:        42,
	}
}

type convLayer struct {
	kernel  [][][]float64 // out channel x in channel x kernel
	bias    []float64
	padding int
}

type featureAttention struct {
	fcWeight [][]float64 // windowSize x windowSize
	fcBias   []float64
	attn     []float64 // 2*windowSize
	alpha    float64
}

type gruLayer struct {
	wih    [][]float64 // 3H x input
	whh    [][]float64 // 3H x H
	bih    []float64
	bhh    []float64
	hidden int
}

type denseLayer struct {
	weight [][]float64 // out x in
	bias   []float64
}

// Model is the anomaly scorer. All inference is single-threaded and
// deterministic; dropout exists only in training and is identity here.
type Model struct {
	cfg       ModelConfig
	conv      *convLayer
	attention *featureAttention
	gru       []*gruLayer
	fc1       *denseLayer
	fc2       *denseLayer
}

// NewModel builds a model with deterministic seeded parameters. Callers
// normally replace them via ApplyParameters with trained weights.
func NewModel(cfg ModelConfig) *Model {
	if cfg.KernelSize <= 0 {
		cfg.KernelSize = 7
	}
	if cfg.KernelSize%2 == 0 {
		cfg.KernelSize++
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = 64
	}
	if cfg.NumLayers <= 0 {
		cfg.NumLayers = 2
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.2
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	m := &Model{
		cfg: cfg,
		conv: &convLayer{
			kernel:  randomTensor(rng, cfg.NumFeatures, cfg.NumFeatures, cfg.KernelSize),
			bias:    zeros(cfg.NumFeatures),
			padding: (cfg.KernelSize - 1) / 2,
		},
		attention: &featureAttention{
			fcWeight: randomMatrix(rng, cfg.WindowSize, cfg.WindowSize),
			fcBias:   zeros(cfg.WindowSize),
			attn:     randomVector(rng, 2*cfg.WindowSize),
			alpha:    cfg.Alpha,
		},
		fc1: &denseLayer{
			weight: randomMatrix(rng, 32, cfg.HiddenSize),
			bias:   zeros(32),
		},
		fc2: &denseLayer{
			weight: randomMatrix(rng, 1, 32),
			bias:   zeros(1),
		},
	}

	for layer := 0; layer < cfg.NumLayers; layer++ {
		in := cfg.HiddenSize
		if layer == 0 {
			in = cfg.NumFeatures
		}
		m.gru = append(m.gru, &gruLayer{
			wih:    randomMatrix(rng, 3*cfg.HiddenSize, in),
			whh:    randomMatrix(rng, 3*cfg.HiddenSize, cfg.HiddenSize),
			bih:    zeros(3 * cfg.HiddenSize),
			bhh:    zeros(3 * cfg.HiddenSize),
			hidden: cfg.HiddenSize,
		})
	}

	return m
}

// Score maps one full window to an anomaly score in (0,1). The window must
// be exactly window_size rows of num_features values.
func (m *Model) Score(win features.Window) (float64, error) {
	if len(win) != m.cfg.WindowSize {
		return 0, fmt.Errorf("window has %d rows, model expects %d", len(win), m.cfg.WindowSize)
	}
	for i, row := range win {
		if len(row) != m.cfg.NumFeatures {
			return 0, fmt.Errorf("window row %d has %d features, model expects %d", i, len(row), m.cfg.NumFeatures)
		}
	}

	x := m.conv.forward(win)
	x = m.attention.forward(x)
	hidden := m.forwardGRU(x)

	out := matVecAdd(m.fc1.weight, hidden, m.fc1.bias)
	for i := range out {
		out[i] = relu(out[i])
	}
	out = matVecAdd(m.fc2.weight, out, m.fc2.bias)
	return sigmoid(out[0]), nil
}

// forward smooths each feature channel with a same-length 1-D convolution
// across all input channels, then rectifies.
func (c *convLayer) forward(x [][]float64) [][]float64 {
	window := len(x)
	nf := len(x[0])
	k := len(c.kernel[0][0])

	// Channel-major series with symmetric zero padding.
	series := make([][]float64, nf)
	for i := 0; i < nf; i++ {
		series[i] = make([]float64, window+2*c.padding)
		for t := 0; t < window; t++ {
			series[i][t+c.padding] = x[t][i]
		}
	}

	out := make([][]float64, window)
	for t := range out {
		out[t] = make([]float64, nf)
	}
	for o := 0; o < nf; o++ {
		for t := 0; t < window; t++ {
			sum := c.bias[o]
			for i := 0; i < nf; i++ {
				kern := c.kernel[o][i]
				s := series[i]
				for kk := 0; kk < k; kk++ {
					sum += kern[kk] * s[t+kk]
				}
			}
			out[t][o] = relu(sum)
		}
	}
	return out
}

// forward computes an attention weight for every ordered channel pair from
// the channel's series and a learned projection of the target channel, then
// mixes the smoothed series across channels and squashes into (0,1).
func (a *featureAttention) forward(x [][]float64) [][]float64 {
	window := len(x)
	nf := len(x[0])

	ch := transpose(x) // nf x window

	proj := make([][]float64, nf)
	for j := 0; j < nf; j++ {
		proj[j] = matVecAdd(a.fcWeight, ch[j], a.fcBias)
	}

	// Precompute the two halves of the logit dot product per channel.
	srcPart := make([]float64, nf)
	dstPart := make([]float64, nf)
	for i := 0; i < nf; i++ {
		for t := 0; t < window; t++ {
			srcPart[i] += a.attn[t] * ch[i][t]
			dstPart[i] += a.attn[window+t] * proj[i][t]
		}
	}

	attention := make([][]float64, nf)
	for i := 0; i < nf; i++ {
		attention[i] = make([]float64, nf)
		for j := 0; j < nf; j++ {
			attention[i][j] = leakyReLU(srcPart[i]+dstPart[j], a.alpha)
		}
		softmaxInPlace(attention[i])
	}

	out := make([][]float64, window)
	for t := 0; t < window; t++ {
		out[t] = make([]float64, nf)
	}
	for i := 0; i < nf; i++ {
		for t := 0; t < window; t++ {
			sum := 0.0
			for j := 0; j < nf; j++ {
				sum += attention[i][j] * ch[j][t]
			}
			out[t][i] = sigmoid(sum)
		}
	}
	return out
}

// forwardGRU runs the stacked recurrent layers over the attended sequence
// and returns the top layer's final hidden state.
func (m *Model) forwardGRU(x [][]float64) []float64 {
	input := x
	var hidden []float64
	for _, layer := range m.gru {
		input, hidden = layer.forward(input)
	}
	return hidden
}

func (l *gruLayer) forward(inputs [][]float64) ([][]float64, []float64) {
	h := zeros(l.hidden)
	outputs := make([][]float64, len(inputs))
	for t, x := range inputs {
		gi := matVecAdd(l.wih, x, l.bih)
		gh := matVecAdd(l.whh, h, l.bhh)

		next := make([]float64, l.hidden)
		for u := 0; u < l.hidden; u++ {
			r := sigmoid(gi[u] + gh[u])
			z := sigmoid(gi[l.hidden+u] + gh[l.hidden+u])
			n := math.Tanh(gi[2*l.hidden+u] + r*gh[2*l.hidden+u])
			next[u] = (1-z)*n + z*h[u]
		}
		h = next
		outputs[t] = h
	}
	return outputs, h
}

// Math helpers.

func matVecAdd(m [][]float64, v []float64, bias []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		sum := bias[i]
		for j, w := range row {
			sum += w * v[j]
		}
		out[i] = sum
	}
	return out
}

func transpose(x [][]float64) [][]float64 {
	rows := len(x)
	cols := len(x[0])
	out := make([][]float64, cols)
	for c := 0; c < cols; c++ {
		out[c] = make([]float64, rows)
		for r := 0; r < rows; r++ {
			out[c][r] = x[r][c]
		}
	}
	return out
}

func softmaxInPlace(v []float64) {
	max := v[0]
	for _, x := range v[1:] {
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

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func leakyReLU(x, alpha float64) float64 {
	if x < 0 {
		return alpha * x
	}
	return x
}

func zeros(n int) []float64 {
	return make([]float64, n)
}

// randomMatrix draws from a symmetric uniform range scaled by fan-in and
// fan-out, matching the trained model's initialization scheme.
func randomMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = (rng.Float64()*2 - 1) * limit
		}
	}
	return m
}

func randomVector(rng *rand.Rand, n int) []float64 {
	limit := math.Sqrt(6.0 / float64(n+1))
	v := make([]float64, n)
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * limit
	}
	return v
}

func randomTensor(rng *rand.Rand, a, b, c int) [][][]float64 {
	limit := math.Sqrt(6.0 / float64(a*c+b*c))
	t := make([][][]float64, a)
	for i := range t {
		t[i] = make([][]float64, b)
		for j := range t[i] {
			t[i][j] = make([]float64, c)
			for k := range t[i][j] {
				t[i][j][k] = (rng.Float64()*2 - 1) * limit
			}
		}
	}
	return t
}
