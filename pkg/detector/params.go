package detector

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parameters is the on-disk weights document for the scorer, produced by
// the offline training pipeline.
type Parameters struct {
	ConvKernel [][][]float64 `json:"conv_kernel"`
	ConvBias   []float64     `json:"conv_bias"`

	AttentionFCWeight [][]float64 `json:"attention_fc_weight"`
	AttentionFCBias   []float64   `json:"attention_fc_bias"`
	AttentionVector   []float64   `json:"attention_vector"`

	GRU []GRUParameters `json:"gru"`

	HeadHiddenWeight [][]float64 `json:"head_hidden_weight"`
	HeadHiddenBias   []float64   `json:"head_hidden_bias"`
	HeadOutWeight    [][]float64 `json:"head_out_weight"`
	HeadOutBias      []float64   `json:"head_out_bias"`
}

// GRUParameters carries one recurrent layer's gate weights in reset,
// update, candidate order.
type GRUParameters struct {
	InputWeight  [][]float64 `json:"input_weight"`
	HiddenWeight [][]float64 `json:"hidden_weight"`
	InputBias    []float64   `json:"input_bias"`
	HiddenBias   []float64   `json:"hidden_bias"`
}

// LoadParameters reads a weights document from disk.
func LoadParameters(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	var p Parameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	return &p, nil
}

// ApplyParameters swaps in trained weights after validating every shape
// against the model's configuration.
func (m *Model) ApplyParameters(p *Parameters) error {
	nf := m.cfg.NumFeatures
	ws := m.cfg.WindowSize
	hs := m.cfg.HiddenSize
	k := m.cfg.KernelSize

	if len(p.ConvKernel) != nf {
		return shapeError("conv_kernel", len(p.ConvKernel), nf)
	}
	for _, plane := range p.ConvKernel {
		if len(plane) != nf {
			return shapeError("conv_kernel plane", len(plane), nf)
		}
		for _, row := range plane {
			if len(row) != k {
				return shapeError("conv_kernel row", len(row), k)
			}
		}
	}
	if len(p.ConvBias) != nf {
		return shapeError("conv_bias", len(p.ConvBias), nf)
	}

	if err := checkMatrix(p.AttentionFCWeight, ws, ws, "attention_fc_weight"); err != nil {
		return err
	}
	if len(p.AttentionFCBias) != ws {
		return shapeError("attention_fc_bias", len(p.AttentionFCBias), ws)
	}
	if len(p.AttentionVector) != 2*ws {
		return shapeError("attention_vector", len(p.AttentionVector), 2*ws)
	}

	if len(p.GRU) != m.cfg.NumLayers {
		return shapeError("gru layers", len(p.GRU), m.cfg.NumLayers)
	}
	for i, layer := range p.GRU {
		in := hs
		if i == 0 {
			in = nf
		}
		name := fmt.Sprintf("gru[%d]", i)
		if err := checkMatrix(layer.InputWeight, 3*hs, in, name+".input_weight"); err != nil {
			return err
		}
		if err := checkMatrix(layer.HiddenWeight, 3*hs, hs, name+".hidden_weight"); err != nil {
			return err
		}
		if len(layer.InputBias) != 3*hs {
			return shapeError(name+".input_bias", len(layer.InputBias), 3*hs)
		}
		if len(layer.HiddenBias) != 3*hs {
			return shapeError(name+".hidden_bias", len(layer.HiddenBias), 3*hs)
		}
	}

	if err := checkMatrix(p.HeadHiddenWeight, 32, hs, "head_hidden_weight"); err != nil {
		return err
	}
	if len(p.HeadHiddenBias) != 32 {
		return shapeError("head_hidden_bias", len(p.HeadHiddenBias), 32)
	}
	if err := checkMatrix(p.HeadOutWeight, 1, 32, "head_out_weight"); err != nil {
		return err
	}
	if len(p.HeadOutBias) != 1 {
		return shapeError("head_out_bias", len(p.HeadOutBias), 1)
	}

	m.conv.kernel = p.ConvKernel
	m.conv.bias = p.ConvBias
	m.attention.fcWeight = p.AttentionFCWeight
	m.attention.fcBias = p.AttentionFCBias
	m.attention.attn = p.AttentionVector
	for i, layer := range p.GRU {
		m.gru[i].wih = layer.InputWeight
		m.gru[i].whh = layer.HiddenWeight
		m.gru[i].bih = layer.InputBias
		m.gru[i].bhh = layer.HiddenBias
	}
	m.fc1.weight = p.HeadHiddenWeight
	m.fc1.bias = p.HeadHiddenBias
	m.fc2.weight = p.HeadOutWeight
	m.fc2.bias = p.HeadOutBias
	return nil
}

// LoadWeights reads and applies a weights document. An error leaves the
// model's current parameters untouched, so the caller can log and continue
// with the seeded initialization.
func (m *Model) LoadWeights(path string) error {
	p, err := LoadParameters(path)
	if err != nil {
		return err
	}
	return m.ApplyParameters(p)
}

// Export snapshots the current weights in the on-disk document format.
func (m *Model) Export() *Parameters {
	p := &Parameters{
		ConvKernel:        m.conv.kernel,
		ConvBias:          m.conv.bias,
		AttentionFCWeight: m.attention.fcWeight,
		AttentionFCBias:   m.attention.fcBias,
		AttentionVector:   m.attention.attn,
		HeadHiddenWeight:  m.fc1.weight,
		HeadHiddenBias:    m.fc1.bias,
		HeadOutWeight:     m.fc2.weight,
		HeadOutBias:       m.fc2.bias,
	}
	for _, layer := range m.gru {
		p.GRU = append(p.GRU, GRUParameters{
			InputWeight:  layer.wih,
			HiddenWeight: layer.whh,
			InputBias:    layer.bih,
			HiddenBias:   layer.bhh,
		})
	}
	return p
}

func checkMatrix(m [][]float64, rows, cols int, name string) error {
	if len(m) != rows {
		return shapeError(name, len(m), rows)
	}
	for _, row := range m {
		if len(row) != cols {
			return shapeError(name+" row", len(row), cols)
		}
	}
	return nil
}

func shapeError(name string, got, want int) error {
	return fmt.Errorf("weights shape mismatch: %s has %d, expected %d", name, got, want)
}
