package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes an exported model: tensor shapes, class names, and the
// square input size its preprocessing expects.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Initialize sets up the shared onnxruntime environment. Call once before
// loading any model.
func Initialize() error {
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// Destroy tears down the shared onnxruntime environment.
func Destroy() {
	ort.DestroyEnvironment()
}

// Model wraps an onnxruntime session with pre-allocated tensors. The tensors
// are reused across calls, so Run is serialized with a mutex.
type Model struct {
	name         string
	metadata     Metadata
	inputLen     int
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// LoadMetadata reads and validates the metadata JSON next to a model file.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if len(metadata.InputShape) == 0 || len(metadata.OutputShape) == 0 {
		return Metadata{}, fmt.Errorf("metadata %s missing tensor shapes", path)
	}
	if len(metadata.Classes) == 0 {
		return Metadata{}, fmt.Errorf("metadata %s lists no classes", path)
	}
	if metadata.ImageSize <= 0 {
		return Metadata{}, fmt.Errorf("metadata %s has invalid image_size %d", path, metadata.ImageSize)
	}
	return metadata, nil
}

// LoadModel creates a session for one exported model.
func LoadModel(name, modelPath, metadataPath string) (*Model, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", name, err)
	}

	return &Model{
		name:         name,
		metadata:     metadata,
		inputLen:     len(inputTensor.GetData()),
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Name returns the model identifier used in logs and responses.
func (m *Model) Name() string {
	return m.name
}

// Classes returns the class labels in training order.
func (m *Model) Classes() []string {
	return m.metadata.Classes
}

// InputSize returns the square image size the model expects.
func (m *Model) InputSize() int {
	return m.metadata.ImageSize
}

// Predict runs one inference over a preprocessed input buffer and returns a
// copy of the raw output vector.
func (m *Model) Predict(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) != m.inputLen {
		return nil, fmt.Errorf("model %s expects %d input values, got %d", m.name, m.inputLen, len(input))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputTensor.GetData(), input)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed for %s: %w", m.name, err)
	}

	output := make([]float32, len(m.outputTensor.GetData()))
	copy(output, m.outputTensor.GetData())
	return output, nil
}

// Close releases the session and its tensors.
func (m *Model) Close() {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
}
