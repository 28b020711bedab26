package classifier

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Model exposes the subset of an inference session used by the comparison flow.
type Model interface {
	Name() string
	Classes() []string
	InputSize() int
	Predict(ctx context.Context, input []float32) ([]float32, error)
}

// FormatPrediction turns a raw output vector into a Prediction: argmax class,
// confidence as a percentage, and the full class distribution. Confidence and
// probabilities are rounded to two decimals.
func FormatPrediction(classes []string, output []float32, elapsed time.Duration) (Prediction, error) {
	if len(output) == 0 {
		return Prediction{}, fmt.Errorf("model returned empty output")
	}
	if len(output) < len(classes) {
		return Prediction{}, fmt.Errorf("model returned %d probabilities for %d classes", len(output), len(classes))
	}

	maxIdx := 0
	maxVal := output[0]
	probabilities := make(map[string]float64, len(classes))
	for i, class := range classes {
		val := output[i]
		probabilities[class] = round2(float64(val) * 100)
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	return Prediction{
		Prediction:         classes[maxIdx],
		Confidence:         round2(float64(maxVal) * 100),
		InferenceTimeMs:    round2(elapsed.Seconds() * 1000),
		ClassProbabilities: probabilities,
	}, nil
}

// Agree reports whether two predictions picked the same class.
func Agree(a, b Prediction) bool {
	return a.Prediction == b.Prediction
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
