package classifier

import "time"

// Prediction is a single model's verdict for one uploaded image.
type Prediction struct {
	Prediction         string             `json:"prediction"`
	Confidence         float64            `json:"confidence"`
	InferenceTimeMs    float64            `json:"inference_time_ms"`
	ClassProbabilities map[string]float64 `json:"class_probabilities"`
}

// Comparison pairs both model verdicts for one upload.
type Comparison struct {
	RequestID string     `json:"request_id"`
	CustomCNN Prediction `json:"custom_cnn"`
	MobileNet Prediction `json:"mobilenet"`
	Agreement bool       `json:"agreement"`
	CreatedAt time.Time  `json:"created_at"`
}
