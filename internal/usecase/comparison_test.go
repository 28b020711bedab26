package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/preprocess"
)

var testClasses = []string{"Early Blight", "Late Blight", "Healthy"}

type stubModel struct {
	name   string
	output []float32
	err    error
	calls  int
}

func (s *stubModel) Name() string      { return s.name }
func (s *stubModel) Classes() []string { return testClasses }
func (s *stubModel) InputSize() int    { return 64 }

func (s *stubModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func testImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 80, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestUseCase(cache Cache, cnn, mobile classifier.Model) *ComparisonUseCase {
	return NewComparisonUseCase(cache, cnn, mobile, 5*time.Minute, preprocess.DefaultBounds(), zap.NewNop())
}

func TestCompareReportsAgreement(t *testing.T) {
	cache := &stubCache{}
	cnn := &stubModel{name: "custom_cnn", output: []float32{0.1, 0.8, 0.1}}
	mobile := &stubModel{name: "mobilenet", output: []float32{0.2, 0.7, 0.1}}
	uc := newTestUseCase(cache, cnn, mobile)

	comparison, cached, err := uc.Compare(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cached {
		t.Fatal("expected fresh result, got cached")
	}
	if comparison.CustomCNN.Prediction != "Late Blight" || comparison.MobileNet.Prediction != "Late Blight" {
		t.Fatalf("unexpected predictions: %s vs %s", comparison.CustomCNN.Prediction, comparison.MobileNet.Prediction)
	}
	if !comparison.Agreement {
		t.Fatal("expected agreement for matching labels")
	}
	if comparison.RequestID == "" {
		t.Fatal("expected request id to be set")
	}
	if len(cache.setKeys) != 2 {
		t.Fatalf("expected 2 cache writes, got %d", len(cache.setKeys))
	}
	if !strings.HasPrefix(cache.setKeys[0], "comparison:") || !strings.HasPrefix(cache.setKeys[1], "comparison:image:") {
		t.Fatalf("unexpected cache keys: %v", cache.setKeys)
	}
}

func TestCompareReportsDisagreement(t *testing.T) {
	cache := &stubCache{}
	cnn := &stubModel{name: "custom_cnn", output: []float32{0.9, 0.05, 0.05}}
	mobile := &stubModel{name: "mobilenet", output: []float32{0.1, 0.1, 0.8}}
	uc := newTestUseCase(cache, cnn, mobile)

	comparison, _, err := uc.Compare(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if comparison.Agreement {
		t.Fatal("expected disagreement for different labels")
	}
	if comparison.CustomCNN.Prediction != "Early Blight" || comparison.MobileNet.Prediction != "Healthy" {
		t.Fatalf("unexpected predictions: %s vs %s", comparison.CustomCNN.Prediction, comparison.MobileNet.Prediction)
	}
}

func TestCompareAnswersRepeatUploadFromCache(t *testing.T) {
	previous := &classifier.Comparison{
		RequestID: "req-earlier",
		CustomCNN: classifier.Prediction{Prediction: "Healthy"},
		MobileNet: classifier.Prediction{Prediction: "Healthy"},
		Agreement: true,
	}
	serialized, err := json.Marshal(previous)
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}

	cache := &stubCache{getValues: []string{string(serialized)}}
	cnn := &stubModel{name: "custom_cnn", output: []float32{1, 0, 0}}
	mobile := &stubModel{name: "mobilenet", output: []float32{1, 0, 0}}
	uc := newTestUseCase(cache, cnn, mobile)

	comparison, cached, err := uc.Compare(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !cached {
		t.Fatal("expected cached result")
	}
	if comparison.RequestID != "req-earlier" {
		t.Fatalf("expected cached request id, got %s", comparison.RequestID)
	}
	if cnn.calls != 0 || mobile.calls != 0 {
		t.Fatalf("expected no inference calls, got %d and %d", cnn.calls, mobile.calls)
	}
}

func TestCompareRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	cnn := &stubModel{name: "custom_cnn", output: []float32{0.1, 0.8, 0.1}}
	mobile := &stubModel{name: "mobilenet", output: []float32{0.1, 0.8, 0.1}}
	uc := newTestUseCase(cache, cnn, mobile)
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond

	_, cached, err := uc.Compare(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cached {
		t.Fatal("expected fresh result")
	}
	if len(cache.setKeys) != 3 {
		t.Fatalf("expected 3 cache set calls (retry + both keys), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestCompareReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	cnn := &stubModel{name: "custom_cnn", output: []float32{0.1, 0.8, 0.1}}
	mobile := &stubModel{name: "mobilenet", output: []float32{0.1, 0.8, 0.1}}
	uc := newTestUseCase(cache, cnn, mobile)

	_, _, err := uc.Compare(context.Background(), testImage(t))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.result" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestCompareRejectsCorruptImage(t *testing.T) {
	cache := &stubCache{}
	cnn := &stubModel{name: "custom_cnn", output: []float32{1, 0, 0}}
	mobile := &stubModel{name: "mobilenet", output: []float32{1, 0, 0}}
	uc := newTestUseCase(cache, cnn, mobile)

	_, _, err := uc.Compare(context.Background(), []byte("not an image"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "usecase.decode_image" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if cnn.calls != 0 || mobile.calls != 0 {
		t.Fatalf("expected no inference calls, got %d and %d", cnn.calls, mobile.calls)
	}
}

func TestCompareSurfacesInferenceError(t *testing.T) {
	cache := &stubCache{}
	cnn := &stubModel{name: "custom_cnn", err: errors.New("session exploded")}
	mobile := &stubModel{name: "mobilenet", output: []float32{1, 0, 0}}
	uc := newTestUseCase(cache, cnn, mobile)

	_, _, err := uc.Compare(context.Background(), testImage(t))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "usecase.predict.custom_cnn" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if mobile.calls != 0 {
		t.Fatalf("expected mobilenet to be skipped, got %d calls", mobile.calls)
	}
}

func TestCompareHonorsConfiguredDimensionBounds(t *testing.T) {
	cache := &stubCache{}
	cnn := &stubModel{name: "custom_cnn", output: []float32{1, 0, 0}}
	mobile := &stubModel{name: "mobilenet", output: []float32{1, 0, 0}}
	uc := NewComparisonUseCase(cache, cnn, mobile, 5*time.Minute,
		preprocess.Bounds{MinDimension: 10, MaxDimension: 60}, zap.NewNop())

	_, _, err := uc.Compare(context.Background(), testImage(t))
	if err == nil {
		t.Fatal("expected error for image above configured maximum, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "usecase.decode_image" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if cnn.calls != 0 || mobile.calls != 0 {
		t.Fatalf("expected no inference calls, got %d and %d", cnn.calls, mobile.calls)
	}
}

func TestGetResultNotFound(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	uc := newTestUseCase(cache, &stubModel{name: "custom_cnn"}, &stubModel{name: "mobilenet"})

	_, err := uc.GetResult(context.Background(), "missing")
	if !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestGetResultNotFoundWithSingleAttempt(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	uc := newTestUseCase(cache, &stubModel{name: "custom_cnn"}, &stubModel{name: "mobilenet"})
	uc.retryAttempts = 1

	_, err := uc.GetResult(context.Background(), "missing")
	if !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
	if len(cache.getKeys) != 1 {
		t.Fatalf("expected a single cache read, got %d", len(cache.getKeys))
	}
}

func TestGetResultReturnsCachedComparison(t *testing.T) {
	expected := &classifier.Comparison{
		RequestID: "req-1",
		CustomCNN: classifier.Prediction{Prediction: "Early Blight", Confidence: 91.5},
		MobileNet: classifier.Prediction{Prediction: "Early Blight", Confidence: 88.2},
		Agreement: true,
	}
	serialized, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}
	cache := &stubCache{getValues: []string{string(serialized)}}
	uc := newTestUseCase(cache, &stubModel{name: "custom_cnn"}, &stubModel{name: "mobilenet"})

	comparison, err := uc.GetResult(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if comparison.RequestID != "req-1" || !comparison.Agreement {
		t.Fatalf("unexpected comparison: %+v", comparison)
	}
	if comparison.CustomCNN.Confidence != 91.5 {
		t.Fatalf("unexpected confidence: %f", comparison.CustomCNN.Confidence)
	}
}

func TestMetricsSnapshotAggregates(t *testing.T) {
	cache := &stubCache{}
	agree := &stubModel{name: "custom_cnn", output: []float32{0.1, 0.8, 0.1}}
	agreeToo := &stubModel{name: "mobilenet", output: []float32{0.2, 0.7, 0.1}}
	uc := newTestUseCase(cache, agree, agreeToo)

	if _, _, err := uc.Compare(context.Background(), testImage(t)); err != nil {
		t.Fatalf("first compare failed: %v", err)
	}

	agreeToo.output = []float32{0.7, 0.2, 0.1}
	if _, _, err := uc.Compare(context.Background(), testImage(t)); err != nil {
		t.Fatalf("second compare failed: %v", err)
	}

	summary := uc.MetricsSnapshot()
	if summary.TotalRequests != 2 {
		t.Fatalf("expected 2 requests, got %d", summary.TotalRequests)
	}
	if summary.AgreedRequests != 1 {
		t.Fatalf("expected 1 agreed request, got %d", summary.AgreedRequests)
	}
	if summary.AgreementRate != 0.5 {
		t.Fatalf("expected agreement rate 0.5, got %f", summary.AgreementRate)
	}
}
