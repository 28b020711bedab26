package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/preprocess"
)

// ErrResultNotFound is returned when a request id has no cached comparison.
var ErrResultNotFound = errors.New("result not found")

// ComparisonUseCase runs an upload through both models and caches the outcome.
type ComparisonUseCase struct {
	cache          Cache
	customCNN      classifier.Model
	mobileNet      classifier.Model
	logger         *zap.Logger
	metrics        *MetricsRecorder
	cacheTTL       time.Duration
	bounds         preprocess.Bounds
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewComparisonUseCase constructs a new use case instance.
func NewComparisonUseCase(cache Cache, customCNN, mobileNet classifier.Model, cacheTTL time.Duration, bounds preprocess.Bounds, logger *zap.Logger) *ComparisonUseCase {
	return &ComparisonUseCase{
		cache:          cache,
		customCNN:      customCNN,
		mobileNet:      mobileNet,
		logger:         logger.Named("comparison_usecase"),
		metrics:        NewMetricsRecorder(),
		cacheTTL:       cacheTTL,
		bounds:         bounds,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func resultKey(requestID string) string {
	return fmt.Sprintf("comparison:%s", requestID)
}

func imageKey(hash string) string {
	return fmt.Sprintf("comparison:image:%s", hash)
}

// Compare runs both models over the uploaded image. Identical bytes uploaded
// while the cache entry is alive are answered from the cache; the second
// return value reports whether that happened.
func (uc *ComparisonUseCase) Compare(ctx context.Context, imageBytes []byte) (*classifier.Comparison, bool, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare", requestID)

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])

	if cached := uc.lookupByImageHash(ctx, requestID, hashHex); cached != nil {
		opLogger.Info("answered from cache",
			zap.String("image_sha1", hashHex),
			zap.String("cached_request_id", cached.RequestID))
		uc.metrics.RecordCacheHit()
		return cached, true, nil
	}

	img, err := preprocess.Decode(imageBytes, uc.bounds)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", requestID, err)
		opLogger.Error("image decode failed", zap.Error(wrapped))
		return nil, false, wrapped
	}

	cnnPred, err := uc.runModel(ctx, uc.customCNN, preprocess.ForCustomCNN(img, uc.customCNN.InputSize()), requestID)
	if err != nil {
		opLogger.Error("custom cnn inference failed", zap.Error(err))
		return nil, false, err
	}

	mobilePred, err := uc.runModel(ctx, uc.mobileNet, preprocess.ForMobileNet(img, uc.mobileNet.InputSize()), requestID)
	if err != nil {
		opLogger.Error("mobilenet inference failed", zap.Error(err))
		return nil, false, err
	}

	comparison := &classifier.Comparison{
		RequestID: requestID,
		CustomCNN: cnnPred,
		MobileNet: mobilePred,
		Agreement: classifier.Agree(cnnPred, mobilePred),
		CreatedAt: time.Now().UTC(),
	}

	serialized, err := json.Marshal(comparison)
	if err != nil {
		opLogger.Error("failed to serialize comparison", zap.Error(err))
		return nil, false, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(requestID), string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache comparison", zap.Error(err))
		return nil, false, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.image_hash", func() error {
		return uc.cache.Set(ctx, imageKey(hashHex), string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache image hash entry", zap.Error(err))
		return nil, false, err
	}

	uc.metrics.Record(comparison)

	opLogger.Info("comparison complete",
		zap.String("custom_cnn", cnnPred.Prediction),
		zap.String("mobilenet", mobilePred.Prediction),
		zap.Bool("agreement", comparison.Agreement))

	return comparison, false, nil
}

// GetResult retrieves a cached comparison by request id.
func (uc *ComparisonUseCase) GetResult(ctx context.Context, requestID string) (*classifier.Comparison, error) {
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}

	var comparison classifier.Comparison
	if err := json.Unmarshal([]byte(cached), &comparison); err != nil {
		return nil, logging.NewOperationError("usecase.get_result", requestID, err)
	}
	return &comparison, nil
}

// MetricsSnapshot returns the aggregated in-memory counters.
func (uc *ComparisonUseCase) MetricsSnapshot() *MetricsSummary {
	return uc.metrics.Summary()
}

func (uc *ComparisonUseCase) runModel(ctx context.Context, model classifier.Model, input []float32, requestID string) (classifier.Prediction, error) {
	start := time.Now()
	output, err := model.Predict(ctx, input)
	elapsed := time.Since(start)
	if err != nil {
		return classifier.Prediction{}, logging.NewOperationError("usecase.predict."+model.Name(), requestID, err)
	}

	pred, err := classifier.FormatPrediction(model.Classes(), output, elapsed)
	if err != nil {
		return classifier.Prediction{}, logging.NewOperationError("usecase.format."+model.Name(), requestID, err)
	}
	return pred, nil
}

// lookupByImageHash is best effort: any cache problem falls through to a
// fresh inference run.
func (uc *ComparisonUseCase) lookupByImageHash(ctx context.Context, requestID, hashHex string) *classifier.Comparison {
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.image_hash", imageKey(hashHex))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.lookup_image_hash", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil
	}
	if cached == "" {
		return nil
	}

	var comparison classifier.Comparison
	if err := json.Unmarshal([]byte(cached), &comparison); err != nil {
		logging.WithOperation(uc.logger, "usecase.lookup_image_hash", requestID).Warn("failed to decode cached comparison", zap.Error(err))
		return nil
	}
	return &comparison
}

func (uc *ComparisonUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			// cache miss, not a failure
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ComparisonUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
