package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/config"
	"github.com/example/leaf-check/internal/handlers"
	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/onnx"
	"github.com/example/leaf-check/internal/preprocess"
	"github.com/example/leaf-check/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)

	if err := onnx.Initialize(); err != nil {
		logger.Fatal("failed to initialize onnxruntime", zap.Error(err))
	}
	defer onnx.Destroy()

	customCNN, err := onnx.LoadModel("custom_cnn", cfg.Models.CustomCNNModel, cfg.Models.CustomCNNMetadata)
	if err != nil {
		logger.Fatal("failed to load custom cnn", zap.Error(err))
	}
	defer customCNN.Close()
	logger.Info("custom cnn loaded",
		zap.String("path", cfg.Models.CustomCNNModel),
		zap.Strings("classes", customCNN.Classes()))

	mobileNet, err := onnx.LoadModel("mobilenet", cfg.Models.MobileNetModel, cfg.Models.MobileNetMetadata)
	if err != nil {
		logger.Fatal("failed to load mobilenet", zap.Error(err))
	}
	defer mobileNet.Close()
	logger.Info("mobilenet loaded",
		zap.String("path", cfg.Models.MobileNetModel),
		zap.Strings("classes", mobileNet.Classes()))

	cache := usecase.NewRedisCache(redisClient)
	bounds := preprocess.Bounds{
		MinDimension: cfg.Upload.MinDimension,
		MaxDimension: cfg.Upload.MaxDimension,
	}
	uc := usecase.NewComparisonUseCase(cache, customCNN, mobileNet, cfg.Cache.TTL, bounds, logger)

	r := gin.Default()
	r.Use(handlers.CORSMiddleware())
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	handlers.RegisterRoutes(r, uc, cfg.Upload.MaxSize)

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}

	logger.Info("leaf-check API listening", zap.String("addr", cfg.Server.Addr()))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
