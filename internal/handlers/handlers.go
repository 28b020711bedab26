package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/leaf-check/internal/usecase"
)

// CORSMiddleware allows browser frontends on other origins to call the API.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. maxUploadSize
// bounds the accepted multipart payload.
func RegisterRoutes(router *gin.Engine, uc *usecase.ComparisonUseCase, maxUploadSize int64) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "backend is running"})
	})

	router.POST("/predict", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no image file provided"})
			return
		}

		if file.Size > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		if contentType := file.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		comparison, cached, err := uc.Compare(c.Request.Context(), data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": comparison.RequestID,
			"custom_cnn": comparison.CustomCNN,
			"mobilenet":  comparison.MobileNet,
			"agreement":  comparison.Agreement,
			"cached":     cached,
		})
	})

	router.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")

		comparison, err := uc.GetResult(c.Request.Context(), requestID)
		if err != nil {
			if errors.Is(err, usecase.ErrResultNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, comparison)
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.MetricsSnapshot())
	})
}
