package domain

import "time"

// VectorConfig holds internal vectorization settings shared by every namespace of a deployment.
type VectorConfig struct {
	Model          string
	Dimensions     int
	MaxInputTokens int
	DistanceMetric string
	Algorithm      string
}

// DefaultVectorConfig returns the default configuration for the compact MiniLM model.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:          "all-MiniLM-L6-v2",
		Dimensions:     384,
		MaxInputTokens: 512,
		DistanceMetric: "cosine",
		Algorithm:      "hnsw",
	}
}

// Upload and stage boundaries of the ingestion pipeline.
const (
	MaxFileSize         = 10 * 1024 * 1024
	MinContentLength    = 10
	MaxContentLength    = 1_000_000
	MinChunkCount       = 1
	MaxChunkCount       = 1000
	DefaultChunkSize    = 1000
	DefaultOverlap      = 200
	TelemetrySessionTTL = time.Hour
)
