package app

import (
	"strings"
	"time"

	"github.com/lexfind/lexfind-backend/internal/platform/envutil"
)

type Config struct {
	JWTSecretKey string
	TokenTTL     time.Duration

	PineconeAPIKey string
	IndexName      string
	IndexDimension int
	IndexCloud     string
	IndexRegion    string

	GeminiAPIKey string

	MaxFileSize  int
	ChunkSize    int
	ChunkOverlap int

	RateLimit       int
	RateLimitWindow time.Duration

	AllowOrigins []string
}

func LoadConfig() Config {
	return Config{
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", "defaultsecret"),
		TokenTTL:     envutil.Duration("TOKEN_TTL", 24*time.Hour),

		PineconeAPIKey: envutil.String("PINECONE_API_KEY", ""),
		IndexName:      envutil.String("PINECONE_INDEX_NAME", "lexfind-documents"),
		IndexDimension: envutil.Int("PINECONE_INDEX_DIMENSION", 768),
		IndexCloud:     envutil.String("PINECONE_CLOUD", "aws"),
		IndexRegion:    envutil.String("PINECONE_REGION", "us-east-1"),

		GeminiAPIKey: envutil.String("GEMINI_API_KEY", ""),

		MaxFileSize:  envutil.Int("MAX_FILE_SIZE_BYTES", 50<<20),
		ChunkSize:    envutil.Int("CHUNK_SIZE", 1000),
		ChunkOverlap: envutil.Int("CHUNK_OVERLAP", 200),

		RateLimit:       envutil.Int("RATE_LIMIT", 30),
		RateLimitWindow: envutil.Duration("RATE_LIMIT_WINDOW", time.Minute),

		AllowOrigins: splitOrigins(envutil.String("CORS_ALLOW_ORIGINS", "")),
	}
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
