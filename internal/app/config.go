package app

import (
	"os"
	"strconv"
	"strings"
)

// Config is the process's env-var surface, grounded on the teacher's
// LoadConfig/getEnv pattern but trimmed to what the Download Queue,
// Store Adapter, and streaming handler actually consume.
type Config struct {
	HTTPAddr         string
	MongoURI         string
	MongoDatabase    string
	DownloadLocation string
	MaxConcurrent    int
	LogLevel         string
	LogFormat        string
	FFMPEGPath       string
	FFProbePath      string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "torrentstream"),
		DownloadLocation: getEnv("DOWNLOAD_LOCATION", "downloads"),
		MaxConcurrent:    int(getEnvInt64("MAX_CONCURRENT", 1)),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		FFMPEGPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:      getEnv("FFPROBE_PATH", "ffprobe"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
