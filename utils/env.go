package utils

import (
	"os"
	"strconv"
	"strings"
)

var (
	CRDB_DSN = os.Getenv("CRDB_DSN")

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	REDIS_ADDR     = os.Getenv("REDIS_ADDR")
	REDIS_PASSWORD = os.Getenv("REDIS_PASSWORD")

	// DATA_DIR is the root directory of the disk datastore, or the key prefix in S3
	DATA_DIR = GetEnvOrDefault("DATA_DIR", "./data")

	// STORAGE_BACKEND is either `disk` or `s3`
	STORAGE_BACKEND = GetEnvOrDefault("STORAGE_BACKEND", "disk")

	// METASTORE is one of `crdb`, `redis` or `memory`
	METASTORE = GetEnvOrDefault("METASTORE", "crdb")
)

func GetEnvOrDefault(env, defaultVal string) string {
	if e := os.Getenv(env); e != "" {
		return e
	}
	return defaultVal
}

// GetEnvOrDefaultInt exits the process if the variable is set but not an integer
func GetEnvOrDefaultInt(env string, defaultVal int64) int64 {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		logger.Fatal().Err(err).Str("env", env).Msg("failed to parse int env var")
	}
	return i
}

func GetEnvOrDefaultFloat(env string, defaultVal float64) float64 {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(e, 64)
	if err != nil {
		logger.Fatal().Err(err).Str("env", env).Msg("failed to parse float env var")
	}
	return f
}

// GetEnvOrDefaultBool treats `1` and `true` (any case) as true
func GetEnvOrDefaultBool(env string, defaultVal bool) bool {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	return e == "1" || strings.EqualFold(e, "true")
}
