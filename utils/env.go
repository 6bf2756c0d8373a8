package utils

import "os"

var (
	TAOS_DSN = GetEnvOrDefault("TAOS_DSN", "root:taosdata@http(localhost:6041)/")

	CRDB_DSN   = os.Getenv("CRDB_DSN")
	REDIS_ADDR = GetEnvOrDefault("REDIS_ADDR", "localhost:6379")

	AWS_DEFAULT_REGION = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")
)
