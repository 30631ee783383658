// Package config loads process configuration from environment variables,
// following the teacher's Load()-with-defaults convention.
package config

import (
	"os"
	"strconv"
	"time"
)

// Relay holds the Relay process's configuration.
type Relay struct {
	Port                  string
	HealthPort            string
	DataDir               string
	AgentURL              string
	DatabaseURL           string
	DirectRPCPrivateKey   string
	DirectRPCPublicKey    string
	DirectRPCSecret       string
	PublicRPCPrivateKey   string
	PublicRPCPublicKey    string
	PublicRPCSecret       string
	AttachmentRefTTL      time.Duration
	NetworkMode           string // restricted | permissive
	RateLimitBackend      string // sqlite | postgres | redis
	RedisAddr             string
	AttachmentBackend     string // file | s3
	AttachmentS3Bucket    string
	PrivateEndpointsFile  string
	AdminJWTPublicKeyPath string
}

// LoadRelay reads Relay configuration from the environment.
func LoadRelay() *Relay {
	return &Relay{
		Port:                  getEnv("PORT", "8080"),
		HealthPort:            getEnv("RELAY_HEALTH_PORT", "8090"),
		DataDir:               getEnv("DATA_DIR", "data"),
		AgentURL:              getEnv("AGENT_URL", "http://localhost:8081"),
		DatabaseURL:           getEnv("DATABASE_URL", "file:data/bridge.db"),
		DirectRPCPrivateKey:   os.Getenv("DIRECT_RPC_PRIVATE_KEY"),
		DirectRPCPublicKey:    os.Getenv("DIRECT_RPC_PUBLIC_KEY"),
		DirectRPCSecret:       os.Getenv("DIRECT_RPC_SECRET"),
		PublicRPCPrivateKey:   os.Getenv("PUBLIC_RPC_PRIVATE_KEY"),
		PublicRPCPublicKey:    os.Getenv("PUBLIC_RPC_PUBLIC_KEY"),
		PublicRPCSecret:       os.Getenv("PUBLIC_RPC_SECRET"),
		AttachmentRefTTL:      time.Duration(getEnvInt("ATTACHMENT_REF_TTL_MS", 900000)) * time.Millisecond,
		NetworkMode:           getEnv("NETWORK_MODE", "restricted"),
		RateLimitBackend:      getEnv("RATE_LIMIT_BACKEND", "sqlite"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		AttachmentBackend:     getEnv("ATTACHMENT_BACKEND", "file"),
		AttachmentS3Bucket:    os.Getenv("ATTACHMENT_S3_BUCKET"),
		PrivateEndpointsFile:  os.Getenv("PRIVATE_ENDPOINTS_FILE"),
		AdminJWTPublicKeyPath: os.Getenv("ADMIN_JWT_PUBLIC_KEY"),
	}
}

// Agent holds the Agent process's configuration.
type Agent struct {
	Port                string
	Workdir             string
	CapabilitiesURL     string
	MaxBodyBytes        int64
	MaxPromptChars      int
	MaxTimeoutMs        int64
	DefaultTimeoutMs    int64
	PublicRPCPrivateKey string
	PublicRPCPublicKey  string
	PublicRPCSecret     string
	DirectRPCPrivateKey string
	DirectRPCPublicKey  string
	DirectRPCSecret     string
}

// LoadAgent reads Agent configuration from the environment.
func LoadAgent() *Agent {
	return &Agent{
		Port:                getEnv("AGENT_PORT", "8081"),
		Workdir:             getEnv("AGENT_WORKDIR", "/workspace"),
		CapabilitiesURL:     getEnv("CAPABILITIES_URL", "http://localhost:8080"),
		MaxBodyBytes:        int64(getEnvInt("AGENT_MAX_BODY_BYTES", 262144)),
		MaxPromptChars:      getEnvInt("AGENT_MAX_PROMPT_CHARS", 100000),
		MaxTimeoutMs:        int64(getEnvInt("AGENT_MAX_TIMEOUT_MS", 600000)),
		DefaultTimeoutMs:    int64(getEnvInt("AGENT_DEFAULT_TIMEOUT_MS", 600000)),
		PublicRPCPrivateKey: os.Getenv("PUBLIC_RPC_PRIVATE_KEY"),
		PublicRPCPublicKey:  os.Getenv("PUBLIC_RPC_PUBLIC_KEY"),
		PublicRPCSecret:     os.Getenv("PUBLIC_RPC_SECRET"),
		DirectRPCPrivateKey: os.Getenv("DIRECT_RPC_PRIVATE_KEY"),
		DirectRPCPublicKey:  os.Getenv("DIRECT_RPC_PUBLIC_KEY"),
		DirectRPCSecret:     os.Getenv("DIRECT_RPC_SECRET"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
