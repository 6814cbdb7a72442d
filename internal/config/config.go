package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	LogLevel       zerolog.Level

	// Redis backs send throttling and idempotency keys. Empty disables both.
	RedisAddr  string
	SendLimit  int
	SendWindow time.Duration

	// Kafka brokers for the outbound chat event stream and the inbound list
	// event stream. Empty disables both.
	KafkaBrokers    []string
	ChatEventsTopic string
	ListEventsTopic string
	KafkaGroupId    string

	OTLPEndpoint     string
	TraceSampleRatio float64
}

type Option func(*Config) error

func WithLogLevel(level string) Option {
	return func(c *Config) error {
		if level == "" {
			return nil
		}
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		c.LogLevel = lvl
		return nil
	}
}

func WithRedis(addr string, limit int, window time.Duration) Option {
	return func(c *Config) error {
		if addr == "" {
			return nil
		}
		if limit <= 0 || window <= 0 {
			return fmt.Errorf("send limit and window must be positive")
		}
		c.RedisAddr = addr
		c.SendLimit = limit
		c.SendWindow = window
		return nil
	}
}

func WithKafka(brokers []string, chatTopic, listTopic, groupId string) Option {
	return func(c *Config) error {
		if len(brokers) == 0 {
			return nil
		}
		if chatTopic == "" || listTopic == "" {
			return fmt.Errorf("kafka topics cannot be empty")
		}
		c.KafkaBrokers = brokers
		c.ChatEventsTopic = chatTopic
		c.ListEventsTopic = listTopic
		c.KafkaGroupId = groupId
		return nil
	}
}

func WithTracing(endpoint string, sampleRatio float64) Option {
	return func(c *Config) error {
		if sampleRatio < 0 || sampleRatio > 1 {
			return fmt.Errorf("trace sample ratio %v out of range [0, 1]", sampleRatio)
		}
		c.OTLPEndpoint = endpoint
		c.TraceSampleRatio = sampleRatio
		return nil
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing key")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, opts ...Option) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		LogLevel:       zerolog.InfoLevel,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Env returns the value of key, or fallback when it is unset.
func Env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func EnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func EnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func EnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// SplitList splits a comma separated value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
