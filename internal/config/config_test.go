package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		orig []string
		err  bool
	}{
		{
			name: "valid config",
			addr: addr,
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "empty address",
			addr: "",
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty DSN",
			addr: addr,
			dsn:  "",
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty signing key",
			addr: addr,
			dsn:  dsn,
			key:  "",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
		})
	}
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=", //
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}

func TestNewConfigOptions(t *testing.T) {
	const (
		addr = "localhost:8080"
		dsn  = "memory"
		key  = "c29tZV9zZWNyZXQ="
	)

	tcases := []struct {
		name  string
		opts  []Option
		err   bool
		check func(t *testing.T, c *Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, zerolog.InfoLevel, c.LogLevel)
				assert.Empty(t, c.RedisAddr)
				assert.Empty(t, c.KafkaBrokers)
			},
		},
		{
			name: "log level",
			opts: []Option{WithLogLevel("debug")},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, zerolog.DebugLevel, c.LogLevel)
			},
		},
		{
			name: "bad log level",
			opts: []Option{WithLogLevel("loud")},
			err:  true,
		},
		{
			name: "redis",
			opts: []Option{WithRedis("localhost:6379", 20, time.Minute)},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "localhost:6379", c.RedisAddr)
				assert.Equal(t, 20, c.SendLimit)
				assert.Equal(t, time.Minute, c.SendWindow)
			},
		},
		{
			name: "redis without limit",
			opts: []Option{WithRedis("localhost:6379", 0, time.Minute)},
			err:  true,
		},
		{
			name: "kafka",
			opts: []Option{WithKafka([]string{"localhost:9092"}, "chat", "lists", "listsync")},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, []string{"localhost:9092"}, c.KafkaBrokers)
				assert.Equal(t, "chat", c.ChatEventsTopic)
				assert.Equal(t, "lists", c.ListEventsTopic)
			},
		},
		{
			name: "kafka without topics",
			opts: []Option{WithKafka([]string{"localhost:9092"}, "", "", "")},
			err:  true,
		},
		{
			name: "tracing",
			opts: []Option{WithTracing("otel-collector:4318", 0.5)},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "otel-collector:4318", c.OTLPEndpoint)
				assert.Equal(t, 0.5, c.TraceSampleRatio)
			},
		},
		{
			name: "tracing bad ratio",
			opts: []Option{WithTracing("otel-collector:4318", 2)},
			err:  true,
		},
		{
			name: "kafka disabled",
			opts: []Option{WithKafka(nil, "", "", "")},
			check: func(t *testing.T, c *Config) {
				assert.Empty(t, c.KafkaBrokers)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewConfig(addr, dsn, key, nil, tc.opts...)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			tc.check(t, c)
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LISTSYNC_TEST_STR", "value")
	t.Setenv("LISTSYNC_TEST_INT", "12")
	t.Setenv("LISTSYNC_TEST_BAD_INT", "twelve")
	t.Setenv("LISTSYNC_TEST_DUR", "3s")
	t.Setenv("LISTSYNC_TEST_FLOAT", "0.25")

	assert.Equal(t, "value", Env("LISTSYNC_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", Env("LISTSYNC_TEST_MISSING", "fallback"))
	assert.Equal(t, 12, EnvInt("LISTSYNC_TEST_INT", 1))
	assert.Equal(t, 1, EnvInt("LISTSYNC_TEST_BAD_INT", 1))
	assert.Equal(t, 3*time.Second, EnvDuration("LISTSYNC_TEST_DUR", time.Second))
	assert.Equal(t, 0.25, EnvFloat("LISTSYNC_TEST_FLOAT", 1))
	assert.Equal(t, 1.0, EnvFloat("LISTSYNC_TEST_MISSING", 1))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b "))
	assert.Nil(t, SplitList(""))
}
