package realtime

import (
	"time"

	cmnenv "chat_sync/server/common/env"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	defaultPollInterval     = time.Second
	defaultReconnectBase    = 5 * time.Second
	defaultReconnectMax     = 10 * time.Second
	defaultReconnectRetries = 3
	defaultJitter           = 0.2
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second
)

type Config struct {
	Endpoints []string
	Token     string
	// UserID is the signed-in user; optimistic reactions are tagged with it.
	UserID string

	RequestTimeout time.Duration
	PollInterval   time.Duration

	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
	// Jitter is the fraction of each reconnect delay that is randomized.
	Jitter float64

	FailThreshold    int
	EndpointCooldown time.Duration
	TypingTTL        time.Duration
}

func (c Config) withDefaults() Config {
	c.Endpoints = normalizeEndpoints(c.Endpoints)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax < c.ReconnectBase {
		c.ReconnectMax = max(defaultReconnectMax, c.ReconnectBase)
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultReconnectRetries
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = defaultJitter
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = defaultFailThreshold
	}
	if c.EndpointCooldown <= 0 {
		c.EndpointCooldown = defaultEndpointCooldown
	}
	return c
}

// ConfigFromEnv reads CHAT_CLIENT_* settings, e.g. for command line tools.
func ConfigFromEnv() Config {
	return Config{
		Endpoints:            cmnenv.CSV("CHAT_CLIENT_ENDPOINTS", []string{"http://localhost:8090"}),
		Token:                cmnenv.String("CHAT_CLIENT_TOKEN", ""),
		UserID:               cmnenv.String("CHAT_CLIENT_USER_ID", ""),
		RequestTimeout:       cmnenv.Millis("CHAT_CLIENT_REQUEST_TIMEOUT_MS", defaultRequestTimeout),
		PollInterval:         cmnenv.Millis("CHAT_CLIENT_POLL_INTERVAL_MS", defaultPollInterval),
		ReconnectBase:        cmnenv.Millis("CHAT_CLIENT_RECONNECT_BASE_MS", defaultReconnectBase),
		ReconnectMax:         cmnenv.Millis("CHAT_CLIENT_RECONNECT_MAX_MS", defaultReconnectMax),
		MaxReconnectAttempts: cmnenv.Int("CHAT_CLIENT_RECONNECT_ATTEMPTS", defaultReconnectRetries),
		Jitter:               cmnenv.Fraction("CHAT_CLIENT_RECONNECT_JITTER", defaultJitter),
		FailThreshold:        cmnenv.Int("CHAT_CLIENT_FAIL_THRESHOLD", defaultFailThreshold),
		EndpointCooldown:     cmnenv.Millis("CHAT_CLIENT_COOLDOWN_MS", defaultEndpointCooldown),
	}
}
