package env

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once sync.Once
	v    *viper.Viper
)

func store() *viper.Viper {
	once.Do(func() {
		v = viper.New()
		v.AutomaticEnv()
	})
	return v
}

// LoadFile merges a config file (yaml, json, toml, env) under the environment.
// Environment variables keep precedence over file values.
func LoadFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	s := store()
	s.SetConfigFile(path)
	return s.ReadInConfig()
}

func raw(key string) string {
	return strings.TrimSpace(store().GetString(key))
}

func String(key, fallback string) string {
	val := raw(key)
	if val == "" {
		return fallback
	}
	return val
}

func Int(key string, fallback int) int {
	val := raw(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Fraction reads a number in [0, 1]. Zero is a valid value.
func Fraction(key string, fallback float64) float64 {
	val := raw(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 || f > 1 {
		return fallback
	}
	return f
}

// Millis reads a positive integer number of milliseconds.
func Millis(key string, fallback time.Duration) time.Duration {
	n := Int(key, 0)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func CSV(key string, fallback []string) []string {
	val := raw(key)
	if val == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	if len(result) == 0 {
		return append([]string(nil), fallback...)
	}
	return result
}
