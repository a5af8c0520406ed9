package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

func Int(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, v)
	}
	return n, nil
}

// Minutes reads an integer minute count as a duration. The engine's timing
// constants are meaningless unless positive, so zero and negatives are rejected.
func Minutes(key string, fallback int) (time.Duration, error) {
	n, err := Int(key, fallback)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be a positive minute count (got %d)", key, n)
	}
	return time.Duration(n) * time.Minute, nil
}

// Hours reads an integer hour count as a duration.
func Hours(key string, fallback int) (time.Duration, error) {
	n, err := Int(key, fallback)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be a positive hour count (got %d)", key, n)
	}
	return time.Duration(n) * time.Hour, nil
}
