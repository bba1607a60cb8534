package envutil

import (
	"fmt"
	"os"
	"strconv"
)

// GetEnvOrFallback gets the environment variable for the specified key, but if
// it doesn't find a value, it'll instead return fallback.
func GetEnvOrFallback(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		value = fallback
	}
	return value
}

// GetIntOrFallback parses the environment variable for the specified key as
// an integer, returning fallback when it is not set.
func GetIntOrFallback(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%q environment variable is not an integer: %w", key, err)
	}
	return i, nil
}
