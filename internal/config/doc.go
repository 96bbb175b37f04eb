// Package config loads and validates the chatrelay YAML configuration.
//
// Configuration files support ${VAR_NAME} environment variable expansion
// and Go duration strings ("15s", "3s") for all timing fields. Unset
// fields fall back to documented defaults, so a minimal config only needs
// the webhook URL and a reply channel URL.
package config
