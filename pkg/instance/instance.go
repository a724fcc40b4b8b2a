package instance

import (
	"os"
	"strings"
)

const fallbackID = "storefront-0"

// GetID identifies this replica in lock values and log fields. STOREFRONT_INSTANCE_ID
// wins over the hostname.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("STOREFRONT_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
