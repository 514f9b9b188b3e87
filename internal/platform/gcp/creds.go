package gcp

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions accepts either inline service-account JSON or a file path.
// Inline JSON wins; with neither set the client uses ambient credentials.
func ClientOptions(credsJSON, credsFile string) []option.ClientOption {
	creds := strings.TrimSpace(credsJSON)
	if creds == "" {
		creds = strings.TrimSpace(credsFile)
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
