// Package blob stores overflowed attribute payloads in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("blob not found")

// Store persists JSON payloads by key.
type Store interface {
	// Put writes data at key and returns the object's URI.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get reads the object at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Bucket names the container objects are written to.
	Bucket() string
}

var schemes = []string{"s3://", "gs://"}

// URI formats an object location, e.g. "s3://bucket/ddb/x.json".
func URI(scheme, bucket, key string) string {
	return scheme + "://" + bucket + "/" + key
}

// IsURI reports whether v is a string pointing into object storage.
func IsURI(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, prefix := range schemes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// ParseURI splits an object URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest := ""
	for _, prefix := range schemes {
		if strings.HasPrefix(uri, prefix) {
			rest = uri[len(prefix):]
			break
		}
	}
	idx := strings.Index(rest, "/")
	if rest == "" || idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("parse blob uri %q: malformed", uri)
	}
	return rest[:idx], rest[idx+1:], nil
}
