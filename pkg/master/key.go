package master

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"masterselector/pkg/coordination"
)

// RootPath is the persistent node holding one ephemeral claim per service key.
const RootPath = "/soa/master/services"

const separator = ":"

// ErrInvalidKey is returned for service keys that cannot name a claim node.
var ErrInvalidKey = errors.New("invalid service key")

// GenerateKey joins two parts as "a:b". It encodes both service keys
// (service, version) and addresses (host, port).
func GenerateKey(a, b string) string {
	return a + separator + b
}

// ServiceKey encodes a service name and version.
func ServiceKey(service, version string) string {
	return GenerateKey(service, version)
}

// Address encodes a host and port.
func Address(host string, port int) string {
	return GenerateKey(host, strconv.Itoa(port))
}

// ClaimPath is the claim node of key under root.
func ClaimPath(root, key string) string {
	return coordination.Join(root, key)
}

// KeyFromPath recovers the service key from a claim node path.
func KeyFromPath(path string) string {
	return coordination.Base(path)
}

// ValidateKey rejects keys that would not map to exactly one child of the root.
//
// The separator is not escaped, so "a:b:c" is accepted and may collide between
// ("a", "b:c") and ("a:b", "c"); callers own that ambiguity.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.Contains(key, "/"):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidKey, key)
	case key == "." || key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
