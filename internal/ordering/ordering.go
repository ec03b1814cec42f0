// Package ordering derives deterministic ordering keys and partitioned
// stream/routing keys from published payloads, grounded on
// original_source/rust_gateway/src/services/ordering.rs.
package ordering

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// Config mirrors spec.md's OrderingConfig.
type Config struct {
	Strategy          string // "topic", "subject", or "" (none)
	TopicField         string
	SubjectSource      string // "subject" or "user"
	PartitionMode      string // "suffix" or "" (none)
	PartitionMaxLen    int
}

// ConnectionInfo is the subset of registry.ConnectionInfo the ordering
// algorithm reads. Declared locally to avoid a dependency on internal/registry
// for a handful of fields.
type ConnectionInfo struct {
	Subjects []string
	UserID   string
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._:-]`)

// Service computes ordering keys and applies partition suffixes.
type Service struct{}

// New returns an OrderingService. It carries no state — the regexp and hash
// are package-level/stateless — but the type exists so callers can hold it
// alongside the rest of the dispatch plane uniformly.
func New() *Service { return &Service{} }

// DeriveOrderingKey implements spec.md §4.3 step 1.
func (s *Service) DeriveOrderingKey(cfg Config, conn ConnectionInfo, payload map[string]any) string {
	switch cfg.Strategy {
	case "topic":
		if v, ok := payload[cfg.TopicField]; ok {
			return valueToString(v)
		}
		if meta, ok := payload["meta"].(map[string]any); ok {
			if v, ok := meta[cfg.TopicField]; ok {
				return valueToString(v)
			}
		}
		if v, ok := payload["type"]; ok {
			return valueToString(v)
		}
		return ""

	case "subject":
		if v, ok := payload["subject"]; ok {
			if s := valueToString(v); s != "" {
				return s
			}
		}
		if v, ok := payload["subjects"].([]any); ok && len(v) > 0 {
			if s := valueToString(v[0]); s != "" {
				return s
			}
		}
		if cfg.SubjectSource == "subject" && len(conn.Subjects) > 0 {
			return conn.Subjects[0]
		}
		return conn.UserID

	default:
		return ""
	}
}

// ApplyPartition implements spec.md §4.3 step 2: derive a safe key from
// orderingKey and, when partition mode is "suffix" and the key is
// non-empty, append ".{safe_key}" to both stream (unless stream is empty)
// and routingKey.
func (s *Service) ApplyPartition(cfg Config, stream, routingKey, orderingKey string) (string, string) {
	if cfg.PartitionMode != "suffix" || orderingKey == "" {
		return stream, routingKey
	}

	safeKey := normalizeKey(orderingKey, cfg.PartitionMaxLen)
	if safeKey == "" {
		return stream, routingKey
	}

	if stream != "" {
		stream = stream + "." + safeKey
	}
	routingKey = routingKey + "." + safeKey
	return stream, routingKey
}

// normalizeKey implements the "safe key" derivation: trim, hash-if-too-long,
// substitute unsafe characters, and re-hash the original if that leaves
// nothing behind.
func normalizeKey(raw string, maxLen int) string {
	key := strings.TrimSpace(raw)
	if maxLen > 0 && len(key) > maxLen {
		key = sha1Hex(key)
	}
	key = unsafeChars.ReplaceAllString(key, "_")
	if key == "" {
		key = sha1Hex(raw)
	}
	return key
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
