package agent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// CachedVerdict is the last successful validation recorded on disk. Only
// positive verdicts are ever cached; denials and infrastructure failures
// never produce a cache entry.
type CachedVerdict struct {
	LicenseKey  string    `json:"license_key"`
	HardwareID  string    `json:"hardware_id"`
	ValidatedAt time.Time `json:"validated_at"`
	Signature   string    `json:"signature"`
}

// cacheSecret keys the HMAC over the cache file. A tampered file fails
// verification and is treated as absent.
const cacheSecret = "licensegate-verdict-cache-v1"

// Cache is the signed, file-backed verdict store used for offline grace.
type Cache struct {
	path   string
	logger *slog.Logger
}

// NewCache creates a cache backed by the given file path
func NewCache(path string, logger *slog.Logger) *Cache {
	return &Cache{
		path:   path,
		logger: logger.With(slog.String("component", "verdict_cache")),
	}
}

// Load reads the cached verdict. It returns ok=false when the file is
// absent, unreadable, or fails signature verification.
func (c *Cache) Load() (*CachedVerdict, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read verdict cache", "path", c.path, "error", err.Error())
		}
		return nil, false
	}

	var verdict CachedVerdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		c.logger.Warn("verdict cache is corrupt", "path", c.path, "error", err.Error())
		return nil, false
	}

	expected := signVerdict(verdict)
	if !hmac.Equal([]byte(verdict.Signature), []byte(expected)) {
		c.logger.Error("verdict cache signature mismatch, discarding", "path", c.path)
		return nil, false
	}
	return &verdict, true
}

// Store records a successful validation with restricted file permissions.
func (c *Cache) Store(licenseKey, hardwareID string, validatedAt time.Time) error {
	verdict := CachedVerdict{
		LicenseKey:  licenseKey,
		HardwareID:  hardwareID,
		ValidatedAt: validatedAt,
	}
	verdict.Signature = signVerdict(verdict)

	data, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal verdict cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write verdict cache: %w", err)
	}
	return nil
}

// Clear removes the cache file if present
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove verdict cache: %w", err)
	}
	return nil
}

// signVerdict computes the HMAC-SHA256 over the verdict fields, excluding
// the signature itself.
func signVerdict(v CachedVerdict) string {
	payload := fmt.Sprintf("%s|%s|%s",
		v.LicenseKey,
		v.HardwareID,
		v.ValidatedAt.UTC().Format(time.RFC3339Nano))

	h := hmac.New(sha256.New, []byte(cacheSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
