// Package mds resolves authenticator AAGUIDs to human-readable model names
// using the FIDO Alliance Metadata Service. The MDS blob is fetched once at
// startup and cached on disk; lookups fall back to a generic label, so the
// server works fine offline.
package mds

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	mdsURL   = "https://mds.fidoalliance.org/"
	cacheAge = 7 * 24 * time.Hour
)

// fallbackName is returned for AAGUIDs the metadata service does not know,
// including the all-zero AAGUID most platform authenticators report.
const fallbackName = "Passkey"

// Client maps AAGUIDs to authenticator descriptions.
type Client struct {
	mu      sync.RWMutex
	names   map[string]string
	dataDir string
	logger  *zap.SugaredLogger
}

type payload struct {
	Entries []entry `json:"entries"`
}

type entry struct {
	AAGUID            string     `json:"aaguid"`
	MetadataStatement *statement `json:"metadataStatement"`
}

type statement struct {
	Description string `json:"description"`
}

func New(dataDir string, logger *zap.SugaredLogger) *Client {
	return &Client{
		names:   make(map[string]string),
		dataDir: dataDir,
		logger:  logger,
	}
}

// Load populates the AAGUID table from the disk cache, refreshing it from the
// network when the cache is missing or stale. Failures are logged, not fatal.
func (c *Client) Load() {
	cacheFile := filepath.Join(c.dataDir, "mds.json")
	if c.loadFromCache(cacheFile) {
		return
	}
	c.fetchAndCache(cacheFile)
}

func (c *Client) loadFromCache(cacheFile string) bool {
	info, err := os.Stat(cacheFile)
	if err != nil || time.Since(info.ModTime()) > cacheAge {
		return false
	}

	data, err := os.ReadFile(cacheFile)
	if err != nil {
		return false
	}
	return c.parsePayload(data)
}

func (c *Client) fetchAndCache(cacheFile string) {
	resp, err := http.Get(mdsURL)
	if err != nil {
		c.logger.Warnw("fetch FIDO MDS", "error", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warnw("read FIDO MDS response", "error", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warnw("FIDO MDS request failed", "status", resp.StatusCode)
		return
	}

	// The blob is a JWT; only the payload segment is needed. Authenticator
	// names are cosmetic, so the signature is not verified.
	parts := strings.Split(string(body), ".")
	if len(parts) != 3 {
		c.logger.Warnw("unexpected FIDO MDS blob format")
		return
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		c.logger.Warnw("decode FIDO MDS payload", "error", err)
		return
	}

	if err := os.WriteFile(cacheFile, decoded, 0644); err != nil {
		c.logger.Warnw("cache FIDO MDS payload", "error", err)
	}
	c.parsePayload(decoded)
}

func (c *Client) parsePayload(data []byte) bool {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warnw("parse FIDO MDS payload", "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range p.Entries {
		if e.AAGUID == "" || e.MetadataStatement == nil || e.MetadataStatement.Description == "" {
			continue
		}
		id, err := uuid.Parse(e.AAGUID)
		if err != nil {
			continue
		}
		c.names[id.String()] = e.MetadataStatement.Description
	}

	c.logger.Infow("loaded FIDO MDS", "authenticators", len(c.names))
	return true
}

// Name returns the authenticator description for an AAGUID, or a generic
// label when unknown.
func (c *Client) Name(aaguid []byte) string {
	id, err := uuid.FromBytes(aaguid)
	if err != nil {
		return fallbackName
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if name, ok := c.names[id.String()]; ok {
		return name
	}
	return fallbackName
}
