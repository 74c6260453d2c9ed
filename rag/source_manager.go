package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/finargo/corpusbank/rag/sources"
	"github.com/mudler/xlog"
)

const sourceUpdateTimeout = 5 * time.Minute

// ExternalSource is a URL that feeds a collection and is refreshed on an
// interval.
type ExternalSource struct {
	URL            string        `json:"url"`
	UpdateInterval time.Duration `json:"update_interval"`
	LastUpdate     time.Time     `json:"last_update,omitempty"`
}

// SourceManager refreshes external sources into their collections in the
// background. Content lands in each collection as a regular entry named
// after the source URL, replaced on every refresh.
type SourceManager struct {
	mu          sync.RWMutex
	sources     map[string][]ExternalSource
	collections map[string]*PersistentKB
	config      *sources.Config
}

// NewSourceManager creates a source manager. A nil config behaves like an
// empty one.
func NewSourceManager(config *sources.Config) *SourceManager {
	if config == nil {
		config = &sources.Config{}
	}
	return &SourceManager{
		sources:     make(map[string][]ExternalSource),
		collections: make(map[string]*PersistentKB),
		config:      config,
	}
}

// RegisterCollection adds a collection and its persisted sources to the
// refresh schedule. Sources past their interval refresh immediately.
func (sm *SourceManager) RegisterCollection(name string, collection *PersistentKB) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.collections[name] = collection

	for _, source := range collection.GetExternalSources() {
		sm.sources[name] = append(sm.sources[name], source)
		if time.Since(source.LastUpdate) >= source.UpdateInterval {
			go sm.updateSource(name, source, collection)
		}
	}
}

// AddSource registers a new external source on a collection and fetches
// it immediately.
func (sm *SourceManager) AddSource(collectionName, url string, updateInterval time.Duration) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	collection, exists := sm.collections[collectionName]
	if !exists {
		return fmt.Errorf("collection %s not found", collectionName)
	}

	source := ExternalSource{
		URL:            url,
		UpdateInterval: updateInterval,
	}

	if err := collection.AddExternalSource(source); err != nil {
		return err
	}
	sm.sources[collectionName] = append(sm.sources[collectionName], source)

	go sm.updateSource(collectionName, source, collection)

	return nil
}

// RemoveSource unregisters an external source and removes its content
// from the collection.
func (sm *SourceManager) RemoveSource(ctx context.Context, collectionName, url string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	collection, exists := sm.collections[collectionName]
	if !exists {
		return fmt.Errorf("collection %s not found", collectionName)
	}

	if err := collection.RemoveExternalSource(url); err != nil {
		return err
	}

	// The entry is absent when the source never downloaded successfully.
	if err := collection.RemoveEntry(ctx, sourceFileName(collectionName, url)); err != nil {
		xlog.Warn("Failed to remove source entry", "url", url, "error", err)
	}

	sources := sm.sources[collectionName]
	for i, s := range sources {
		if s.URL == url {
			sm.sources[collectionName] = append(sources[:i], sources[i+1:]...)
			break
		}
	}

	return nil
}

// Start launches the refresh loop. It stops when ctx is cancelled;
// refreshes already in flight run to completion.
func (sm *SourceManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.refreshDue()
			}
		}
	}()
}

// refreshDue launches an update for every source past its interval.
func (sm *SourceManager) refreshDue() {
	type due struct {
		collection string
		source     ExternalSource
		kb         *PersistentKB
	}

	sm.mu.RLock()
	var pending []due
	for collectionName, list := range sm.sources {
		collection := sm.collections[collectionName]
		for _, source := range list {
			if time.Since(source.LastUpdate) >= source.UpdateInterval {
				pending = append(pending, due{collectionName, source, collection})
			}
		}
	}
	sm.mu.RUnlock()

	for _, d := range pending {
		go sm.updateSource(d.collection, d.source, d.kb)
	}
}

// updateSource downloads one source and stores its content in the
// collection, replacing the previous version.
func (sm *SourceManager) updateSource(collectionName string, source ExternalSource, collection *PersistentKB) {
	ctx, cancel := context.WithTimeout(context.Background(), sourceUpdateTimeout)
	defer cancel()

	xlog.Info("Updating source", "collection", collectionName, "url", source.URL)
	content, err := sources.SourceRouter(ctx, source.URL, sm.config)
	if err != nil {
		xlog.Error("Failed to download source", "url", source.URL, "error", err)
		return
	}

	tmpFile := filepath.Join(os.TempDir(), sourceFileName(collectionName, source.URL))
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		xlog.Error("Failed to write temporary source file", "path", tmpFile, "error", err)
		return
	}
	defer os.Remove(tmpFile)

	if err := collection.StoreOrReplace(ctx, tmpFile, map[string]string{"url": source.URL, "type": "external"}); err != nil {
		xlog.Error("Failed to store source content", "url", source.URL, "error", err)
		return
	}

	sm.markUpdated(collectionName, source.URL)
	xlog.Info("Source updated", "collection", collectionName, "url", source.URL)
}

// markUpdated stamps a source's last successful refresh time.
func (sm *SourceManager) markUpdated(collectionName, url string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for i, s := range sm.sources[collectionName] {
		if s.URL == url {
			sm.sources[collectionName][i].LastUpdate = time.Now()
			break
		}
	}
}

func sourceFileName(collectionName, url string) string {
	return fmt.Sprintf("source-%s-%s.txt", collectionName, sanitizeURL(url))
}

// sanitizeURL converts a URL into a filesystem-safe string.
func sanitizeURL(url string) string {
	replacer := strings.NewReplacer(
		"://", "-",
		"/", "-",
		"?", "-",
		"&", "-",
		"=", "-",
		"#", "-",
		"@", "-",
		":", "-",
		".", "-",
		"+", "-",
		" ", "-",
	)

	sanitized := replacer.Replace(strings.ToLower(url))

	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	sanitized = strings.Trim(sanitized, "-")

	// Common filesystem name limit
	if len(sanitized) > 255 {
		sanitized = sanitized[:255]
	}

	return sanitized
}
