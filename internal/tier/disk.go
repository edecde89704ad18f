package tier

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tiercache/tiercache/internal/policy"
	cacheerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Disk is the persistent L3 store: one file per entry under a cache
// directory, optional gzip compression, and a JSON index persisted with an
// atomic rename. Values survive process restarts until evicted or expired.
type Disk struct {
	mu         sync.Mutex
	name       string
	directory  string
	maxSize    int
	defaultTTL time.Duration
	compress   bool
	indexFile  string

	index map[string]*diskItem
	seq   uint64

	engine    *policy.Engine
	onEvict   EvictionHook
	evictions uint64
	logger    *slog.Logger

	stopCh chan struct{}
	closed bool
}

// diskItem is one index record. Meta is embedded so the policy engine can
// order candidates without touching the data files.
type diskItem struct {
	Meta       types.EntryMeta `json:"meta"`
	FilePath   string          `json:"file_path"`
	Compressed bool            `json:"compressed"`
	Checksum   string          `json:"checksum"`
}

// DiskConfig configures the persistent tier store.
type DiskConfig struct {
	Name         string
	Directory    string
	MaxSize      int
	DefaultTTL   time.Duration
	Compression  bool
	IndexFile    string
	SyncInterval time.Duration
	Engine       *policy.Engine
	OnEvict      EvictionHook
	Logger       *slog.Logger
}

// NewDisk creates the store, loading any index left by a previous process.
func NewDisk(cfg DiskConfig) (*Disk, error) {
	if cfg.OnEvict == nil {
		cfg.OnEvict = noopHook
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = types.TierL3
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "cache-index.json"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Minute
	}

	if err := os.MkdirAll(cfg.Directory, 0750); err != nil {
		return nil, cacheerrors.WrapError(err, cacheerrors.ErrCodeInvalidConfig,
			"failed to create cache directory").WithComponent(cfg.Name)
	}

	d := &Disk{
		name:       cfg.Name,
		directory:  cfg.Directory,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		compress:   cfg.Compression,
		indexFile:  cfg.IndexFile,
		index:      make(map[string]*diskItem),
		engine:     cfg.Engine,
		onEvict:    cfg.OnEvict,
		logger:     cfg.Logger,
		stopCh:     make(chan struct{}),
	}

	if err := d.loadIndex(); err != nil {
		return nil, cacheerrors.WrapError(err, cacheerrors.ErrCodeInvalidConfig,
			"failed to load cache index").WithComponent(cfg.Name)
	}

	go d.syncIndexLoop(cfg.SyncInterval)

	return d, nil
}

// Name returns the tier identifier.
func (d *Disk) Name() string { return d.name }

// Get reads and decodes the entry's data file. Corrupt or missing files are
// dropped from the index and reported as a miss.
func (d *Disk) Get(_ context.Context, key string) (interface{}, bool, error) {
	d.mu.Lock()
	item, ok := d.index[key]
	if !ok {
		d.mu.Unlock()
		return nil, false, nil
	}

	now := time.Now()
	if item.Meta.Expired(now) {
		d.removeLocked(key)
		d.mu.Unlock()
		return nil, false, nil
	}
	d.mu.Unlock()

	data, err := d.readFromFile(item)
	if err != nil {
		d.mu.Lock()
		d.removeLocked(key)
		d.mu.Unlock()
		d.logger.Warn("dropping unreadable cache file", "tier", d.name, "error", err)
		return nil, false, nil
	}

	d.mu.Lock()
	item.Meta.LastAccess = now
	item.Meta.AccessCount++
	d.mu.Unlock()

	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set encodes the value to its own file, evicting a policy-selected batch
// first when the store is at capacity and the key is new.
func (d *Disk) Set(_ context.Context, key string, value interface{}, size int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.defaultTTL
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = int64(len(data))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if existing, exists := d.index[key]; exists {
		_ = os.Remove(existing.FilePath)
	} else if d.maxSize > 0 && len(d.index) >= d.maxSize {
		d.evictBatchLocked()
	}

	item := &diskItem{
		Compressed: d.compress,
		Checksum:   checksum(data),
		FilePath:   d.filePath(key),
	}

	if err := d.writeToFile(item, data); err != nil {
		return cacheerrors.WrapError(err, cacheerrors.ErrCodeBackendUnavailable,
			"failed to write cache file").WithComponent(d.name).WithOperation("set")
	}

	if existing, exists := d.index[key]; exists {
		item.Meta = existing.Meta
		item.Meta.Size = size
		item.Meta.CreatedAt = now
		item.Meta.LastAccess = now
		item.Meta.TTL = ttl
	} else {
		d.seq++
		item.Meta = types.EntryMeta{
			Key:        key,
			Size:       size,
			CreatedAt:  now,
			LastAccess: now,
			TTL:        ttl,
			Seq:        d.seq,
		}
	}
	d.index[key] = item
	return nil
}

// Delete removes the entry's file and index record.
func (d *Disk) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(key)
	return nil
}

// Contains reports residency of a live entry.
func (d *Disk) Contains(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.index[key]
	if !ok {
		return false
	}
	return !item.Meta.Expired(time.Now())
}

// Keys returns all indexed keys.
func (d *Disk) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.index))
	for key := range d.index {
		keys = append(keys, key)
	}
	return keys
}

// RemoveExpired sweeps entries whose TTL elapsed before now.
func (d *Disk) RemoveExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []string
	for key, item := range d.index {
		if item.Meta.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		d.removeLocked(key)
	}
	return len(expired)
}

// Len returns the number of indexed entries.
func (d *Disk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}

// Stats returns occupancy and eviction counters for this store.
func (d *Disk) Stats() types.CacheStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := types.CacheStats{
		Evictions: d.evictions,
		Size:      int64(len(d.index)),
		Capacity:  int64(d.maxSize),
	}
	if d.maxSize > 0 {
		s.Utilization = float64(len(d.index)) / float64(d.maxSize)
	}
	return s
}

// Close stops the index sync goroutine and writes a final index snapshot.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	close(d.stopCh)
	return d.saveIndexLocked()
}

// Helper methods

func (d *Disk) filePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(d.directory, fmt.Sprintf("%x.cache", hash[:8]))
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

func (d *Disk) writeToFile(item *diskItem, data []byte) error {
	file, err := os.Create(item.FilePath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	var writer io.Writer = file
	if item.Compressed {
		gzipWriter := gzip.NewWriter(file)
		defer func() { _ = gzipWriter.Close() }()
		writer = gzipWriter
	}

	if _, err := writer.Write(data); err != nil {
		_ = os.Remove(item.FilePath)
		return err
	}
	return nil
}

func (d *Disk) readFromFile(item *diskItem) ([]byte, error) {
	file, err := os.Open(item.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file
	if item.Compressed {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if checksum(data) != item.Checksum {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeChecksumMismatch,
			"checksum mismatch for cached file").WithComponent(d.name)
	}
	return data, nil
}

func (d *Disk) loadIndex() error {
	indexPath := filepath.Join(d.directory, d.indexFile)
	if !strings.HasPrefix(filepath.Clean(indexPath), filepath.Clean(d.directory)) {
		return fmt.Errorf("invalid index file path: %s", indexPath)
	}

	file, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no existing index, start fresh
		}
		return err
	}
	defer func() { _ = file.Close() }()

	var items map[string]*diskItem
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return err
	}

	for key, item := range items {
		if _, err := os.Stat(item.FilePath); os.IsNotExist(err) {
			continue // skip missing files
		}
		d.index[key] = item
		if item.Meta.Seq > d.seq {
			d.seq = item.Meta.Seq
		}
	}
	return nil
}

func (d *Disk) saveIndexLocked() error {
	indexPath := filepath.Join(d.directory, d.indexFile)
	if !strings.HasPrefix(filepath.Clean(indexPath), filepath.Clean(d.directory)) {
		return fmt.Errorf("invalid index file path: %s", indexPath)
	}

	tmpPath := indexPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if err := json.NewEncoder(file).Encode(d.index); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, indexPath)
}

func (d *Disk) evictBatchLocked() {
	meta := make([]types.EntryMeta, 0, len(d.index))
	for _, item := range d.index {
		meta = append(meta, item.Meta)
	}

	candidates := d.engine.Candidates(meta)
	for _, key := range candidates {
		d.removeLocked(key)
	}
	if n := len(candidates); n > 0 {
		d.evictions += uint64(n)
		d.onEvict(n)
	}
}

func (d *Disk) removeLocked(key string) {
	item, ok := d.index[key]
	if !ok {
		return
	}
	_ = os.Remove(item.FilePath)
	delete(d.index, key)
}

func (d *Disk) syncIndexLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			if err := d.saveIndexLocked(); err != nil {
				d.logger.Warn("index sync failed", "tier", d.name, "error", err)
			}
			d.mu.Unlock()
		}
	}
}
