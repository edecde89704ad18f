package tier

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tiercache/tiercache/internal/policy"
	cacheerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// s3API is the subset of the S3 client the store uses, extracted so tests
// can substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 is an object-storage variant of the persistent L3 tier. Entries live as
// JSON objects under a key prefix; a local metadata index drives TTL,
// eviction, and pattern listing since object stores have no cheap listing
// with access metadata. Failures degrade like any networked tier.
type S3 struct {
	mu         sync.Mutex
	name       string
	client     s3API
	bucket     string
	keyPrefix  string
	maxSize    int
	defaultTTL time.Duration
	opTimeout  time.Duration

	meta map[string]*types.EntryMeta
	seq  uint64

	engine    *policy.Engine
	onEvict   EvictionHook
	evictions uint64
	logger    *slog.Logger
}

// S3Config configures the object-storage tier store.
type S3Config struct {
	Name       string
	Bucket     string
	KeyPrefix  string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	PathStyle  bool
	MaxSize    int
	DefaultTTL time.Duration
	OpTimeout  time.Duration

	// Client, when non-nil, is used instead of building one from the AWS
	// configuration above.
	Client *s3.Client

	Engine  *policy.Engine
	OnEvict EvictionHook
	Logger  *slog.Logger
}

// NewS3 creates the store, loading AWS configuration from the environment
// unless static credentials are supplied.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeInvalidConfig,
			"s3 bucket name cannot be empty").WithComponent(cfg.Name)
	}
	if cfg.OnEvict == nil {
		cfg.OnEvict = noopHook
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = types.TierL3
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tiercache/"
	}

	client := cfg.Client
	if client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
		}
		if cfg.AccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, cacheerrors.WrapError(err, cacheerrors.ErrCodeInvalidConfig,
				"failed to load AWS config").WithComponent(cfg.Name)
		}

		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			if cfg.PathStyle {
				o.UsePathStyle = true
			}
		})
	}

	store := &S3{
		name:       cfg.Name,
		client:     client,
		bucket:     cfg.Bucket,
		keyPrefix:  cfg.KeyPrefix,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		opTimeout:  cfg.OpTimeout,
		meta:       make(map[string]*types.EntryMeta),
		engine:     cfg.Engine,
		onEvict:    cfg.OnEvict,
		logger:     cfg.Logger,
	}

	store.logger.Info("s3 tier initialized", "tier", store.name, "bucket", cfg.Bucket)
	return store, nil
}

// Name returns the tier identifier.
func (s *S3) Name() string { return s.name }

func (s *S3) objectKey(key string) string { return s.keyPrefix + key }

// Get fetches and decodes the object for key. Entries past their TTL are
// deleted lazily; backend failures surface as retryable errors.
func (s *S3) Get(ctx context.Context, key string) (interface{}, bool, error) {
	s.mu.Lock()
	meta, ok := s.meta[key]
	if !ok {
		s.mu.Unlock()
		return nil, false, nil
	}
	now := time.Now()
	if meta.Expired(now) {
		delete(s.meta, key)
		s.mu.Unlock()
		go s.deleteObject(context.Background(), key)
		return nil, false, nil
	}
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	out, err := s.client.GetObject(opCtx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if stderrors.As(err, &noKey) {
			s.forgetMeta(key)
			return nil, false, nil
		}
		return nil, false, s.backendError(err, "get")
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, s.backendError(err, "get")
	}

	s.mu.Lock()
	if meta, ok := s.meta[key]; ok {
		meta.LastAccess = now
		meta.AccessCount++
	}
	s.mu.Unlock()

	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set encodes the value and uploads it, evicting a policy-selected batch
// first when the local index is full and the key is new.
func (s *S3) Set(ctx context.Context, key string, value interface{}, size int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = int64(len(data))
	}

	s.mu.Lock()
	_, exists := s.meta[key]
	var candidates []string
	if !exists && s.maxSize > 0 && len(s.meta) >= s.maxSize {
		candidates = s.engine.Candidates(s.snapshotMetaLocked())
	}
	s.mu.Unlock()

	if len(candidates) > 0 {
		s.evictBatch(ctx, candidates)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err = s.client.PutObject(opCtx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return s.backendError(err, "set")
	}

	now := time.Now()
	s.mu.Lock()
	if meta, ok := s.meta[key]; ok {
		meta.Size = size
		meta.CreatedAt = now
		meta.LastAccess = now
		meta.TTL = ttl
	} else {
		s.seq++
		s.meta[key] = &types.EntryMeta{
			Key:        key,
			Size:       size,
			CreatedAt:  now,
			LastAccess: now,
			TTL:        ttl,
			Seq:        s.seq,
		}
	}
	s.mu.Unlock()
	return nil
}

// Delete removes the object and its index record.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.deleteObject(ctx, key); err != nil {
		return err
	}
	s.forgetMeta(key)
	return nil
}

// Contains checks the local index; a HEAD round trip per warming probe would
// defeat the point of the index.
func (s *S3) Contains(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.meta[key]
	if !ok {
		return false
	}
	return !meta.Expired(time.Now())
}

// Keys returns the locally indexed keys.
func (s *S3) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.meta))
	for key := range s.meta {
		keys = append(keys, key)
	}
	return keys
}

// RemoveExpired deletes objects whose TTL elapsed before now.
func (s *S3) RemoveExpired(now time.Time) int {
	s.mu.Lock()
	var expired []string
	for key, meta := range s.meta {
		if meta.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(s.meta, key)
	}
	s.mu.Unlock()

	for _, key := range expired {
		if err := s.deleteObject(context.Background(), key); err != nil {
			s.logger.Warn("expired object delete failed", "tier", s.name, "error", err)
		}
	}
	return len(expired)
}

// Len returns the number of locally indexed entries.
func (s *S3) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meta)
}

// Stats returns occupancy and eviction counters for this store.
func (s *S3) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := types.CacheStats{
		Evictions: s.evictions,
		Size:      int64(len(s.meta)),
		Capacity:  int64(s.maxSize),
	}
	if s.maxSize > 0 {
		st.Utilization = float64(len(s.meta)) / float64(s.maxSize)
	}
	return st
}

// Close releases nothing; the shared HTTP client belongs to the SDK.
func (s *S3) Close() error { return nil }

func (s *S3) snapshotMetaLocked() []types.EntryMeta {
	out := make([]types.EntryMeta, 0, len(s.meta))
	for _, meta := range s.meta {
		out = append(out, *meta)
	}
	return out
}

func (s *S3) evictBatch(ctx context.Context, keys []string) {
	objects := make([]s3types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = s3types.ObjectIdentifier{Key: aws.String(s.objectKey(key))}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err := s.client.DeleteObjects(opCtx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		s.logger.Warn("s3 eviction failed", "tier", s.name, "count", len(keys), "error", err)
	}

	s.mu.Lock()
	for _, key := range keys {
		delete(s.meta, key)
	}
	s.evictions += uint64(len(keys))
	s.mu.Unlock()
	s.onEvict(len(keys))
}

func (s *S3) deleteObject(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err := s.client.DeleteObject(opCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return s.backendError(err, "delete")
	}
	return nil
}

func (s *S3) forgetMeta(key string) {
	s.mu.Lock()
	delete(s.meta, key)
	s.mu.Unlock()
}

func (s *S3) backendError(err error, op string) error {
	code := cacheerrors.ErrCodeBackendUnavailable
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = cacheerrors.ErrCodeConnectionTimeout
	}
	return cacheerrors.WrapError(err, code, "s3 operation failed").
		WithComponent(s.name).WithOperation(op)
}
