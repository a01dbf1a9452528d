package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"shelltask/pkg/resilience"
)

// S3API is the subset of the S3 client used by S3OutputStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3OutputStore stores run output in S3-compatible storage.
type S3OutputStore struct {
	client     S3API
	bucket     string
	prefix     string
	localCache string
	breaker    *resilience.Breaker
	now        func() time.Time
}

// S3OutputStoreConfig holds S3 configuration
type S3OutputStoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "runs/output/"
	Region          string
	Endpoint        string // for MinIO or other S3-compatible servers
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3OutputStore builds an AWS client from cfg and wraps it.
func NewS3OutputStore(ctx context.Context, cfg S3OutputStoreConfig, log *zap.Logger) (*S3OutputStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO
		})
	}

	return NewS3OutputStoreWithClient(s3.NewFromConfig(awsCfg, clientOpts...), cfg, log)
}

// NewS3OutputStoreWithClient wraps an existing client.
func NewS3OutputStoreWithClient(client S3API, cfg S3OutputStoreConfig, log *zap.Logger) (*S3OutputStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 output store: bucket is required")
	}
	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3OutputStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
		breaker:    resilience.NewBreaker("s3:"+cfg.Bucket, resilience.DefaultBreakerConfig(), log),
		now:        time.Now,
	}, nil
}

// Store uploads output and returns an s3:// reference.
func (s *S3OutputStore) Store(ctx context.Context, runID string, output []byte) (string, error) {
	key := s.buildKey(runID)

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(output),
			ContentType: aws.String("text/plain"),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload output to S3: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, runID+".log"), output, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches output by s3:// reference or bare key.
func (s *S3OutputStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		if data, err := os.ReadFile(filepath.Join(s.localCache, filepath.Base(key))); err == nil {
			return data, nil
		}
	}

	var data []byte
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get output from S3: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, filepath.Base(key)), data, 0644)
	}
	return data, nil
}

func (s *S3OutputStore) buildKey(runID string) string {
	return fmt.Sprintf("%s%s/%s.log", s.prefix, s.now().UTC().Format("2006/01/02"), runID)
}

func (s *S3OutputStore) extractKey(reference string) string {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return reference
	}
	if _, key, found := strings.Cut(rest, "/"); found {
		return key
	}
	return reference
}

// LocalOutputStore stores output on the local filesystem.
type LocalOutputStore struct {
	basePath string
}

// NewLocalOutputStore creates basePath if needed.
func NewLocalOutputStore(basePath string) (*LocalOutputStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &LocalOutputStore{basePath: basePath}, nil
}

// Store writes output to <basePath>/<runID>.log.
func (l *LocalOutputStore) Store(_ context.Context, runID string, output []byte) (string, error) {
	path := filepath.Join(l.basePath, runID+".log")
	if err := os.WriteFile(path, output, 0644); err != nil {
		return "", fmt.Errorf("failed to write output: %w", err)
	}
	return path, nil
}

// Retrieve reads output written by Store. References outside basePath are
// rejected.
func (l *LocalOutputStore) Retrieve(_ context.Context, reference string) ([]byte, error) {
	rel, err := filepath.Rel(l.basePath, filepath.Clean(reference))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
	}

	data, err := os.ReadFile(filepath.Join(l.basePath, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	return data, err
}
