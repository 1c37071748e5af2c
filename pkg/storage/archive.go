package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"seatengine/pkg/resilience"
)

// Archive keeps immutable snapshots of computation runs (inputs and outputs) for audit.
type Archive interface {
	// Store saves a snapshot and returns a reference path/URL
	Store(ctx context.Context, electionID, runID string, snapshot []byte) (string, error)
	// Retrieve fetches a snapshot by reference
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3Archive stores run snapshots in S3-compatible storage
type S3Archive struct {
	client  *s3.Client
	bucket  string
	prefix  string
	breaker *resilience.CircuitBreaker
	now     func() time.Time
}

// S3ArchiveConfig holds S3 configuration
type S3ArchiveConfig struct {
	Bucket          string
	Prefix          string // e.g. "runs"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Archive creates a new S3-backed run archive
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
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
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3Archive{
		client:  s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		breaker: resilience.NewCircuitBreaker("archive-s3", resilience.DefaultCircuitBreakerConfig()),
		now:     time.Now,
	}, nil
}

// Store uploads a run snapshot. Keys are never reused: one object per run.
func (s *S3Archive) Store(ctx context.Context, electionID, runID string, snapshot []byte) (string, error) {
	key := archiveKey(s.prefix, s.now(), electionID, runID)

	err := s.breaker.Execute(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(snapshot),
			ContentType: aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload run snapshot to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches a snapshot from S3
func (s *S3Archive) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := extractS3Key(reference)

	var data []byte
	err := s.breaker.Execute(ctx, func() error {
		output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer output.Body.Close()
		data, err = io.ReadAll(output.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get run snapshot from S3: %w", err)
	}
	return data, nil
}

// Breaker exposes the circuit breaker guarding the bucket.
func (s *S3Archive) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

func archiveKey(prefix string, at time.Time, electionID, runID string) string {
	key := fmt.Sprintf("%s/%s/%s.json", at.UTC().Format("2006/01/02"), electionID, runID)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// extractS3Key strips the s3://bucket/ part of a reference.
func extractS3Key(reference string) string {
	if rest, ok := strings.CutPrefix(reference, "s3://"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return rest[i+1:]
		}
	}
	return reference
}

// LocalArchive stores snapshots on the local filesystem (for development/single-node)
type LocalArchive struct {
	basePath string
	now      func() time.Time
}

// NewLocalArchive creates a local filesystem archive
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath, now: time.Now}, nil
}

// Store writes a snapshot below basePath, refusing to overwrite an existing one.
func (l *LocalArchive) Store(_ context.Context, electionID, runID string, snapshot []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.FromSlash(archiveKey("", l.now(), electionID, runID)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: snapshot %s", ErrConflict, path)
		}
		return "", fmt.Errorf("failed to write run snapshot: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(snapshot); err != nil {
		return "", fmt.Errorf("failed to write run snapshot: %w", err)
	}
	return path, nil
}

// Retrieve reads a snapshot from the local filesystem
func (l *LocalArchive) Retrieve(_ context.Context, reference string) ([]byte, error) {
	data, err := os.ReadFile(reference)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}
