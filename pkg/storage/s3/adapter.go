package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"selfvault/pkg/storage"
	"selfvault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// refCountKey is the user metadata entry holding a chunk's reference count.
const refCountKey = "refcount"

// Adapter keeps chunks as objects in one bucket. Reference counts travel
// in object metadata and are rewritten with a self copy.
type Adapter struct {
	client *s3.Client
	bucket string
}

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO needs path style: http://host:9000/bucket/key
		o.UsePathStyle = true
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket})
	if err != nil {
		_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket})
		if err != nil {
			logrus.WithError(err).WithField("bucket", cfg.Bucket).Warn("failed to ensure bucket exists")
		}
	}

	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// transformKey shards by prefix: "aabbcc..." -> "aa/bbcc..."
func (s *Adapter) transformKey(hash types.Hash) string {
	hashStr := string(hash)
	if len(hashStr) < 2 {
		return hashStr
	}
	return hashStr[:2] + "/" + hashStr[2:]
}

func (s *Adapter) Store(ctx context.Context, hash types.Hash, content []byte) error {
	count, err := s.Count(ctx, hash)
	if err != nil {
		return fmt.Errorf("s3 store existence check failed: %w", err)
	}
	if count > 0 {
		return s.setCount(ctx, hash, count+1)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.transformKey(hash)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{refCountKey: "1"},
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read body failed: %w", err)
	}
	return data, nil
}

func (s *Adapter) Delete(ctx context.Context, hash types.Hash) error {
	count, err := s.Count(ctx, hash)
	if err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	if count > 1 {
		return s.setCount(ctx, hash, count-1)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

// Count reads the reference count from object metadata. Objects written
// without one count as a single reference.
func (s *Adapter) Count(ctx context.Context, hash types.Hash) (int64, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("s3 head failed: %w", err)
	}
	raw, ok := resp.Metadata[refCountKey]
	if !ok {
		return 1, nil
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt reference count on %s: %w", hash.Short(), err)
	}
	return count, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	count, err := s.Count(ctx, hash)
	return count > 0, err
}

// setCount rewrites the metadata in place by copying the object onto itself.
func (s *Adapter) setCount(ctx context.Context, hash types.Hash, count int64) error {
	key := s.transformKey(hash)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		Metadata:          map[string]string{refCountKey: strconv.FormatInt(count, 10)},
		MetadataDirective: s3types.MetadataDirectiveReplace,
		ContentType:       aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 update reference count failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// Some S3 implementations only surface a generic 404.
	return strings.Contains(err.Error(), "404")
}
