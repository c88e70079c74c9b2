package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"cadvault/internal/config"
)

// Environment variables holding static S3 credentials. When unset the
// default AWS credential chain applies.
const (
	envS3AccessKey = "CV_S3_ACCESS_KEY"
	envS3SecretKey = "CV_S3_SECRET_KEY"
)

// S3Vault stores content as objects under <prefix>/content/<ab>/<checksum>.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault creates a vault backed by an existing S3 client.
func NewS3Vault(name, bucket, prefix string, client *s3.Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewS3VaultFromConfig loads AWS configuration and creates an S3Vault. A
// custom endpoint switches to path-style addressing for MinIO and similar.
func NewS3VaultFromConfig(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if ak, sk := os.Getenv(envS3AccessKey), os.Getenv(envS3SecretKey); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func (v *S3Vault) key(checksum string) string {
	return path.Join(v.prefix, "content", contentKey(checksum))
}

// PutContent uploads content unless the object already exists.
func (v *S3Vault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}

	exists, err := v.HasContent(ctx, checksum)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(checksum)),
		Body:   &sizedReader{r: r, want: size},
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", checksum, err)
	}
	return nil
}

// GetContent streams the object for checksum into w.
func (v *S3Vault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(checksum)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %s", ErrContentNotFound, checksum)
		}
		return fmt.Errorf("downloading %s: %w", checksum, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", checksum, err)
	}
	return nil
}

// HasContent issues a HEAD request for checksum.
func (v *S3Vault) HasContent(ctx context.Context, checksum string) (bool, error) {
	if err := validChecksum(checksum); err != nil {
		return false, err
	}
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(checksum)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", checksum, err)
	}
	return true, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

// sizedReader fails the read that reaches EOF if the byte count differs
// from want, which aborts the upload instead of storing a short object.
type sizedReader struct {
	r    io.Reader
	want int64
	n    int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if errors.Is(err, io.EOF) && s.n != s.want {
		return n, fmt.Errorf("size mismatch: expected %d bytes, got %d", s.want, s.n)
	}
	return n, err
}

var _ Vault = (*S3Vault)(nil)
