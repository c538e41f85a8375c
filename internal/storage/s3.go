package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appconfig "github.com/xxxsen/retroscrape/internal/config"
)

const defaultRegion = "us-east-1"

type s3Client struct {
	api    *s3.Client
	bucket string
}

// NewS3Client connects to the bucket named in cfg. Host may point at any
// S3 compatible endpoint; a bare host name is reached over https.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	endpoint := normalizeEndpoint(cfg.Host)
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &s3Client{api: api, bucket: cfg.Bucket}, nil
}

func loadAWSConfig(ctx context.Context, cfg appconfig.S3Config) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func (c *s3Client) UploadFile(ctx context.Context, key, filePath string, contentType string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s for upload: %w", filePath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s for upload: %w", filePath, err)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath)))
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %s/%s: %w", c.bucket, key, err)
	}
	logutil.GetLogger(ctx).Debug("object uploaded", zap.String("key", key), zap.Int64("size", info.Size()))
	return nil
}

// DownloadToFile streams the object into a temp file next to destPath and
// renames it into place once complete.
func (c *s3Client) DownloadToFile(ctx context.Context, key, destPath string, fn ProgressFunc) error {
	res, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s/%s: %w", c.bucket, key, err)
	}
	defer res.Body.Close()

	written, err := writeAtomically(destPath, &progressReader{
		r:     res.Body,
		total: aws.ToInt64(res.ContentLength),
		fn:    fn,
	})
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("object downloaded", zap.String("key", key), zap.Int64("size", written))
	return nil
}

// Exists reports whether key is present in the bucket.
func (c *s3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s/%s: %w", c.bucket, key, err)
}

func writeAtomically(destPath string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("ensure dir of %s: %w", destPath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", destPath, err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", destPath, err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return 0, fmt.Errorf("move %s into place: %w", destPath, err)
	}
	return written, nil
}

type progressReader struct {
	r        io.Reader
	received int64
	total    int64
	fn       ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.received += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.received, p.total)
	}
	return n, err
}

func normalizeEndpoint(host string) string {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return host
	}
	return (&url.URL{Scheme: "https", Host: host}).String()
}
