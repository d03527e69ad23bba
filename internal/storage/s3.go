package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// TempPrefix names files written by DownloadToTemp.
const TempPrefix = "wsi-s3-"

// S3Client archives results and fetches s3:// slide refs.
type S3Client struct {
	client     *s3.Client
	bucketName string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// Options configure NewS3Client. Endpoint and static keys are for
// S3-compatible stores such as MinIO; empty values use the AWS defaults.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// FileMetadata represents metadata about a stored object
type FileMetadata struct {
	ContentType      string            `json:"content_type"`
	Size             int64             `json:"size"`
	Metadata         map[string]string `json:"metadata"`
	EncryptionFormat string            `json:"encryption_format,omitempty"`
}

func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Client{
		client:     cli,
		bucketName: opts.Bucket,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli, func(d *manager.Downloader) {
			d.PartSize = 16 << 20
			d.Concurrency = 4
		}),
	}, nil
}

// Bucket returns the archive bucket.
func (s *S3Client) Bucket() string { return s.bucketName }

// Ping checks the archive bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(u string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", u)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 url needs bucket and key: %q", u)
	}
	return bucket, key, nil
}

// DownloadToTemp fetches s3url into a temp file named wsi-s3-*<ext> and
// returns its path. Slides are stored unencrypted and copied as-is.
func (s *S3Client) DownloadToTemp(ctx context.Context, s3url string) (string, error) {
	bucket, key, err := ParseS3URL(s3url)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", TempPrefix+"*"+strings.ToLower(path.Ext(key)))
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(f.Name()); rmErr != nil {
			log.Warn().Err(rmErr).Str("file", f.Name()).Msg("failed to remove partial download")
		}
		return "", fmt.Errorf("download %s: %w", s3url, err)
	}
	log.Info().Str("url", s3url).Int64("bytes", n).Str("file", f.Name()).Msg("downloaded slide from S3")
	return f.Name(), nil
}

// Upload stores data under key in the archive bucket, encrypting it with
// the 3NCR0PTD format when password is set.
func (s *S3Client) Upload(ctx context.Context, key string, data []byte, contentType string, meta map[string]string, password string) error {
	body := data
	s3Meta := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		s3Meta[strings.ToLower(k)] = v
	}
	if password != "" {
		enc, err := EncryptCBC(data, password)
		if err != nil {
			return fmt.Errorf("failed to encrypt data: %w", err)
		}
		body = enc
		s3Meta["encrypted"] = "true"
		s3Meta["encryption-format"] = FormatCBC
		contentType = "application/octet-stream"
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    s3Meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Debug().Str("key", key).Int("bytes", len(body)).Bool("encrypted", password != "").Msg("uploaded object to S3")
	return nil
}

// Download reads key back from the archive bucket, decrypting when the
// object carries a known magic.
func (s *S3Client) Download(ctx context.Context, key, password string) ([]byte, *FileMetadata, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	md := &FileMetadata{Metadata: make(map[string]string)}
	for k, v := range result.Metadata {
		md.Metadata[strings.ToLower(k)] = v
	}
	if result.ContentType != nil {
		md.ContentType = *result.ContentType
	}
	if result.ContentLength != nil {
		md.Size = *result.ContentLength
	}

	if password == "" && Encrypted(raw) {
		return nil, nil, errors.New("object is encrypted and no password is configured")
	}
	data, format, err := Decrypt(raw, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	md.EncryptionFormat = format
	return data, md, nil
}

// ArchiveKey joins prefix, id and name into an object key.
func ArchiveKey(prefix, id, name string) string {
	if prefix == "" {
		return id + "/" + name
	}
	return prefix + "/" + id + "/" + name
}
