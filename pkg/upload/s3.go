package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
)

const (
	defaultPrefix   = "reports"
	contentTypeCSV  = "text/csv; charset=utf-8"
	writeTestObject = ".buildstatsoor-write-test"
)

// putObjectAPI is the part of *s3.Client the uploader calls.
type putObjectAPI interface {
	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client putObjectAPI
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) Uploader {
	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("buildstatsoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(writeTestObject),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload renders snap as CSV and stores it at {prefix}/{day}/{table}.csv.
func (u *s3Uploader) Upload(ctx context.Context, day string, snap *sheet.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := snap.WriteCSV(&buf); err != nil {
		return "", fmt.Errorf("rendering %q as csv: %w", snap.Name, err)
	}

	key := u.resolvePrefix(day) + "/" + objectName(snap.Name) + ".csv"
	size := buf.Len()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String(contentTypeCSV),
		ContentLength: aws.Int64(int64(size)),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("uploading %q to s3://%s/%s: %w", snap.Name, u.cfg.Bucket, key, err)
	}

	u.log.WithFields(logrus.Fields{
		"table":  snap.Name,
		"key":    key,
		"bucket": u.cfg.Bucket,
		"size":   units.HumanSize(float64(size)),
	}).Info("Table snapshot uploaded")

	return key, nil
}

// resolvePrefix builds the S3 key prefix for a report day.
func (u *s3Uploader) resolvePrefix(day string) string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return strings.TrimRight(prefix, "/") + "/" + day
}

// objectName turns a table name into a lower-case, dash separated key
// segment, e.g. "Build Avg Time" -> "build-avg-time".
func objectName(table string) string {
	var b strings.Builder

	dash := false

	for _, r := range strings.ToLower(table) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
			b.WriteRune(r)

			dash = false

			continue
		}

		if !dash && b.Len() > 0 {
			b.WriteByte('-')

			dash = true
		}
	}

	name := strings.TrimRight(b.String(), "-")
	if name == "" {
		return "table"
	}

	return name
}
