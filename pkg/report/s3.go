package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/sirupsen/logrus"
)

const defaultS3Prefix = "onboarding/status"

// objectPutter is the subset of the S3 client used for publishing.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer writes objects to an S3-compatible bucket.
type S3Writer struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client objectPutter
}

var _ Writer = (*S3Writer)(nil)

// NewS3Writer creates an S3Writer from the given configuration.
func NewS3Writer(log logrus.FieldLogger, cfg *config.S3Config) *S3Writer {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
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
		},
	}

	return &S3Writer{
		log:    log.WithField("component", "report-s3"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Name returns the destination name.
func (w *S3Writer) Name() string {
	return "s3://" + w.cfg.Bucket
}

// Write uploads data under the configured prefix.
func (w *S3Writer) Write(ctx context.Context, name string, data []byte) error {
	key := w.key(name)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}

	if w.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(w.cfg.StorageClass)
	}

	w.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": w.cfg.Bucket,
	}).Debug("Uploading snapshot")

	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

func (w *S3Writer) key(name string) string {
	prefix := w.cfg.Prefix
	if prefix == "" {
		prefix = defaultS3Prefix
	}

	return strings.Trim(prefix, "/") + "/" + name
}
