package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config selects an AWS region and the credentials to use. Static keys
// take precedence over a profile from the shared credentials file; with
// neither, the default credential chain applies. Endpoint overrides the AWS
// endpoint for S3-compatible services and switches to path-style addressing.
type S3Config struct {
	Region    string
	Profile   string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func s3ConfigFromURL(u *url.URL) S3Config {
	q := u.Query()
	cfg := S3Config{
		Region:   u.Host,
		Profile:  q.Get("profile"),
		Endpoint: q.Get("endpoint"),
	}
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}
	return cfg
}

// S3Store is a BlobStore backed by an AWS S3 bucket.
type S3Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Store creates a session for cfg and checks that the bucket is
// reachable with the configured credentials. Unlike NewMinioStore it never
// creates the bucket.
func NewS3Store(ctx context.Context, cfg S3Config, bucket string) (*S3Store, error) {
	if cfg.Region == "" {
		return nil, errors.New("s3 connection string must name a region")
	}

	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	switch {
	case cfg.AccessKey != "":
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	case cfg.Profile != "":
		awsCfg.Credentials = credentials.NewSharedCredentials("", cfg.Profile)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	s := &S3Store{
		bucket:   bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}

	// The session is built offline; this is the first request to AWS.
	_, err = s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}

	return s, nil
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var names []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			names = append(names, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list objects in %q: %w", s.bucket, err)
	}
	return names, nil
}

func (s *S3Store) ReadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, wrapAWSError(name, err)
	}
	return output.Body, nil
}

func (s *S3Store) WriteFromLocalFile(ctx context.Context, name string, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", name, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	// DeleteObject succeeds for missing keys, so check first.
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return wrapAWSError(name, err)
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("remove object %q: %w", name, err)
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func wrapAWSError(name string, err error) error {
	if rfErr, ok := err.(awserr.RequestFailure); ok {
		if rfErr.StatusCode() == http.StatusNotFound {
			return fmt.Errorf("%q: %w", name, ErrNotFound)
		}
	}
	if aErr, ok := err.(awserr.Error); ok {
		if aErr.Code() == s3.ErrCodeNoSuchKey || strings.EqualFold(aErr.Code(), "NotFound") {
			return fmt.Errorf("%q: %w", name, ErrNotFound)
		}
	}
	return fmt.Errorf("%q: %w", name, err)
}
