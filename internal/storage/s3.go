package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/franz/speech-corpus/internal/util"
)

// DefaultBranch is the branch whose name is left out of the dataset name
const DefaultBranch = "main"

// S3Options configures a versioned object store reached through its S3
// gateway. The repository is the bucket and the branch is the key prefix.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Repository      string
	Branch          string
	Retry           *util.RetryConfig
}

// S3API is the subset of the S3 client used by S3
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 is a dataset stored on a branch of an object store repository
type S3 struct {
	client     S3API
	repository string
	branch     string
	retry      *util.RetryConfig
}

// NewS3 builds the S3 client from opts
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Repository == "" {
		return nil, fmt.Errorf("%w: s3 repository is required", util.ErrInvalidConfig)
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})
	return NewS3WithClient(client, opts), nil
}

// NewS3WithClient wraps an existing client
func NewS3WithClient(client S3API, opts S3Options) *S3 {
	branch := opts.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	retry := opts.Retry
	if retry == nil {
		retry = util.DefaultRetryConfig()
	}
	return &S3{client: client, repository: opts.Repository, branch: branch, retry: retry}
}

// Name is the repository, suffixed with the branch unless it is the default
func (s *S3) Name() string {
	if s.branch == DefaultBranch {
		return s.repository
	}
	return s.repository + "_" + s.branch
}

// Exists reports whether the object for p exists
func (s *S3) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.repository),
		Key:    aws.String(s.key(p)),
	})
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", s.Resolve(p), err)
}

// Resolve returns the s3 URI of p
func (s *S3) Resolve(p string) string {
	return "s3://" + s.repository + "/" + s.key(p)
}

// Open downloads p into memory
func (s *S3) Open(ctx context.Context, p string) (io.ReadSeekCloser, error) {
	data, err := util.RetryWithBackoff(ctx, s.retry, func() ([]byte, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.repository),
			Key:    aws.String(s.key(p)),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	}, "get "+s.Resolve(p))
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("%s: %w", p, util.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", s.Resolve(p), err)
	}
	return nopSeekCloser{bytes.NewReader(data)}, nil
}

// Create buffers the content and uploads it on Close. Object stores have
// no directories, so there is nothing to create up front.
func (s *S3) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, s: s, key: s.key(p)}, nil
}

func (s *S3) key(p string) string {
	return path.Join(s.branch, Clean(p))
}

func isMissing(err error) bool {
	var nf *types.NotFound
	var nk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nk)
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

type s3Writer struct {
	ctx    context.Context
	s      *S3
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed object writer")
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	data := w.buf.Bytes()
	return util.Retry(w.ctx, w.s.retry, func() error {
		_, err := w.s.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.s.repository),
			Key:    aws.String(w.key),
			Body:   bytes.NewReader(data),
		})
		return err
	}, "put s3://"+w.s.repository+"/"+w.key)
}
