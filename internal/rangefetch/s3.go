package rangefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"archimap/pkg/models"
)

// S3API is the subset of the S3 client the source uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source reads the database object with ranged GetObject calls. Reads are
// pinned to the ETag seen by Size.
type S3Source struct {
	Bucket string
	Key    string
	Client S3API

	mu   sync.Mutex
	etag string
	size int64
}

// NewS3Source builds a source for an s3://bucket/key URI using the default
// AWS credential chain.
func NewS3Source(ctx context.Context, uri, region string) (*S3Source, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Source{Bucket: bucket, Key: key, Client: s3.NewFromConfig(cfg)}, nil
}

func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("rangefetch: not an s3 uri: %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("rangefetch: s3 uri needs bucket and key: %q", uri)
	}
	return bucket, key, nil
}

func (s *S3Source) Name() string { return "s3://" + s.Bucket + "/" + s.Key }

func (s *S3Source) Size(ctx context.Context) (int64, error) {
	out, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	size := aws.ToInt64(out.ContentLength)
	s.mu.Lock()
	s.etag = aws.ToString(out.ETag)
	s.size = size
	s.mu.Unlock()
	return size, nil
}

func (s *S3Source) ReadRange(ctx context.Context, off, n int64) ([]byte, error) {
	s.mu.Lock()
	etag, size := s.etag, s.size
	s.mu.Unlock()

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	}
	if etag != "" {
		in.IfMatch = aws.String(etag)
	}
	out, err := s.Client.GetObject(ctx, in)
	if err != nil {
		var se *StatusError
		if errors.As(s.wrap(err), &se) {
			switch se.Code {
			case http.StatusRequestedRangeNotSatisfiable:
				return nil, nil
			case http.StatusPreconditionFailed:
				return nil, fmt.Errorf("%w: %s etag is no longer %s", ErrSourceChanged, s.Name(), etag)
			}
		}
		return nil, s.wrap(err)
	}
	defer out.Body.Close()

	if out.ContentRange != nil && size > 0 {
		if _, _, total, err := parseContentRange(*out.ContentRange); err == nil && total >= 0 && total != size {
			return nil, fmt.Errorf("%w: %s is %d bytes, was %d", ErrSourceChanged, s.Name(), total, size)
		}
	}

	body, err := io.ReadAll(io.LimitReader(out.Body, n))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Name(), err)
	}
	return body, nil
}

// Info reads database-info.json stored next to the database object.
func (s *S3Source) Info(ctx context.Context) (models.DatabaseInfo, error) {
	var info models.DatabaseInfo

	key := path.Join(path.Dir(s.Key), "database-info.json")
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var se *StatusError
		if errors.As(s.wrap(err), &se) && se.Code == http.StatusNotFound {
			return info, ErrNoInfo
		}
		return info, s.wrap(err)
	}
	defer out.Body.Close()

	if err := json.NewDecoder(out.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("decode s3://%s/%s: %w", s.Bucket, key, err)
	}
	return info, nil
}

// wrap maps SDK response errors onto StatusError so the retry loop can
// classify them.
func (s *S3Source) wrap(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return &StatusError{Code: re.HTTPStatusCode(), URL: s.Name()}
	}
	return fmt.Errorf("s3 %s: %w", s.Name(), err)
}
