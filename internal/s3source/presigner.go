// Package s3source signs download URLs locally with AWS credentials instead
// of asking Synapse for them. It serves files in S3 buckets the caller can
// read directly, such as project-owned storage locations.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

const DefaultExpires = 15 * time.Minute

var ErrNotS3Handle = errors.New("s3source: file handle is not stored in s3")

// HandleResolver looks up where a file handle's bytes live.
type HandleResolver interface {
	GetFileHandleForDownload(ctx context.Context, fileHandleID, objectID string, objectType utils.ObjectType) (synapse.FileHandleDownload, error)
}

type Options struct {
	Profile string
	Region  string
	// Static credentials take precedence over the profile when set.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Duration
}

type location struct {
	fileName string
	bucket   string
	key      string
}

type Presigner struct {
	resolver HandleResolver
	client   *s3.PresignClient
	expires  time.Duration

	mu        sync.Mutex
	locations map[string]location
}

// New loads the AWS configuration the way the SDK does by default, then
// narrows it with the profile, region and static credentials in opts.
func New(ctx context.Context, resolver HandleResolver, opts Options) (*Presigner, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryMode("adaptive"),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return NewWithClient(resolver, s3.NewFromConfig(cfg), opts.Expires), nil
}

func NewWithClient(resolver HandleResolver, client *s3.Client, expires time.Duration) *Presigner {
	if expires <= 0 {
		expires = DefaultExpires
	}
	return &Presigner{
		resolver:  resolver,
		client:    s3.NewPresignClient(client),
		expires:   expires,
		locations: make(map[string]location),
	}
}

// FetchURL presigns a GET for the object behind req. The handle lookup runs
// once per file handle; later refreshes only re-sign.
func (p *Presigner) FetchURL(ctx context.Context, req utils.DownloadRequest) (string, string, error) {
	loc, err := p.locate(ctx, req)
	if err != nil {
		return "", "", err
	}
	signed, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return "", "", fmt.Errorf("error presigning s3://%s/%s: %v", loc.bucket, loc.key, err)
	}
	log.Debug().Str("op", "s3source/presigner").Msgf("signed s3://%s/%s for %s", loc.bucket, loc.key, p.expires)
	return loc.fileName, signed.URL, nil
}

func (p *Presigner) locate(ctx context.Context, req utils.DownloadRequest) (location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc, ok := p.locations[req.FileHandleID]; ok {
		return loc, nil
	}

	download, err := p.resolver.GetFileHandleForDownload(ctx, req.FileHandleID, req.ObjectID, req.ObjectType)
	if err != nil {
		return location{}, err
	}
	handle := download.FileHandle
	if handle.ConcreteType != synapse.S3FileHandleType || handle.BucketName == "" || handle.Key == "" {
		return location{}, fmt.Errorf("%w: file handle %s is %s", ErrNotS3Handle, req.FileHandleID, handle.ConcreteType)
	}
	loc := location{fileName: handle.FileName, bucket: handle.BucketName, key: handle.Key}
	p.locations[req.FileHandleID] = loc
	return loc, nil
}
