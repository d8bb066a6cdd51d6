// Package backup stores export snapshots in an S3-compatible bucket so a
// device's data can be restored elsewhere.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/cryptox"
	"github.com/google/uuid"
)

// objectAPI is the part of *s3.Client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	Bucket string
	Region string
	// BaseEndpoint points the client at MinIO or another S3-compatible
	// service. Path-style addressing is used whenever it is set.
	BaseEndpoint string
	// AccessKey and SecretKey are optional; without them the SDK's default
	// credentials chain applies.
	AccessKey string
	SecretKey string
	// Passphrase, when set, seals every uploaded snapshot with cryptox.
	Passphrase string
}

// Object describes one stored snapshot.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type S3Store struct {
	client     objectAPI
	bucket     string
	passphrase []byte
	now        func() time.Time
}

func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket required", common.ErrValidation)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg.Bucket, cfg.Passphrase), nil
}

func newS3Store(client objectAPI, bucket, passphrase string) *S3Store {
	s := &S3Store{client: client, bucket: bucket, now: time.Now}
	if passphrase != "" {
		s.passphrase = []byte(passphrase)
	}
	return s
}

func ownerPrefix(owner string) string {
	return "exports/" + owner + "/"
}

// Upload stores p under a fresh key in owner's area and returns the key.
func (s *S3Store) Upload(ctx context.Context, owner string, p storage.ExportPayload) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("upload backup: %w", common.ErrAuth)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: encode backup: %v", common.ErrCodec, err)
	}

	ext, contentType := "json", "application/json"
	if s.passphrase != nil {
		if body, err = cryptox.Seal(body, s.passphrase); err != nil {
			return "", fmt.Errorf("seal backup: %w", err)
		}
		ext, contentType = "bin", "application/octet-stream"
	}

	d := s.now().UTC()
	key := fmt.Sprintf("%s%d/%02d/%02d/%s.%s", ownerPrefix(owner), d.Year(), d.Month(), d.Day(), uuid.New(), ext)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload backup: %w: %v", common.ErrUnavailable, err)
	}
	return key, nil
}

// Download fetches and decodes the snapshot stored under key. Keys outside
// owner's area are refused. Sealed snapshots need the passphrase they were
// uploaded with.
func (s *S3Store) Download(ctx context.Context, owner, key string) (storage.ExportPayload, error) {
	if owner == "" || !strings.HasPrefix(key, ownerPrefix(owner)) {
		return storage.ExportPayload{}, fmt.Errorf("download backup %s: %w", key, common.ErrAuth)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return storage.ExportPayload{}, fmt.Errorf("backup %s: %w", key, common.ErrNotFound)
		}
		return storage.ExportPayload{}, fmt.Errorf("download backup: %w: %v", common.ErrUnavailable, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return storage.ExportPayload{}, fmt.Errorf("download backup: %w: %v", common.ErrNetwork, err)
	}
	if cryptox.IsSealed(body) {
		if s.passphrase == nil {
			return storage.ExportPayload{}, fmt.Errorf("backup %s is encrypted, no passphrase configured: %w", key, common.ErrAuth)
		}
		if body, err = cryptox.Open(body, s.passphrase); err != nil {
			return storage.ExportPayload{}, fmt.Errorf("open backup %s: %w: %v", key, common.ErrAuth, err)
		}
	}

	var p storage.ExportPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return storage.ExportPayload{}, fmt.Errorf("%w: decode backup %s: %v", common.ErrCodec, key, err)
	}
	return p, nil
}

// List returns owner's snapshots, newest first.
func (s *S3Store) List(ctx context.Context, owner string) ([]Object, error) {
	if owner == "" {
		return nil, fmt.Errorf("list backups: %w", common.ErrAuth)
	}
	prefix := ownerPrefix(owner)

	var objects []Object
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list backups: %w: %v", common.ErrUnavailable, err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}

	sort.Slice(objects, func(i, j int) bool {
		if !objects[i].LastModified.Equal(objects[j].LastModified) {
			return objects[i].LastModified.After(objects[j].LastModified)
		}
		return objects[i].Key > objects[j].Key
	})
	return objects, nil
}
