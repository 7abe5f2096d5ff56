// internal/media/store.go
// Message media is uploaded straight to object storage with a presigned
// URL; messages then reference the public URL the upload produced.

package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
)

const defaultUploadExpiry = 15 * time.Minute

var (
	ErrContentTypeNotAllowed = apperr.BadRequest("content type is not allowed")
	ErrUploadsDisabled       = apperr.NotFound("media uploads are not configured")
)

// extensions lists the accepted content types
var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"audio/mpeg":      ".mp3",
	"audio/wav":       ".wav",
	"audio/ogg":       ".ogg",
	"audio/aac":       ".aac",
	"application/pdf": ".pdf",
	"application/zip": ".zip",
}

// Upload is a one-shot PUT target and the URL the object will be served from
type Upload struct {
	UploadURL   string    `json:"uploadUrl"`
	MediaURL    string    `json:"mediaUrl"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type UploadRequest struct {
	ContentType string `json:"contentType" validate:"required"`
}

// Store hands out upload targets and recognises the URLs it produced
type Store interface {
	PresignUpload(ctx context.Context, userID int64, contentType string) (*Upload, error)
	Allowed(rawURL string) bool
}

type S3Store struct {
	client     *s3.S3
	bucket     string
	publicBase string
	expiry     time.Duration
	now        func() time.Time
}

// NewS3Store serves objects from cdnURL when set, otherwise from the
// bucket's virtual-hosted endpoint
func NewS3Store(sess *session.Session, bucket, cdnURL string, expiry time.Duration) *S3Store {
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}

	base := strings.TrimRight(cdnURL, "/")
	if base == "" {
		region := aws.StringValue(sess.Config.Region)
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}

	return &S3Store{
		client:     s3.New(sess),
		bucket:     bucket,
		publicBase: base,
		expiry:     expiry,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *S3Store) PresignUpload(ctx context.Context, userID int64, contentType string) (*Upload, error) {
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		return nil, ErrContentTypeNotAllowed
	}

	now := s.now()
	key := fmt.Sprintf("messages/%d/%s/%s%s", userID, now.Format("2006/01/02"), uuid.New().String(), ext)

	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)

	uploadURL, err := req.Presign(s.expiry)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &Upload{
		UploadURL:   uploadURL,
		MediaURL:    s.publicBase + "/" + key,
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   now.Add(s.expiry),
	}, nil
}

// Allowed accepts only objects under the public base this store serves
func (s *S3Store) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.HasPrefix(rawURL, s.publicBase+"/messages/") && !strings.Contains(u.Path, "..")
}

// OpenPolicy is used without object storage: any absolute http(s) URL
type OpenPolicy struct{}

func (OpenPolicy) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
