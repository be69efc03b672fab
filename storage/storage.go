// Package storage uploads eye images and returns the public URL that step 1
// of a diagnosis takes.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"catcare.com/client/apiclient"
	"catcare.com/client/logger"
	"github.com/rs/zerolog"
)

const PresignPath = "/storage/presigned-url"

type Uploader interface {
	Upload(ctx context.Context, fileName, contentType string, body io.Reader) (string, error)
}

type PresignedURL struct {
	PreSignedURL string `json:"preSignedUrl"`
	FileName     string `json:"fileName"`
	ContentType  string `json:"contentType"`
	ObjectURL    string `json:"objectUrl"`
}

type presignRequest struct {
	FileName string `json:"fileName"`
	Category string `json:"category,omitempty"`
}

// PresignedUploader asks the backend for a presigned URL and PUTs the image
// there. The storage host never sees the access token.
type PresignedUploader struct {
	api           *apiclient.Client
	httpClient    *http.Client
	category      string
	storageLogger zerolog.Logger
}

type Option func(*PresignedUploader)

func WithCategory(category string) Option {
	return func(u *PresignedUploader) { u.category = category }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(u *PresignedUploader) { u.httpClient = httpClient }
}

func NewPresignedUploader(api *apiclient.Client, opts ...Option) *PresignedUploader {
	u := &PresignedUploader{
		api:           api,
		httpClient:    &http.Client{},
		storageLogger: logger.NewLogger("Storage client"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *PresignedUploader) Presign(ctx context.Context, fileName string) (*PresignedURL, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, &apiclient.ValidationError{Field: "fileName", Message: "file name is empty"}
	}
	var result PresignedURL
	err := u.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   PresignPath,
		Body:   presignRequest{FileName: fileName, Category: u.category},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.PreSignedURL == "" {
		return nil, &apiclient.ServerError{StatusCode: http.StatusOK, Message: "backend returned no presigned url"}
	}
	return &result, nil
}

// Put uploads body to a presigned URL and returns the object URL, which is
// the presigned URL without its query.
func (u *PresignedUploader) Put(ctx context.Context, presignedURL, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-amz-acl", "public-read")
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(b))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return "", &apiclient.ServerError{StatusCode: resp.StatusCode, Code: "UPLOAD_FAILED", Message: message}
	}
	return stripQuery(presignedURL), nil
}

func (u *PresignedUploader) Upload(ctx context.Context, fileName, contentType string, body io.Reader) (string, error) {
	presigned, err := u.Presign(ctx, fileName)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = presigned.ContentType
	}
	if contentType == "" {
		contentType = ContentType(fileName)
	}
	objectURL, err := u.Put(ctx, presigned.PreSignedURL, contentType, body)
	if err != nil {
		return "", err
	}
	u.storageLogger.Info().Str("file_name", fileName).Str("object_url", objectURL).Msg("Image uploaded")
	return objectURL, nil
}

// ContentType guesses the MIME type from the file extension.
func ContentType(fileName string) string {
	if guessed := mime.TypeByExtension(strings.ToLower(path.Ext(fileName))); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}

func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
