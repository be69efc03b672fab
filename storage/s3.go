package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"catcare.com/client/logger"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

type S3Config struct {
	BucketName  string `envconfig:"CATCARE_S3_BUCKET" required:"true"`
	Region      string `envconfig:"CATCARE_S3_REGION" default:"ap-northeast-2"`
	Endpoint    string `envconfig:"CATCARE_S3_ENDPOINT" default:""`
	AccessKeyID string `envconfig:"CATCARE_S3_ACCESS_KEY_ID" default:""`
	AccessKey   string `envconfig:"CATCARE_S3_SECRET_ACCESS_KEY" default:""`
	KeyPrefix   string `envconfig:"CATCARE_S3_KEY_PREFIX" default:"diagnosis/"`
}

var s3ClientLogger = logger.NewLogger("S3 uploader")
var sdkLogger = logger.NewLogger("S3-SDK")

// S3Uploader writes images straight into a bucket. It is meant for operators
// that hold bucket credentials; regular users go through PresignedUploader.
type S3Uploader struct {
	config S3Config

	mu   sync.Mutex
	sess *session.Session
}

func ReadS3Config() (S3Config, error) {
	var config S3Config
	if err := envconfig.Process("", &config); err != nil {
		s3ClientLogger.Err(err).Msg("Got error while processing environment")
		return config, err
	}
	return config, nil
}

func NewS3Uploader(config S3Config) (*S3Uploader, error) {
	if config.BucketName == "" {
		return nil, errors.New("s3 bucket name is empty")
	}
	uploader := &S3Uploader{config: config}
	if _, err := uploader.acquireNewSession(); err != nil {
		return nil, err
	}
	return uploader, nil
}

func (uploader *S3Uploader) Upload(ctx context.Context, fileName, contentType string, body io.Reader) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", errors.New("file name is empty")
	}
	if contentType == "" {
		contentType = ContentType(fileName)
	}
	key := uploader.config.KeyPrefix + uuid.NewString() + "-" + fileName
	params := &s3manager.UploadInput{
		Bucket:      aws.String(uploader.config.BucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		ACL:         aws.String("public-read"),
	}

	output, err := uploader.upload(ctx, uploader.session(), params)
	if err == nil {
		return output.Location, nil
	}
	if !expired(err) {
		return "", err
	}
	// only a seekable body can be sent twice
	seeker, ok := body.(io.Seeker)
	if !ok {
		return "", err
	}
	if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr != nil {
		return "", err
	}
	s3ClientLogger.Info().Err(err).Msg("Credentials expired, refreshing S3 session")
	sess, err := uploader.acquireNewSession()
	if err != nil {
		return "", err
	}
	output, err = uploader.upload(ctx, sess, params)
	if err != nil {
		return "", err
	}
	return output.Location, nil
}

func (uploader *S3Uploader) upload(ctx context.Context, sess *session.Session, params *s3manager.UploadInput) (*s3manager.UploadOutput, error) {
	uploadLogger := s3ClientLogger.With().
		Str("key", *params.Key).
		Str("bucket", *params.Bucket).Logger()
	sdkLog := sdkLogger.With().
		Str("key", *params.Key).
		Str("bucket", *params.Bucket).Logger()

	s3Uploader := s3manager.NewUploader(sess.Copy(&aws.Config{Logger: getLogger(sdkLog)}))
	uploadLogger.Debug().Msg("Uploading the file")
	output, err := s3Uploader.UploadWithContext(ctx, params)
	if err != nil {
		uploadLogger.Error().Err(err).Msg("Failed to upload file")
		return nil, err
	}
	return output, nil
}

func (uploader *S3Uploader) session() *session.Session {
	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	return uploader.sess
}

func (uploader *S3Uploader) acquireNewSession() (*session.Session, error) {
	sess, err := session.NewSession(uploader.createConfig())
	if err != nil {
		s3ClientLogger.Error().Err(err).Msg("Could not initialize S3 session")
		return nil, err
	}
	uploader.mu.Lock()
	uploader.sess = sess
	uploader.mu.Unlock()
	return sess, nil
}

func (uploader *S3Uploader) createConfig() *aws.Config {
	cfg := aws.NewConfig().
		WithRegion(uploader.config.Region).
		WithMaxRetries(4)
	if uploader.config.AccessKeyID != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(
			uploader.config.AccessKeyID,
			uploader.config.AccessKey,
			""))
	}
	if uploader.config.Endpoint != "" {
		cfg = cfg.WithEndpoint(uploader.config.Endpoint).
			WithS3ForcePathStyle(true).
			WithDisableSSL(strings.HasPrefix(uploader.config.Endpoint, "http://"))
	}
	return cfg
}

func expired(err error) bool {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return false
	}
	switch awsErr.Code() {
	case "ExpiredToken", "ExpiredTokenException", "RequestExpired":
		return true
	}
	return false
}

type s3Logger struct {
	uploadLogger zerolog.Logger
}

func getLogger(uploadLogger zerolog.Logger) *s3Logger {
	return &s3Logger{uploadLogger}
}

func (logger *s3Logger) Log(v ...interface{}) {
	logger.uploadLogger.Debug().Msg(fmt.Sprint(v...))
}
