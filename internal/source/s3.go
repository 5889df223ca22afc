package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client used for streaming reads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config controls how the S3 client is built.
//
//	UKBSQL_S3_REGION=<region> (default us-east-1)
//	UKBSQL_S3_ENDPOINT=<url> (optional, e.g. MinIO)
//	UKBSQL_S3_PATH_STYLE=true|false
//
// Credentials come from the default AWS chain.
type S3Config struct {
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	PathStyle bool   `json:"path_style,omitempty" yaml:"path_style,omitempty"`
}

// S3ConfigFromEnv reads S3Config from the process environment.
func S3ConfigFromEnv() S3Config {
	return S3Config{
		Region:    os.Getenv("UKBSQL_S3_REGION"),
		Endpoint:  os.Getenv("UKBSQL_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("UKBSQL_S3_PATH_STYLE"), "true"),
	}
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// ParseS3URL splits s3://bucket/key into bucket and key.
func ParseS3URL(name string) (bucket, key string, err error) {
	u, err := url.Parse(name)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", name, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%s is not an s3://bucket/key URL", name)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%s has no object key", name)
	}
	return u.Host, key, nil
}

func (o *Opener) openS3(ctx context.Context, name string) (*Input, error) {
	bucket, key, err := ParseS3URL(name)
	if err != nil {
		return nil, err
	}
	o.once.Do(func() {
		o.client, o.initErr = newS3Client(ctx, o.S3)
	})
	if o.initErr != nil {
		return nil, o.initErr
	}
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w. Please check you have the correct input", name, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return NewInput(name, out.Body, size), nil
}
