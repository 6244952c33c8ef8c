package pagecfg

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/bannerpage/internal/style"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// SSMAPI is the slice of *ssm.Client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3API is the slice of *s3.Client used here.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ResolveSecretFromSSM reads the access-control header value from a
// SecureString parameter.
func ResolveSecretFromSSM(ctx context.Context, client SSMAPI, param string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return v, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", xerrors.Wrapf(err, "parse %q", uri)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", xerrors.Newf("not an s3 uri: %q", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", xerrors.Newf("s3 uri %q has no key", uri)
	}
	return u.Host, key, nil
}

// FetchStyleFromS3 downloads a style sheet, normalizes it and validates it.
func FetchStyleFromS3(ctx context.Context, client S3API, uri string) (string, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get S3 object %s", uri)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, style.MaxSize+1))
	if err != nil {
		return "", xerrors.Wrapf(err, "read S3 object %s", uri)
	}
	css := style.Normalize(string(b))
	if err := style.Validate(css); err != nil {
		return "", xerrors.Wrapf(err, "style sheet %s", uri)
	}
	return css, nil
}

// Overlay fetches the remote parts of the settings when configured. Empty
// arguments leave the corresponding field alone.
type Overlay struct {
	SSM      SSMAPI
	SSMParam string
	S3       S3API
	StyleURI string
}

func (o Overlay) Apply(ctx context.Context, s Settings) (Settings, error) {
	if o.SSMParam != "" && o.SSM != nil {
		v, err := ResolveSecretFromSSM(ctx, o.SSM, o.SSMParam)
		if err != nil {
			return Settings{}, err
		}
		s.Secret.HeaderValue = v
	}
	if o.StyleURI != "" && o.S3 != nil {
		css, err := FetchStyleFromS3(ctx, o.S3, o.StyleURI)
		if err != nil {
			return Settings{}, err
		}
		s.Style = css
		s.StyleSource = SourceS3
	}
	if err := s.Validate(); err != nil {
		return Settings{}, xerrors.Wrap(err, "invalid page settings")
	}
	return s, nil
}
