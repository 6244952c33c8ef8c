package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/bannerpage/internal/cfg"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// settingsLoader builds Settings the same way at startup and on reload.
type settingsLoader struct {
	path    string
	overlay pagecfg.Overlay
}

func newSettingsLoader(ctx context.Context, conf cfg.App) (*settingsLoader, error) {
	l := &settingsLoader{path: conf.PageConfig}
	if conf.SecretSSMParam == "" && conf.StyleS3URI == "" {
		return l, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}
	l.overlay = pagecfg.Overlay{SSMParam: conf.SecretSSMParam, StyleURI: conf.StyleS3URI}
	if conf.SecretSSMParam != "" {
		l.overlay.SSM = ssm.NewFromConfig(awsCfg)
	}
	if conf.StyleS3URI != "" {
		l.overlay.S3 = s3.NewFromConfig(awsCfg)
	}
	return l, nil
}

func (l *settingsLoader) load(ctx context.Context) (pagecfg.Settings, error) {
	s, err := pagecfg.Load(l.path, pagecfg.DefaultEnvPrefix)
	if err != nil {
		return pagecfg.Settings{}, err
	}
	return l.overlay.Apply(ctx, s)
}

// remote reports whether any source lives outside the settings file.
func (l *settingsLoader) remote() bool {
	return l.overlay.SSM != nil || l.overlay.S3 != nil
}
