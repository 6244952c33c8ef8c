package pagecfg

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/keithlinneman/bannerpage/internal/style"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// DefaultEnvPrefix maps BANNER_SETTINGS_TITLE to the title key and so on.
const DefaultEnvPrefix = "BANNER_SETTINGS_"

// Load starts from Defaults, overlays the YAML file at path (skipped when
// path is empty) and then environment variables carrying envPrefix. The
// result is validated before it is returned.
func Load(path, envPrefix string) (Settings, error) {
	k := koanf.New(".")
	s := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Settings{}, xerrors.Wrapf(err, "stat settings file %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Settings{}, xerrors.Wrapf(err, "read settings file %s", path)
		}
	}

	if envPrefix != "" {
		if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix))
		}), nil); err != nil {
			return Settings{}, xerrors.Wrap(err, "load env overrides")
		}
	}

	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, xerrors.Wrap(err, "decode settings")
	}

	if k.Exists(KeyCSS) {
		s.Style = style.Normalize(s.Style)
		s.StyleSource = SourceFile
	}
	if s.StyleFile != "" {
		p := s.StyleFile
		if !filepath.IsAbs(p) && path != "" {
			p = filepath.Join(filepath.Dir(path), p)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return Settings{}, xerrors.Wrapf(err, "read css_file %s", p)
		}
		s.Style = style.Normalize(string(b))
		s.StyleSource = SourceFile
	}

	if err := s.Validate(); err != nil {
		return Settings{}, xerrors.Wrap(err, "invalid page settings")
	}
	s.LoadedAt = time.Now().UTC()
	return s, nil
}
