// Package pagecfg holds the page settings: the access-control secret an edge
// proxy may enforce, the page metadata and the style sheet.
//
// Settings come in two equivalent shapes. The Default* constants are the flat
// form; Settings.Map is the dictionary form, whose keys are also the keys of
// the YAML settings file read by Load.
package pagecfg

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/keithlinneman/bannerpage/internal/style"
	"github.com/keithlinneman/bannerpage/internal/webassets"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

const (
	// Access control for an edge proxy (CloudFront) in front of the page.
	// Nothing in the render path reads these unless DefaultSecretRequired is
	// flipped in the settings file.
	DefaultSecretRequired = false
	DefaultSecretHeader   = "X-Client-Secret"
	DefaultSecretValue    = "secret-value"

	DefaultTitle = "My App"
	DefaultIcon  = "🔆"
	DefaultHint  = "You may press R to refresh."
)

// Map keys, shared with the YAML settings file and BANNER_SETTINGS_* env vars.
const (
	KeySecretRequired = "secret_required"
	KeySecretKey      = "secret_key"
	KeySecretValue    = "secret_value"
	KeyCSS            = "css"
	KeyCSSFile        = "css_file"
	KeyTitle          = "title"
	KeyIcon           = "icon"
	KeyHint           = "hint"
)

// Source records where the active style sheet came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceS3      Source = "s3"
)

type AccessControlSecret struct {
	Required    bool   `koanf:"secret_required"`
	HeaderName  string `koanf:"secret_key"`
	HeaderValue string `koanf:"secret_value"`
}

type Meta struct {
	Title string `koanf:"title"`
	Icon  string `koanf:"icon"`
	Hint  string `koanf:"hint"`
}

type Settings struct {
	Secret AccessControlSecret `koanf:",squash"`
	Meta   Meta                `koanf:",squash"`

	// Style is applied verbatim to the page.
	Style string `koanf:"css"`
	// StyleFile, when set, replaces Style with the file's contents. Relative
	// paths resolve against the settings file's directory.
	StyleFile string `koanf:"css_file"`

	StyleSource Source    `koanf:"-"`
	LoadedAt    time.Time `koanf:"-"`
}

// Defaults returns the flat defaults as Settings.
func Defaults() Settings {
	return Settings{
		Secret: AccessControlSecret{
			Required:    DefaultSecretRequired,
			HeaderName:  DefaultSecretHeader,
			HeaderValue: DefaultSecretValue,
		},
		Meta: Meta{
			Title: DefaultTitle,
			Icon:  DefaultIcon,
			Hint:  DefaultHint,
		},
		Style:       style.Normalize(webassets.DefaultStyle()),
		StyleSource: SourceDefault,
	}
}

// Map returns the dictionary form.
func (s Settings) Map() map[string]any {
	return map[string]any{
		KeySecretRequired: s.Secret.Required,
		KeySecretKey:      s.Secret.HeaderName,
		KeySecretValue:    s.Secret.HeaderValue,
		KeyCSS:            s.Style,
		KeyTitle:          s.Meta.Title,
		KeyIcon:           s.Meta.Icon,
		KeyHint:           s.Meta.Hint,
	}
}

// StyleHash is the SHA-256 of the active style sheet.
func (s Settings) StyleHash() string { return style.Hash(s.Style) }

// Validate checks the style sheet and, when enforcement is on, the secret.
func (s Settings) Validate() error {
	var errs []error
	if err := style.Validate(s.Style); err != nil {
		errs = append(errs, xerrors.Wrap(err, "css"))
	}
	if strings.TrimSpace(s.Meta.Title) == "" {
		errs = append(errs, xerrors.New("title is required"))
	}
	if s.Secret.Required {
		name := http.CanonicalHeaderKey(strings.TrimSpace(s.Secret.HeaderName))
		if name == "" || !httpguts.ValidHeaderFieldName(name) {
			errs = append(errs, xerrors.Newf("secret_key %q is not a valid header name", s.Secret.HeaderName))
		}
		if s.Secret.HeaderValue == "" {
			errs = append(errs, xerrors.New("secret_value is required when secret_required=true"))
		}
	}
	return errors.Join(errs...)
}
