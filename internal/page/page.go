// Package page builds the HTML page: metadata, a list of sanitized HTML
// blocks, an optional style sheet and a trailing anchor, rendered through the
// embedded layout.
package page

import (
	"context"
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/keithlinneman/bannerpage/internal/httpmw"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
	"github.com/keithlinneman/bannerpage/internal/style"
	"github.com/keithlinneman/bannerpage/internal/webassets"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

var layout = template.Must(template.New("page").Parse(webassets.PageTemplate()))

// policy is what raw HTML writes may contain.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span", "p", "br", "h1", "h2", "h3", "strong", "em", "a")
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("name").OnElements("a")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	return p
}()

// Page is built by a single render; it is not safe for concurrent use.
type Page struct {
	title  string
	icon   string
	blocks []template.HTML
	style  template.CSS
	anchor template.HTML
}

func New() *Page {
	return &Page{title: pagecfg.DefaultTitle}
}

// SetConfig sets the tab title and icon. An empty title keeps the current one.
func (p *Page) SetConfig(title, icon string) {
	if title = strings.TrimSpace(title); title != "" {
		p.title = title
	}
	p.icon = strings.TrimSpace(icon)
}

// WriteHTML appends a raw HTML fragment. Markup outside the allowed set is
// stripped; text is kept.
func (p *Page) WriteHTML(fragment string) {
	p.blocks = append(p.blocks, template.HTML(policy.Sanitize(fragment))) // #nosec G203 -- sanitized above
}

// SetStyle sets the page style sheet and the anchor written after it. css is
// applied verbatim apart from stripping a surrounding <style> element.
func (p *Page) SetStyle(css, anchor string) {
	p.style = template.CSS(style.Normalize(css)) // #nosec G203 -- validated when settings load
	p.anchor = template.HTML(policy.Sanitize(anchor)) // #nosec G203 -- sanitized
}

func (p *Page) Title() string            { return p.title }
func (p *Page) Blocks() []template.HTML { return p.blocks }

type view struct {
	Title    string
	Icon     string
	IconHref template.URL
	Nonce    string
	Blocks   []template.HTML
	Style    template.CSS
	Anchor   template.HTML
}

// Render writes the page. The CSP nonce is taken from ctx.
func (p *Page) Render(ctx context.Context, w io.Writer) error {
	v := view{
		Title:  p.title,
		Icon:   p.icon,
		Nonce:  httpmw.NonceFromContext(ctx),
		Blocks: p.blocks,
		Style:  p.style,
		Anchor: p.anchor,
	}
	if p.icon != "" {
		v.IconHref = iconHref(p.icon)
	}
	if err := layout.Execute(w, v); err != nil {
		return xerrors.Wrap(err, "render page")
	}
	return nil
}

// iconHref turns an emoji or short text into an inline SVG favicon. Values
// that already look like a URL are used as is.
func iconHref(icon string) template.URL {
	if strings.HasPrefix(icon, "/") || strings.HasPrefix(icon, "https://") || strings.HasPrefix(icon, "http://") {
		return template.URL(icon) // #nosec G203 -- scheme checked
	}
	svg := "<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'>" +
		"<text y='.9em' font-size='90'>" + template.HTMLEscapeString(icon) + "</text></svg>"
	return template.URL("data:image/svg+xml," + url.PathEscape(svg)) // #nosec G203 -- fixed scheme, escaped payload
}
