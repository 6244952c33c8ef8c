package page

import (
	"context"
	"html/template"

	"github.com/keithlinneman/bannerpage/internal/bridge"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// Anchor is written after the style block so in-page links can jump to the top.
const Anchor = "<a name='top'></a>"

// Banner is the page script: metadata, the current URL read through ev, the
// three banner lines, then the style sheet and anchor.
//
// It only sees the page metadata and style; the access-control secret never
// reaches the render path. A failed evaluation leaves the URL line empty, the
// page is still complete, and the error is returned for logging.
func Banner(ctx context.Context, p *Page, ev bridge.Evaluator, meta pagecfg.Meta, css string) error {
	p.SetConfig(meta.Title, meta.Icon)

	url, evalErr := ev.Eval(ctx, bridge.LocationExpr)
	if evalErr != nil {
		url = ""
		evalErr = xerrors.Wrap(evalErr, "read current url")
	}

	p.WriteHTML(line("banner-title", p.Title()))
	p.WriteHTML(line("banner-url", url))
	p.WriteHTML(line("banner-hint", meta.Hint))

	p.SetStyle(css, Anchor)
	return evalErr
}

func line(class, text string) string {
	return `<div class="banner ` + class + `">` + template.HTMLEscapeString(text) + `</div>`
}
