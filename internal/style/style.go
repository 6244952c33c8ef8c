// Package style inspects page style sheets: which selectors they define,
// whether they are safe to place verbatim inside a <style> element, and a
// content hash used in response headers and metrics.
package style

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/gorilla/css/scanner"

	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// MaxSize bounds a style sheet accepted from files, S3 or env.
const MaxSize = 256 << 10

var (
	ErrEmpty      = xerrors.New("style sheet is empty")
	ErrTooLarge   = xerrors.New("style sheet too large")
	ErrBreakout   = xerrors.New("style sheet contains markup that would close the style element")
	ErrUnbalanced = xerrors.New("style sheet has unbalanced braces")
)

const (
	ruleBlock = iota // contains declarations
	atBlock          // contains rules
)

var wrapperRe = regexp.MustCompile(`(?is)^\s*<style[^>]*>(.*)</style>\s*$`)

// Normalize strips a single surrounding <style>...</style> wrapper, the form
// style sheets are often pasted in, and trims surrounding whitespace.
func Normalize(css string) string {
	if m := wrapperRe.FindStringSubmatch(css); m != nil {
		css = m[1]
	}
	return strings.TrimSpace(css)
}

// Validate reports whether css can be embedded verbatim.
func Validate(css string) error {
	if strings.TrimSpace(css) == "" {
		return ErrEmpty
	}
	if len(css) > MaxSize {
		return xerrors.Wrapf(ErrTooLarge, "%d bytes (max %d)", len(css), MaxSize)
	}
	lower := strings.ToLower(css)
	if strings.Contains(lower, "</style") || strings.Contains(lower, "<!--") || strings.Contains(lower, "<script") {
		return ErrBreakout
	}

	depth := 0
	s := scanner.New(css)
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			if depth != 0 {
				return xerrors.Wrapf(ErrUnbalanced, "%d unclosed block(s)", depth)
			}
			return nil
		case scanner.TokenError:
			return xerrors.Newf("style sheet: line %d col %d: %s", tok.Line, tok.Column, tok.Value)
		case scanner.TokenChar:
			switch tok.Value {
			case "{":
				depth++
			case "}":
				depth--
				if depth < 0 {
					return xerrors.Wrapf(ErrUnbalanced, "unexpected } at line %d col %d", tok.Line, tok.Column)
				}
			}
		}
	}
}

// Selectors returns every rule selector in css in source order, with
// whitespace collapsed. Selector lists are split, so ".a h1, .a h2" yields two
// entries. Selectors nested in at-rule blocks such as @media are included.
func Selectors(css string) []string {
	var (
		out     []string
		stack   []int
		prelude strings.Builder
		pending bool
	)
	inRule := func() bool { return len(stack) > 0 && stack[len(stack)-1] == ruleBlock }

	s := scanner.New(css)
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			return out
		}
		if tok.Type == scanner.TokenChar && tok.Value == "{" {
			p := strings.TrimSpace(prelude.String())
			prelude.Reset()
			pending = false
			if strings.HasPrefix(p, "@") {
				stack = append(stack, atBlock)
				continue
			}
			stack = append(stack, ruleBlock)
			if !inRuleParent(stack) {
				for _, sel := range strings.Split(p, ",") {
					if sel = strings.TrimSpace(sel); sel != "" {
						out = append(out, sel)
					}
				}
			}
			continue
		}
		if tok.Type == scanner.TokenChar && tok.Value == "}" {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			prelude.Reset()
			pending = false
			continue
		}
		if inRule() {
			continue
		}
		switch tok.Type {
		case scanner.TokenComment:
			continue
		case scanner.TokenS:
			pending = prelude.Len() > 0
			continue
		case scanner.TokenChar:
			if tok.Value == ";" {
				// end of a block-less at-rule such as @import
				prelude.Reset()
				pending = false
				continue
			}
		}
		if pending {
			prelude.WriteByte(' ')
			pending = false
		}
		prelude.WriteString(tok.Value)
	}
}

// a rule block opened inside another rule block is not a selector we track
func inRuleParent(stack []int) bool {
	if len(stack) < 2 {
		return false
	}
	return stack[len(stack)-2] == ruleBlock
}

// Has reports whether css defines a rule for selector, compared after
// whitespace normalization.
func Has(css, selector string) bool {
	want := strings.Join(strings.Fields(selector), " ")
	for _, s := range Selectors(css) {
		if s == want {
			return true
		}
	}
	return false
}

// Hash is the hex SHA-256 of css.
func Hash(css string) string {
	sum := sha256.Sum256([]byte(css))
	return hex.EncodeToString(sum[:])
}
