// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はニュースレター本文のHTMLを配信前にサニタイズする。
// bluemondayの許可リストベースのポリシーで、メールクライアントの
// レイアウト表現を保ったまま能動的なコンテンツを取り除く。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// newsletterSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに利用できる。
type newsletterSanitizer struct {
	policy *bluemonday.Policy
}

// NewNewsletterSanitizer はニュースレター本文用のサニタイザーを生成する。
// メールのレイアウトに使われるテーブル、div、span とインラインのstyle/class属性は
// そのまま通過させ、能動的なコンテンツのみを除去する。
//   - 除去: script, iframe, style要素, form, object, embed および全てのon*イベント属性
//   - URL属性: http, https, mailto のみ。相対URLは不可
func NewNewsletterSanitizer() ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "div", "span", "center",
		"ul", "ol", "li", "dl", "dt", "dd",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "u", "s", "small", "sup", "sub",
		"table", "thead", "tbody", "tfoot", "tr", "td", "th",
		"caption", "colgroup", "col",
		"a", "img", "font",
	)

	p.AllowAttrs(
		"style", "class", "id", "align", "valign", "width", "height",
		"bgcolor", "border", "title", "dir", "lang",
	).Globally()
	p.AllowAttrs("cellpadding", "cellspacing").OnElements("table")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	p.AllowAttrs("color", "face", "size").OnElements("font")

	p.AllowAttrs("href", "target", "name").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(false)
	p.RequireNoReferrerOnLinks(true)

	return &newsletterSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *newsletterSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
