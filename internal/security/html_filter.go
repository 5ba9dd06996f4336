// Package security 清理要在浏览器中展示的邮件 HTML。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// HTMLFilter 移除邮件 HTML 中可执行的内容
//
// 基于 bluemonday 的 UGC 白名单，额外保留邮件排版常用的 class 和内联样式。
// 展示时仍需配合严格的 Content-Security-Policy。
type HTMLFilter struct {
	policy *bluemonday.Policy
}

// NewHTMLFilter 创建 HTML 过滤器，返回值可并发使用
func NewHTMLFilter() *HTMLFilter {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowStyles(
		"color", "background-color", "font-size", "font-weight", "font-style", "font-family",
		"text-align", "text-decoration", "line-height", "margin", "padding", "border",
		"width", "height", "vertical-align",
	).Globally()
	p.AllowAttrs("align", "valign", "bgcolor", "width", "height", "border", "cellpadding", "cellspacing").
		OnElements("table", "tr", "td", "th", "img", "div", "p")
	p.AllowURLSchemes("http", "https", "mailto", "cid")
	p.AllowDataURIImages()
	return &HTMLFilter{policy: p}
}

// Sanitize 返回去掉脚本、事件属性和危险链接后的 HTML
func (f *HTMLFilter) Sanitize(html string) string {
	return f.policy.Sanitize(html)
}
