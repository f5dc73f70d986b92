// Package render turns the reconstructed main stream into HTML.
package render

import (
	"fmt"
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.CommonExtensions |
	blackfriday.AutoHeadingIDs |
	blackfriday.Footnotes

var policy = sync.OnceValue(func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// Fenced blocks are rendered as <code class="language-js">.
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
	p.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	return p
})

// HTML converts markdown to sanitized HTML.
func HTML(markdown string) string {
	unsafe := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(extensions))
	return string(policy().SanitizeBytes(unsafe))
}

// Page renders markdown as a standalone HTML document.
func Page(title, markdown string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(title), HTML(markdown))
}
