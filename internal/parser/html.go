package parser

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser converts HTML email bodies to plain text
type HTMLParser struct {
	whitespaceRegex *regexp.Regexp
	newlineRegex    *regexp.Regexp
	invisibleRegex  *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		whitespaceRegex: regexp.MustCompile(`[^\S\n]+`),
		newlineRegex:    regexp.MustCompile(`\n{3,}`),
		// zero-width spaces, soft hyphens and similar
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}\x{FFF0}-\x{FFF8}]+`),
	}
}

// Body picks the text to show for an email: the plain part when present,
// otherwise the HTML part converted to text
func (p *HTMLParser) Body(text, htmlBody string) string {
	if strings.TrimSpace(text) != "" || htmlBody == "" {
		return strings.TrimSpace(text)
	}
	parsed, err := p.Parse(htmlBody)
	if err != nil {
		return ""
	}
	return parsed
}

// Parse converts HTML to clean plain text
func (p *HTMLParser) Parse(body string) (string, error) {
	if body == "" {
		return "", nil
	}

	// Parse HTML
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}

	// Remove script and style elements
	doc.Find("script, style, head, meta, link, title").Remove()

	// Links keep their target so codes hidden in URLs stay visible
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "http") && strings.TrimSpace(s.Text()) != href {
			s.AppendHtml(" (" + html.EscapeString(href) + ")")
		}
	})

	// Add newlines before block elements
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr, td").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	// Remove invisible Unicode characters first
	text = p.invisibleRegex.ReplaceAllString(text, "")
	// Clean up whitespace (but preserve newlines)
	text = p.whitespaceRegex.ReplaceAllString(text, " ")

	// Trim each line and drop empty ones
	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")

	// Normalize newlines (max 2 consecutive)
	text = p.newlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
