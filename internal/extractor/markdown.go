package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// markdownConverter wraps html-to-markdown/v2 with the commonmark + table
// plugins, used to render a detail page's free-text description field.
type markdownConverter struct {
	conv *converter.Converter
}

func newMarkdownConverter() *markdownConverter {
	return &markdownConverter{
		conv: converter.NewConverter(converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		)),
	}
}

func (c *markdownConverter) Convert(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	md, err := c.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("extractor: markdown conversion failed: %w", err)
	}
	return cleanMarkdown(md), nil
}

var (
	htmlCommentRe = regexp.MustCompile(`<!--[\s\S]*?-->`)
	excessBlankRe = regexp.MustCompile(`\n{3,}`)
)

func cleanMarkdown(markdown string) string {
	cleaned := htmlCommentRe.ReplaceAllString(markdown, "")
	cleaned = excessBlankRe.ReplaceAllString(cleaned, "\n\n")
	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
