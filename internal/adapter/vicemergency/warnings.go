package vicemergency

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
)

var suburbSplitRe = regexp.MustCompile(`,\s*|\s+and\s+`)

// FetchWarnings retrieves and parses the text-only page. All incident and
// warning rows are included, not just formal warnings, since the page mixes
// both in the same tables. Rows that fail to parse are logged and skipped.
func (c *Client) FetchWarnings(ctx context.Context) ([]domain.Warning, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html").
		Get(c.textOnlyURL)
	if err != nil {
		return nil, fmt.Errorf("fetch text-only page: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("text-only page: status %d", resp.StatusCode())
	}

	warnings, err := c.parseWarningsPage(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse text-only page: %w", err)
	}
	return warnings, nil
}

func (c *Client) parseWarningsPage(r io.Reader) ([]domain.Warning, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var warnings []domain.Warning
	for _, table := range findAll(doc, "table") {
		for _, row := range findAll(table, "tr") {
			if len(findAll(row, "th")) > 0 {
				continue
			}
			cells := findAll(row, "td")
			if len(cells) < 3 {
				continue
			}
			if findFirst(cells[0], "a") == nil {
				continue
			}
			w, ok := parseWarningRow(row, cells, c.clock.Now())
			if !ok {
				c.logger.Debug("skipping unparseable warning row")
				continue
			}
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}

// parseWarningRow extracts one warning from a table row. The row layout
// varies between incident types; missing pieces degrade to defaults rather
// than dropping the row.
func parseWarningRow(row *html.Node, cells []*html.Node, now time.Time) (domain.Warning, bool) {
	link := findFirst(cells[0], "a")
	if link == nil {
		return domain.Warning{}, false
	}

	typeText := strings.TrimSpace(nodeText(link))
	href := attrValue(link, "href")

	id := strings.NewReplacer("#/warning/", "", "#/incident/", "").Replace(attrValue(row, "data-href"))
	if id == "" {
		if i := strings.LastIndex(href, "/"); i >= 0 && i < len(href)-1 {
			id = href[i+1:]
		} else if len(typeText) > 20 {
			id = typeText[:20]
		} else {
			id = typeText
		}
	}
	if id == "" {
		return domain.Warning{}, false
	}

	level, category, condition := splitWarningType(typeText)

	status := "Unknown"
	if s := strings.TrimSpace(nodeText(cells[1])); s != "" {
		status = s
	}

	location := ""
	if span := findByClass(cells[2], "span", "lastLocation"); span != nil {
		location = strings.TrimSpace(nodeText(span))
	} else {
		location = strings.TrimSpace(nodeText(cells[2]))
	}

	updatedAt := now
	for _, cell := range cells[3:] {
		span := findByClass(cell, "span", "lastUpdated")
		if span == nil {
			continue
		}
		if ms, err := strconv.ParseInt(strings.TrimSpace(nodeText(span)), 10, 64); err == nil {
			updatedAt = time.UnixMilli(ms)
			break
		}
	}

	url := href
	if url != "" && !strings.HasPrefix(url, "http") {
		url = "https://emergency.vic.gov.au" + url
	}

	return domain.Warning{
		ID:        id,
		Type:      typeText,
		Level:     level,
		Category:  category,
		Condition: condition,
		Status:    status,
		Location:  location,
		Suburbs:   parseSuburbs(location),
		UpdatedAt: updatedAt,
		URL:       url,
	}, true
}

// splitWarningType breaks "Watch and Act - Fire - Monitor Conditions" into
// level, category, and condition. Missing segments default to "Unknown".
func splitWarningType(typeText string) (level, category, condition string) {
	parts := strings.Split(typeText, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	level = "Unknown"
	category = "Unknown"
	if len(parts) > 0 && parts[0] != "" {
		level = parts[0]
	}
	if len(parts) > 1 {
		category = parts[1]
	}
	if len(parts) > 2 {
		condition = strings.Join(parts[2:], " - ")
	}
	return level, category, condition
}

// parseSuburbs splits an affected-areas string into suburb names, dropping
// filler like "surrounds".
func parseSuburbs(location string) []string {
	if location == "" {
		return nil
	}

	var suburbs []string
	for _, part := range suburbSplitRe.Split(location, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch strings.ToLower(part) {
		case "surrounds", "surrounding areas":
			continue
		}
		suburbs = append(suburbs, part)
	}
	return suburbs
}

// --- html traversal helpers ---

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node != n && node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return // matched subtrees are not descended into
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func findByClass(n *html.Node, tag, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		for _, c := range strings.Fields(attrValue(n, "class")) {
			if c == class {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByClass(child, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}
