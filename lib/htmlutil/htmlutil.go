package htmlutil

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("triagem.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && node.Data == "br" {
		buffer.WriteByte(' ')
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText collapses whitespace and strips non printable characters.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Text returns the cleaned text of every node in sel.
func Text(sel *goquery.Selection) string {
	var out strings.Builder
	for i, n := range sel.Nodes {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(GetText(n))
	}
	return CleanText(out.String())
}

type Anchor struct {
	Name string
	Href string
}

// GetAnchors reads the anchors in sel, hrefs are resolved against base when
// it is not nil.
func GetAnchors(ctx context.Context, sel *goquery.Selection, base *url.URL) []Anchor {
	_, span := tracer.Start(ctx, "GetAnchors")
	defer span.End()

	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}
		if href == "" {
			continue
		}

		link, err := url.Parse(href)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing url")
			continue
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		name := CleanText(GetText(n))
		linkStr := link.String()
		anchors = append(anchors, Anchor{
			Name: name,
			Href: linkStr,
		})
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", linkStr),
		))
	}

	return anchors
}

// GetKeyValueTable reads label/value pairs out of the rows in sel. Rows are
// either <th>label</th><td>value</td> or two <td> cells, a trailing colon
// on the label is dropped. The first occurrence of a label wins.
func GetKeyValueTable(sel *goquery.Selection) map[string]string {
	out := map[string]string{}
	sel.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("th, td")
		if cells.Length() < 2 {
			return
		}
		key := strings.TrimSuffix(Text(cells.Eq(0)), ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, ok := out[key]; ok {
			return
		}
		out[key] = Text(cells.Eq(1))
	})
	return out
}
