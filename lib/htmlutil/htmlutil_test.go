package htmlutil

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func parse(t testing.TB, body string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func TestGetKeyValueTable(t *testing.T) {
	doc := parse(t, `<table id="dados">
		<tr><th>Área Construída Total:</th><td> 1.088,24   m² </td></tr>
		<tr><td>Exercício</td><td>2024</td></tr>
		<tr><td>Exercício</td><td>2023</td></tr>
		<tr><td colspan="2">cabeçalho</td></tr>
		<tr><td>Endereço</td><td>RUA X,<br>10</td></tr>
	</table>`)

	diff := cmp.Diff(map[string]string{
		"Área Construída Total": "1.088,24 m²",
		"Exercício":             "2024",
		"Endereço":              "RUA X, 10",
	}, GetKeyValueTable(doc.Find("#dados")))
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestGetAnchors(t *testing.T) {
	doc := parse(t, `<div>
		<a href="/anexos/1.pdf">  Croqui
		 do lote </a>
		<a>no link</a>
		<a href="https://other.example/x.pdf">Outro</a>
	</div>`)
	base, err := url.Parse("https://siatu.example/consulta/")
	require.NoError(t, err)

	diff := cmp.Diff([]Anchor{
		{Name: "Croqui do lote", Href: "https://siatu.example/anexos/1.pdf"},
		{Name: "Outro", Href: "https://other.example/x.pdf"},
	}, GetAnchors(context.Background(), doc.Find("a"), base))
	if diff != "" {
		t.Fatal(diff)
	}
}
