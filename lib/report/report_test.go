package report

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
	"triagem/lib/cadastre"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time {
	return time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC)
}

func fullRecord(t testing.TB, dir string) *cadastre.AggregatedRecord {
	record := cadastre.NewAggregatedRecord("0123456789", "7463527921")
	record.Address = "RUA DAS FLORES, 100 - Belo Horizonte - MG, 30123-000"

	plan := record.Record(cadastre.SOURCE_BASIC_PLAN)
	plan.Found = true
	plan.Set(cadastre.FieldBuiltArea, cadastre.Area(1088.24))
	plan.Set(cadastre.FieldFiscalYear, cadastre.Text("2025"))
	plan.Set(cadastre.FieldRegistryNumber, cadastre.Text("12345"))

	project := record.Record(cadastre.SOURCE_PROJECT)
	project.Found = true
	project.Set(cadastre.FieldProjectType, cadastre.Text("Edificação"))

	mapping := record.Record(cadastre.SOURCE_CADASTRAL_MAPPING)
	mapping.Found = true
	mapping.Set(cadastre.FieldCtmGeoAddress, cadastre.Text(record.Address))

	record.Record(cadastre.SOURCE_IMAGERY).Found = true

	aerial := filepath.Join(dir, "google_maps_aereo.png")
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(aerial, buf.Bytes(), 0644))

	broken := filepath.Join(dir, "google_maps_fachada.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0644))

	record.Attachments = []cadastre.Attachment{
		{Name: "Planta_Basica_0123456789.pdf", Path: filepath.Join(dir, "Planta_Basica_0123456789.pdf"), Class: cadastre.CLASS_BASIC_PLAN},
		{Name: "croqui.pdf", Path: filepath.Join(dir, "croqui.pdf"), Class: cadastre.CLASS_SIATU},
		{Name: "google_maps_aereo.png", Path: aerial, Class: cadastre.CLASS_IMAGERY},
		{Name: "google_maps_fachada.png", Path: broken, Class: cadastre.CLASS_IMAGERY},
		{Name: "projeto_0123456789_1.pdf", Path: filepath.Join(dir, "projeto_0123456789_1.pdf"), Class: cadastre.CLASS_PROJECT},
	}
	return record
}

func titles(doc Document) []string {
	var out []string
	for _, s := range doc.Sections {
		out = append(out, s.Title)
	}
	return out
}

func TestBuildSections(t *testing.T) {
	record := fullRecord(t, t.TempDir())
	doc := Build(record, Options{Now: fixedNow, Worker: "joao.silva"})

	require.Equal(t, "Relatório de Triagem - IC 0123456789", doc.Title)
	diff := cmp.Diff([]Row{
		{Label: "Protocolo", Value: "7463527921"},
		{Label: "Data", Value: "05/03/2024 09:30"},
		{Label: "Trabalhador(a)", Value: "joao.silva"},
	}, doc.Header)
	if diff != "" {
		t.Fatal(diff)
	}

	diff = cmp.Diff([]string{
		"1. Certidão de Origem de Lote",
		"2. Planta Básica - Exercício seguinte ou Primeiro do Ano",
		"3. Croqui e Anexos Siatu",
		"4. Projeto, Alvará e Baixa de Construção",
		"5. Matrícula do Imóvel",
		"6. Mapeamento Cadastral (SISCTM)",
		"7. Imagens do Endereço",
		"8. Análise de Consistência",
		"9. Observações Gerais",
	}, titles(doc))
	if diff != "" {
		t.Fatal(diff)
	}

	plan := doc.Sections[1]
	diff = cmp.Diff([]Row{
		{Label: "Área Construída Total", Value: "1.088,24 m²"},
		{Label: "Exercício", Value: "2025"},
		{Label: "Tipo de uso", Value: cadastre.NotInformedText},
	}, plan.Rows)
	if diff != "" {
		t.Fatal(diff)
	}
	require.Len(t, plan.Attachments, 1)

	require.Equal(t, []string{"1 anexo(s) encontrado(s)."}, doc.Sections[2].Paragraphs)

	registry := doc.Sections[4]
	require.Equal(t, []Row{
		{Label: "Número da matrícula", Value: "12345"},
		{Label: "Cartório", Value: cadastre.NotInformedText},
	}, registry.Rows)

	require.Contains(t, doc.Sections[0].Paragraphs[2], DefaultPortal)
	require.True(t, doc.Sections[6].EmbedImages)
	require.Equal(t, []string{"Todas as fontes retornaram dados."}, doc.Sections[8].Paragraphs)
}

func TestBuildMissingSource(t *testing.T) {
	record := fullRecord(t, t.TempDir())
	project := record.Record(cadastre.SOURCE_PROJECT)
	project.Found = false

	doc := Build(record, Options{Now: fixedNow})

	projects := doc.Sections[3]
	require.Equal(t, NoData, projects.Paragraphs[0])
	require.Empty(t, projects.Rows)

	// other sections keep their tables
	require.NotEmpty(t, doc.Sections[1].Rows)
	require.NotEmpty(t, doc.Sections[5].Rows)

	require.Equal(t, []string{"Sem dados: " + cadastre.SOURCE_PROJECT.Title()}, doc.Sections[8].Paragraphs)
	require.Equal(t, Row{Label: "Trabalhador(a)", Value: cadastre.NotInformedText}, doc.Header[2])
}

func TestConsistencySection(t *testing.T) {
	section := consistencySection(Analysis{})
	require.Equal(t, []string{NoAnalysis, "Sem dados de área para comparação."}, section.Paragraphs)

	section = consistencySection(Analysis{
		Addresses: AddressCheck{
			Compared:   true,
			Match:      false,
			Similarity: 0.934,
			BasicPlan:  "RUA A, 100",
			Mapping:    "RUA B, 100",
		},
		Areas: AreaCheck{
			Compared: true,
			Match:    true,
			Built:    cadastre.Area(100),
			Mapped:   cadastre.Area(100),
		},
	})
	require.Equal(t, []string{"Os endereços divergem.", "As áreas coincidem."}, section.Paragraphs)
	require.Contains(t, section.Rows, Row{Label: "Similaridade do logradouro", Value: "93%"})
	require.Contains(t, section.Rows, Row{Label: "Área IPTU CTM GEO", Value: "100,00 m²"})
}

func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	record := fullRecord(t, dir)
	output := filepath.Join(dir, "1. Relatório de Triagem - 0123456789.pdf")

	err := Assemble(record, output, Options{Now: fixedNow, Worker: "joao.silva"})
	require.NoError(t, err)

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, []byte("%PDF-")))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".report-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestAssembleIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	record := fullRecord(t, dir)

	first := filepath.Join(dir, "first.pdf")
	second := filepath.Join(dir, "second.pdf")
	require.NoError(t, Assemble(record, first, Options{Now: fixedNow}))
	require.NoError(t, Assemble(record, second, Options{Now: fixedNow}))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestAssembleLeavesNothingOnFailure(t *testing.T) {
	record := fullRecord(t, t.TempDir())
	output := filepath.Join(t.TempDir(), "missing", "report.pdf")

	err := Assemble(record, output, Options{Now: fixedNow})
	require.Error(t, err)
	require.NoFileExists(t, output)
}
