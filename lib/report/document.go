// Package report lays out the triage report of an index and renders it to
// PDF.
package report

import (
	"fmt"
	"math"
	"time"
	"triagem/lib/cadastre"
	"triagem/lib/timezone"
)

const (
	NoData        = "Nenhum dado encontrado."
	NoAnalysis    = "Sem dados para análise."
	DefaultPortal = "https://siurbe.pbh.gov.br/#/solicitacao/CertidaoOrigemLote"
)

// AddressCheck is the outcome of comparing the basic plan address with the
// cadastral mapping one.
type AddressCheck struct {
	Compared   bool
	Match      bool
	Similarity float64
	BasicPlan  string
	Mapping    string
}

type AreaCheck struct {
	Compared bool
	Match    bool
	Built    cadastre.Value
	Mapped   cadastre.Value
}

type Analysis struct {
	Addresses AddressCheck
	Areas     AreaCheck
}

type Options struct {
	// Now stamps the report, it defaults to timezone.Now.
	Now       func() time.Time
	Worker    string
	PortalURL string
	Analysis  Analysis
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return timezone.Now()
}

type Row struct {
	Label string
	Value string
}

type Section struct {
	Title       string
	Paragraphs  []string
	Rows        []Row
	Attachments []cadastre.Attachment
	// EmbedImages draws image attachments below their link.
	EmbedImages bool
}

type Document struct {
	Title    string
	Header   []Row
	Created  time.Time
	Sections []Section
}

func fieldRows(record *cadastre.SourceRecord, keys ...string) []Row {
	var rows []Row
	for _, fv := range record.Fields() {
		if len(keys) > 0 && !containsKey(keys, fv.Field.Key) {
			continue
		}
		rows = append(rows, Row{Label: fv.Field.Label, Value: fv.Value.String()})
	}
	return rows
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func countText(n int) string {
	return fmt.Sprintf("%d anexo(s) encontrado(s).", n)
}

// sourceSection fills a section from a source record, a source without data
// only gets the placeholder.
func sourceSection(title string, record *cadastre.SourceRecord, keys ...string) Section {
	section := Section{Title: title}
	if !record.Found {
		section.Paragraphs = []string{NoData}
		return section
	}
	section.Rows = fieldRows(record, keys...)
	return section
}

// Build lays out the report of an aggregated record. The same record and
// options always produce the same document.
func Build(record *cadastre.AggregatedRecord, opts Options) Document {
	created := opts.now().In(timezone.Location)
	doc := Document{
		Title:   fmt.Sprintf("Relatório de Triagem - IC %s", record.Index),
		Created: created,
	}
	if record.Protocol != "" {
		doc.Header = append(doc.Header, Row{Label: "Protocolo", Value: record.Protocol.String()})
	}
	worker := opts.Worker
	if worker == "" {
		worker = cadastre.NotInformedText
	}
	doc.Header = append(doc.Header,
		Row{Label: "Data", Value: timezone.ReportDate(created)},
		Row{Label: "Trabalhador(a)", Value: worker},
	)

	portalURL := opts.PortalURL
	if portalURL == "" {
		portalURL = DefaultPortal
	}

	basicPlan := record.Record(cadastre.SOURCE_BASIC_PLAN)
	project := record.Record(cadastre.SOURCE_PROJECT)
	mapping := record.Record(cadastre.SOURCE_CADASTRAL_MAPPING)
	imagery := record.Record(cadastre.SOURCE_IMAGERY)

	origin := Section{
		Title: "1. Certidão de Origem de Lote",
		Paragraphs: []string{
			"Verifique se a COL está na lista de anexos Siatu.",
			"Caso não a encontre, busque manualmente a certidão de origem de lote (COL).",
			"Informação obtida no portal: " + portalURL,
		},
	}

	plan := sourceSection(
		"2. Planta Básica - Exercício seguinte ou Primeiro do Ano",
		basicPlan,
		cadastre.FieldBuiltArea, cadastre.FieldFiscalYear, cadastre.FieldUsageType,
	)
	plan.Attachments = record.AttachmentsOf(cadastre.CLASS_BASIC_PLAN)

	siatuAttachments := record.AttachmentsOf(cadastre.CLASS_SIATU)
	siatu := Section{
		Title:       "3. Croqui e Anexos Siatu",
		Paragraphs:  []string{countText(len(siatuAttachments))},
		Attachments: siatuAttachments,
	}

	projectAttachments := record.AttachmentsOf(cadastre.CLASS_PROJECT)
	projects := sourceSection("4. Projeto, Alvará e Baixa de Construção", project)
	projects.Paragraphs = append(projects.Paragraphs, countText(len(projectAttachments)))
	projects.Attachments = projectAttachments

	registry := sourceSection(
		"5. Matrícula do Imóvel",
		basicPlan,
		cadastre.FieldRegistryNumber, cadastre.FieldNotary,
	)

	cadastral := sourceSection("6. Mapeamento Cadastral (SISCTM)", mapping)
	cadastral.Attachments = record.AttachmentsOf(cadastre.CLASS_CADASTRAL_MAPPING)

	address := record.Address
	if address == "" {
		address = cadastre.AddressNotFound
	}
	images := Section{
		Title:       "7. Imagens do Endereço",
		Paragraphs:  []string{"Endereço utilizado: " + address},
		Attachments: record.AttachmentsOf(cadastre.CLASS_IMAGERY),
		EmbedImages: true,
	}
	if !imagery.Found {
		images.Paragraphs = append(images.Paragraphs, NoData)
	}

	doc.Sections = []Section{
		origin,
		plan,
		siatu,
		projects,
		registry,
		cadastral,
		images,
		consistencySection(opts.Analysis),
		remarksSection(record),
	}
	return doc
}

func consistencySection(analysis Analysis) Section {
	section := Section{Title: "8. Análise de Consistência"}

	addresses := analysis.Addresses
	if !addresses.Compared {
		section.Paragraphs = append(section.Paragraphs, NoAnalysis)
	} else {
		verdict := "Os endereços divergem."
		if addresses.Match {
			verdict = "Os endereços coincidem."
		}
		section.Paragraphs = append(section.Paragraphs, verdict)
		section.Rows = append(section.Rows,
			Row{Label: "Endereço da Planta Básica", Value: addresses.BasicPlan},
			Row{Label: "Endereço do SISCTM", Value: addresses.Mapping},
			Row{Label: "Similaridade do logradouro", Value: fmt.Sprintf("%d%%", int(math.Round(addresses.Similarity*100)))},
		)
	}

	areas := analysis.Areas
	if !areas.Compared {
		section.Paragraphs = append(section.Paragraphs, "Sem dados de área para comparação.")
		return section
	}
	verdict := "As áreas divergem."
	if areas.Match {
		verdict = "As áreas coincidem."
	}
	section.Paragraphs = append(section.Paragraphs, verdict)
	section.Rows = append(section.Rows,
		Row{Label: "Área construída (Planta Básica)", Value: areas.Built.String()},
		Row{Label: "Área IPTU CTM GEO", Value: areas.Mapped.String()},
	)
	return section
}

func remarksSection(record *cadastre.AggregatedRecord) Section {
	section := Section{Title: "9. Observações Gerais"}
	missing := record.Missing()
	if len(missing) == 0 {
		section.Paragraphs = []string{"Todas as fontes retornaram dados."}
		return section
	}
	for _, source := range missing {
		section.Paragraphs = append(section.Paragraphs, "Sem dados: "+source.Title())
	}
	return section
}
