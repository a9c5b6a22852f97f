// Package siatu drives the tax registry portal, source of the basic plan
// and of the attachments filed for an index.
package siatu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"triagem/lib/cadastre"
	"triagem/lib/htmlutil"
	"triagem/lib/portal"
	"triagem/lib/retry"
	"triagem/lib/scrapers/core"
	"triagem/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

type Config struct {
	BaseUrl          string `json:"base_url"`
	LoginPath        string `json:"login_path"`
	LoggedInSelector string `json:"logged_in_selector"`
	ConsultPath      string `json:"consult_path"`

	// DataSelector is the key/value table of the consult page.
	DataSelector    string `json:"data_selector"`
	GeneratePath    string `json:"generate_path"`
	StatusPath      string `json:"status_path"`
	DownloadPath    string `json:"download_path"`
	AttachmentsPath string `json:"attachments_path"`

	// GenerationTimeoutSeconds bounds the wait for the basic plan to be
	// ready.
	GenerationTimeoutSeconds int `json:"generation_timeout_seconds"`
	PollIntervalMillis       int `json:"poll_interval_millis"`
}

func (c Config) generationPolicy() retry.Policy {
	return retry.Within(
		time.Duration(c.GenerationTimeoutSeconds)*time.Second,
		time.Duration(c.PollIntervalMillis)*time.Millisecond,
	)
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:                  "https://siatu-producao.pbh.gov.br",
		LoginPath:                "/seguranca/login?service=https%3A%2F%2Fsiatu-producao.pbh.gov.br%2Faction%2Fmenu",
		LoggedInSelector:         "iframe[name=iframe]",
		ConsultPath:              "/action/consultaPlantaBasica",
		DataSelector:             "table.dadosImovel",
		GeneratePath:             "/action/gerarPlantaBasica",
		StatusPath:               "/action/statusPlantaBasica",
		DownloadPath:             "/action/downloadPlantaBasica",
		AttachmentsPath:          "/action/anexos",
		GenerationTimeoutSeconds: 60,
		PollIntervalMillis:       2000,
	}
}

// BasicPlanFile is the name the basic plan is saved under.
func BasicPlanFile(index string) string {
	return fmt.Sprintf("Planta_Basica_%s.pdf", index)
}

var labels = map[string][]string{
	cadastre.FieldBuiltArea:       {"Área Construída Total", "Área Construída"},
	cadastre.FieldFiscalYear:      {"Exercício"},
	cadastre.FieldUsageType:       {"Tipo de Uso", "Uso"},
	cadastre.FieldPropertyAddress: {"Endereço do Imóvel", "Endereço"},
	cadastre.FieldRegistryNumber:  {"Número da Matrícula", "Matrícula"},
	cadastre.FieldNotary:          {"Cartório"},
}

type Session struct {
	config  Config
	creds   cadastre.Credential
	client  *core.Client
	workDir string

	index string
	page  *goquery.Document
}

var _ portal.Extractor = (*Session)(nil)

func Open(config Config, opts core.ClientOptions) portal.Opener[*Session] {
	return func(ctx context.Context, creds cadastre.Credentials, workDir string) (*Session, error) {
		clientOpts := opts
		clientOpts.Name = "siatu"
		clientOpts.BaseUrl = config.BaseUrl

		client, err := core.NewClient(ctx, clientOpts)
		if err != nil {
			return nil, err
		}
		return &Session{
			config:  config,
			creds:   creds.Siatu,
			client:  client,
			workDir: workDir,
		}, nil
	}
}

func (s *Session) Access(ctx context.Context) error {
	_, err := s.client.Document(ctx, s.config.LoginPath, nil)
	return err
}

func (s *Session) Login(ctx context.Context) error {
	_, err := s.client.LoginForm(ctx, core.LoginFormOptions{
		Path:             s.config.LoginPath,
		UsernameField:    "usuario",
		PasswordField:    "senha",
		Username:         s.creds.Username,
		Password:         s.creds.Password,
		LoggedInSelector: s.config.LoggedInSelector,
	})
	return err
}

// Navigate consults an index.
func (s *Session) Navigate(ctx context.Context, index string) error {
	doc, err := s.client.Document(ctx, s.config.ConsultPath, url.Values{
		"indiceCadastral": {index},
	})
	if err != nil {
		return err
	}
	if doc.Find(s.config.DataSelector).Length() == 0 {
		return fmt.Errorf("index %s: %w", index, portal.ErrNotFound)
	}
	s.index = index
	s.page = doc
	return nil
}

func (s *Session) readFields() map[string]cadastre.Value {
	table := htmlutil.GetKeyValueTable(s.page.Find(s.config.DataSelector))
	fields := map[string]cadastre.Value{}
	for key, candidates := range labels {
		raw, ok := textutil.LookupLabel(table, candidates...)
		if !ok {
			fields[key] = cadastre.NotInformed()
			continue
		}
		if key == cadastre.FieldBuiltArea {
			fields[key] = cadastre.ParseArea(raw)
			continue
		}
		fields[key] = cadastre.Text(raw)
	}
	return fields
}

type generationStatus struct {
	Ready bool   `json:"pronto"`
	Error string `json:"erro"`
}

var ErrGenerationFailed = errors.New("basic plan generation failed")

// downloadBasicPlan asks the portal to render the basic plan, waits for it
// and saves it into the work directory.
func (s *Session) downloadBasicPlan(ctx context.Context, fiscalYear string) (string, error) {
	form := map[string]string{"indiceCadastral": s.index}
	if fiscalYear != "" {
		form["exercicio"] = fiscalYear
	}
	_, err := s.client.PostForm(ctx, s.config.GeneratePath, form)
	if err != nil {
		return "", fmt.Errorf("request generation: %w", err)
	}

	query := url.Values{"indiceCadastral": {s.index}}
	err = retry.Poll(ctx, s.config.generationPolicy(), func() (bool, error) {
		var status generationStatus
		err := s.client.JSON(ctx, s.config.StatusPath, query, &status)
		if err != nil {
			return false, err
		}
		if status.Error != "" {
			return false, fmt.Errorf("%w: %s", ErrGenerationFailed, status.Error)
		}
		return status.Ready, nil
	})
	if err != nil {
		return "", fmt.Errorf("wait for generation: %w", err)
	}

	dest := filepath.Join(s.workDir, BasicPlanFile(s.index))
	err = s.client.Download(ctx, s.config.DownloadPath, query, dest)
	if err != nil {
		return "", fmt.Errorf("download basic plan: %w", err)
	}
	return dest, nil
}

// downloadAttachments saves the PDF attachments of the index. One failing
// attachment never stops the others.
func (s *Session) downloadAttachments(ctx context.Context) []string {
	doc, err := s.client.Document(ctx, s.config.AttachmentsPath, url.Values{
		"indiceCadastral": {s.index},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to list attachments", "index", s.index, "err", err)
		return nil
	}

	anchors := htmlutil.GetAnchors(ctx, doc.Find("table tr td:first-child a"), doc.Url)
	if len(anchors) == 0 {
		slog.InfoContext(ctx, "no attachments available", "index", s.index)
		return nil
	}
	slog.InfoContext(ctx, "attachments found", "index", s.index, "count", len(anchors))

	var files []string
	for i, a := range anchors {
		name := filepath.Base(strings.ReplaceAll(a.Name, "\\", "/"))
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			slog.InfoContext(ctx, "attachment skipped, not a pdf", "index", s.index, "n", i+1, "name", a.Name)
			continue
		}
		dest := filepath.Join(s.workDir, name)
		err := s.client.Download(ctx, a.Href, nil, dest)
		if err != nil {
			slog.WarnContext(ctx, "failed to download attachment", "index", s.index, "name", name, "err", err)
			continue
		}
		files = append(files, dest)
	}
	return files
}

func (s *Session) Extract(ctx context.Context) (portal.Extraction, error) {
	if s.page == nil {
		return portal.Extraction{}, fmt.Errorf("no index consulted")
	}
	fields := s.readFields()

	plan, err := s.downloadBasicPlan(ctx, fields[cadastre.FieldFiscalYear].Text)
	if err != nil {
		return portal.Extraction{}, err
	}
	files := append([]string{plan}, s.downloadAttachments(ctx)...)

	return portal.Extraction{Fields: fields, Files: files}, nil
}

func (s *Session) Close() error {
	s.page = nil
	return s.client.Close()
}
