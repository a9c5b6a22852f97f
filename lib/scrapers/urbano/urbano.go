// Package urbano drives the building permits portal: approved projects,
// construction permits and completion certificates of an index.
package urbano

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/scrapers/core"
)

type Config struct {
	BaseUrl          string `json:"base_url"`
	LoginPath        string `json:"login_path"`
	LoggedInSelector string `json:"logged_in_selector"`
	ProjectsPath     string `json:"projects_path"`
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:          "https://urbano.pbh.gov.br/edificacoes",
		LoginPath:        "/login",
		LoggedInSelector: "#usuario-logado",
		ProjectsPath:     "/api/projetos",
	}
}

const (
	DOC_PROJECT    = "PROJETO"
	DOC_PERMIT     = "ALVARA_CONSTRUCAO"
	DOC_COMPLETION = "CERTIDAO_BAIXA"
)

var docPrefixes = map[string]string{
	DOC_PROJECT:    "projeto",
	DOC_PERMIT:     "alvara_construcao",
	DOC_COMPLETION: "certidao_baixa",
}

type document struct {
	Name string `json:"nome"`
	Kind string `json:"tipo"`
	Url  string `json:"url"`
}

type project struct {
	Kind       string     `json:"tipo"`
	Request    string     `json:"requerimento"`
	LastChange string     `json:"ultimaAlteracao"`
	LotArea    string     `json:"areaLotes"`
	Documents  []document `json:"documentos"`
}

type projectList struct {
	Projects []project `json:"projetos"`
}

type Session struct {
	config  Config
	creds   cadastre.Credential
	client  *core.Client
	workDir string

	index    string
	projects []project
}

var _ portal.Extractor = (*Session)(nil)

// Open returns an opener of fresh urbano sessions, authenticated with the
// siatu realm.
func Open(config Config, opts core.ClientOptions) portal.Opener[*Session] {
	return func(ctx context.Context, creds cadastre.Credentials, workDir string) (*Session, error) {
		clientOpts := opts
		clientOpts.Name = "urbano"
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

// Navigate searches the projects filed for an index, an index without
// projects is not found.
func (s *Session) Navigate(ctx context.Context, index string) error {
	var out projectList
	err := s.client.JSON(ctx, s.config.ProjectsPath, url.Values{
		"indiceCadastral": {index},
	}, &out)
	if err != nil {
		return err
	}
	if len(out.Projects) == 0 {
		return fmt.Errorf("index %s has no project: %w", index, portal.ErrNotFound)
	}
	s.index = index
	s.projects = out.Projects
	return nil
}

// DocumentFile names a downloaded document after its kind so it can be
// classified later on.
func DocumentFile(kind, name, index string, n int) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".pdf"
	}
	prefix, ok := docPrefixes[strings.ToUpper(kind)]
	if !ok {
		prefix = "projeto"
	}
	return fmt.Sprintf("%s_%s_%d%s", prefix, index, n, ext)
}

func (s *Session) downloadDocuments(ctx context.Context) []string {
	var files []string
	counts := map[string]int{}
	for _, p := range s.projects {
		for _, doc := range p.Documents {
			if doc.Url == "" {
				continue
			}
			kind := strings.ToUpper(doc.Kind)
			counts[kind]++
			dest := filepath.Join(s.workDir, DocumentFile(kind, doc.Name, s.index, counts[kind]))

			err := s.client.Download(ctx, doc.Url, nil, dest)
			if err != nil {
				slog.WarnContext(ctx, "failed to download project document", "index", s.index, "name", doc.Name, "err", err)
				continue
			}
			files = append(files, dest)
		}
	}
	return files
}

// Extract reads the most recent project, the first one listed, and
// downloads the documents of every project.
func (s *Session) Extract(ctx context.Context) (portal.Extraction, error) {
	if len(s.projects) == 0 {
		return portal.Extraction{}, fmt.Errorf("no index searched")
	}
	latest := s.projects[0]

	fields := map[string]cadastre.Value{
		cadastre.FieldProjectType: cadastre.Text(latest.Kind),
		cadastre.FieldRequest:     cadastre.Text(latest.Request),
		cadastre.FieldLastChange:  cadastre.Text(latest.LastChange),
		cadastre.FieldLotArea:     cadastre.ParseArea(latest.LotArea),
	}
	return portal.Extraction{
		Fields: fields,
		Files:  s.downloadDocuments(ctx),
	}, nil
}

func (s *Session) Close() error {
	s.projects = nil
	return s.client.Close()
}
