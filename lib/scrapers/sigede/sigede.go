// Package sigede drives the protocol tracking portal, the only place that
// knows which cadastral indices a protocol refers to.
package sigede

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"triagem/lib/cadastre"
	"triagem/lib/htmlutil"
	"triagem/lib/portal"
	"triagem/lib/scrapers/core"

	"github.com/PuerkitoBio/goquery"
)

type Config struct {
	BaseUrl string `json:"base_url"`
	// LoginUrl is the single sign-on page that redirects back to the portal.
	LoginUrl         string `json:"login_url"`
	LoggedInSelector string `json:"logged_in_selector"`
	ProtocolPath     string `json:"protocol_path"`
	// IndexSelector matches the cells holding the indices of a protocol.
	IndexSelector string `json:"index_selector"`
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:          "https://sigede.pbh.gov.br/sigede",
		LoginUrl:         "https://cas.pbh.gov.br/cas/login?service=https%3A%2F%2Fsigede.pbh.gov.br%2Fsigede%2Flogin%2Fcas",
		LoggedInSelector: "a[href*='logout']",
		ProtocolPath:     "/protocolo/consultar",
		IndexSelector:    "table#tabelaIndices td.indice-cadastral",
	}
}

type Session struct {
	config Config
	creds  cadastre.Credential
	client *core.Client
	page   *goquery.Document
}

var _ portal.Lister = (*Session)(nil)

// Open returns an opener of fresh sigede sessions. Only the sigede realm of
// the credentials is used.
func Open(config Config, opts core.ClientOptions) portal.Opener[*Session] {
	return func(ctx context.Context, creds cadastre.Credentials, workDir string) (*Session, error) {
		loginUrl, err := url.Parse(config.LoginUrl)
		if err != nil {
			return nil, fmt.Errorf("login url: %w", err)
		}
		clientOpts := opts
		clientOpts.Name = "sigede"
		clientOpts.BaseUrl = config.BaseUrl
		clientOpts.AllowedHosts = append(slices.Clone(opts.AllowedHosts), loginUrl.Hostname())

		client, err := core.NewClient(ctx, clientOpts)
		if err != nil {
			return nil, err
		}
		return &Session{
			config: config,
			creds:  creds.Sigede,
			client: client,
		}, nil
	}
}

func (s *Session) Access(ctx context.Context) error {
	_, err := s.client.Document(ctx, s.config.LoginUrl, nil)
	return err
}

func (s *Session) Login(ctx context.Context) error {
	_, err := s.client.LoginForm(ctx, core.LoginFormOptions{
		Path:             s.config.LoginUrl,
		FormSelector:     "form#fm1",
		UsernameField:    "username",
		PasswordField:    "password",
		Username:         s.creds.Username,
		Password:         s.creds.Password,
		LoggedInSelector: s.config.LoggedInSelector,
	})
	return err
}

// Navigate opens the case page of a protocol.
func (s *Session) Navigate(ctx context.Context, protocol string) error {
	doc, err := s.client.Document(ctx, s.config.ProtocolPath, url.Values{
		"numero": {protocol},
	})
	if err != nil {
		return err
	}
	if doc.Find(s.config.IndexSelector).Length() == 0 {
		return fmt.Errorf("protocol %s has no index table: %w", protocol, portal.ErrNotFound)
	}
	s.page = doc
	return nil
}

// ListIndices reads every index cell of the protocol page as printed.
func (s *Session) ListIndices(ctx context.Context) ([]string, error) {
	if s.page == nil {
		return nil, fmt.Errorf("no protocol page open")
	}
	var indices []string
	s.page.Find(s.config.IndexSelector).Each(func(_ int, cell *goquery.Selection) {
		text := htmlutil.Text(cell)
		if text == "" {
			return
		}
		indices = append(indices, text)
	})
	slog.DebugContext(ctx, "protocol indices read", "count", len(indices))
	return indices, nil
}

func (s *Session) Close() error {
	s.page = nil
	return s.client.Close()
}
