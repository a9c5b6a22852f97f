// Package sisctm drives the cadastral mapping portal. Lot data is read from
// its feature service and the aerial print from its map service.
package sisctm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/scrapers/core"
)

type Config struct {
	BaseUrl string `json:"base_url"`
	// LoginUrl is the OpenID provider page that redirects back to the map.
	LoginUrl         string `json:"login_url"`
	LoggedInSelector string `json:"logged_in_selector"`

	FeaturePath    string `json:"feature_path"`
	MapPath        string `json:"map_path"`
	GeoLayer       string `json:"geo_layer"`
	LotLayer       string `json:"lot_layer"`
	PrintLayers    string `json:"print_layers"`
	IndexAttribute string `json:"index_attribute"`
	City           string `json:"city"`
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:          "https://sisctm.pbh.gov.br",
		LoginUrl:         "https://acesso.pbh.gov.br/auth/realms/PBH/protocol/openid-connect/auth?client_id=sisctm-mapa&response_type=code&redirect_uri=https%3A%2F%2Fsisctm.pbh.gov.br%2Fmapa%2Flogin",
		LoggedInSelector: "#q-app",
		FeaturePath:      "/geoserver/wfs",
		MapPath:          "/geoserver/wms",
		GeoLayer:         "ctm:iptu_ctm_geo",
		LotLayer:         "ctm:lote_cp_ativo",
		PrintLayers:      "ctm:ortofoto,ctm:lote_cp_ativo",
		IndexAttribute:   "INDICE_CADASTRAL",
		City:             "Belo Horizonte - MG",
	}
}

// AerialFile is the name the aerial print is saved under.
func AerialFile(index string) string {
	return fmt.Sprintf("sisctm_aereo_%s.png", index)
}

type feature struct {
	Bbox       []float64      `json:"bbox"`
	Properties map[string]any `json:"properties"`
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type Session struct {
	config  Config
	creds   cadastre.Credential
	client  *core.Client
	workDir string

	index string
	geo   *feature
}

var _ portal.Extractor = (*Session)(nil)

// Open returns an opener of fresh sisctm sessions, authenticated with the
// siatu realm.
func Open(config Config, opts core.ClientOptions) portal.Opener[*Session] {
	return func(ctx context.Context, creds cadastre.Credentials, workDir string) (*Session, error) {
		loginUrl, err := url.Parse(config.LoginUrl)
		if err != nil {
			return nil, fmt.Errorf("login url: %w", err)
		}
		clientOpts := opts
		clientOpts.Name = "sisctm"
		clientOpts.BaseUrl = config.BaseUrl
		clientOpts.AllowedHosts = append(slices.Clone(opts.AllowedHosts), loginUrl.Hostname())

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
	_, err := s.client.Document(ctx, s.config.LoginUrl, nil)
	return err
}

func (s *Session) Login(ctx context.Context) error {
	_, err := s.client.LoginForm(ctx, core.LoginFormOptions{
		Path:             s.config.LoginUrl,
		FormSelector:     "form#kc-form-servidor-login",
		UsernameField:    "username",
		PasswordField:    "password",
		Username:         s.creds.Username,
		Password:         s.creds.Password,
		LoggedInSelector: s.config.LoggedInSelector,
	})
	return err
}

func (s *Session) query(ctx context.Context, layer, index string) (*feature, error) {
	var out featureCollection
	err := s.client.JSON(ctx, s.config.FeaturePath, url.Values{
		"service":      {"WFS"},
		"version":      {"1.1.0"},
		"request":      {"GetFeature"},
		"typeName":     {layer},
		"outputFormat": {"application/json"},
		"CQL_FILTER":   {fmt.Sprintf("%s='%s'", s.config.IndexAttribute, index)},
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Features) == 0 {
		return nil, fmt.Errorf("layer %s index %s: %w", layer, index, portal.ErrNotFound)
	}
	return &out.Features[0], nil
}

// Navigate filters the lot layer down to an index.
func (s *Session) Navigate(ctx context.Context, index string) error {
	geo, err := s.query(ctx, s.config.GeoLayer, index)
	if err != nil {
		return err
	}
	s.index = index
	s.geo = geo
	return nil
}

func property(f *feature, key string) string {
	if f == nil {
		return ""
	}
	switch v := f.Properties[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Address assembles the lot address the way map services expect it:
// "<type> <name>[, <number>][ <complement>] - <city>[, <postal code>]".
func Address(props map[string]any, city string) cadastre.Value {
	f := &feature{Properties: props}
	name := property(f, "NOME_LOGRADOURO")
	if name == "" {
		return cadastre.NotInformed()
	}
	number := strings.ReplaceAll(property(f, "NUMERO_IMOVEL"), ".", "")

	address := strings.TrimSpace(property(f, "TIPO_LOGRADOURO") + " " + name)
	if number != "" {
		address += ", " + number
	}
	if complement := property(f, "COMPLEMENTO"); complement != "" {
		address += " " + complement
	}
	address += " - " + city
	if cep := property(f, "CEP"); cep != "" {
		address += ", " + cep
	}
	return cadastre.Text(address)
}

func (s *Session) printAerial(ctx context.Context) (string, error) {
	if len(s.geo.Bbox) < 4 {
		return "", fmt.Errorf("lot has no bounding box")
	}
	minX, minY, maxX, maxY := s.geo.Bbox[0], s.geo.Bbox[1], s.geo.Bbox[2], s.geo.Bbox[3]
	margin := max(maxX-minX, maxY-minY) * 0.5
	bbox := fmt.Sprintf("%f,%f,%f,%f", minX-margin, minY-margin, maxX+margin, maxY+margin)

	dest := filepath.Join(s.workDir, AerialFile(s.index))
	err := s.client.Screenshot(ctx, s.config.MapPath, url.Values{
		"service": {"WMS"},
		"version": {"1.1.1"},
		"request": {"GetMap"},
		"layers":  {s.config.PrintLayers},
		"bbox":    {bbox},
		"width":   {"1024"},
		"height":  {"1024"},
		"srs":     {"EPSG:31983"},
		"format":  {"image/png"},
	}, dest)
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Session) Extract(ctx context.Context) (portal.Extraction, error) {
	if s.geo == nil {
		return portal.Extraction{}, fmt.Errorf("no index selected")
	}

	fields := map[string]cadastre.Value{
		cadastre.FieldCtmGeoArea:     cadastre.ParseArea(property(s.geo, "AREA")),
		cadastre.FieldCtmGeoLandArea: cadastre.ParseArea(property(s.geo, "AREA_TERRENO")),
		cadastre.FieldCtmGeoAddress:  Address(s.geo.Properties, s.config.City),
		cadastre.FieldLotCpArea:      cadastre.NotInformed(),
	}

	lot, err := s.query(ctx, s.config.LotLayer, s.index)
	if err != nil {
		slog.WarnContext(ctx, "could not read lot cp area", "index", s.index, "err", err)
	} else {
		fields[cadastre.FieldLotCpArea] = cadastre.ParseArea(property(lot, "AREA_INFORMADA"))
	}

	var files []string
	aerial, err := s.printAerial(ctx)
	if err != nil {
		slog.WarnContext(ctx, "could not print aerial view", "index", s.index, "err", err)
	} else {
		files = append(files, aerial)
	}

	return portal.Extraction{Fields: fields, Files: files}, nil
}

func (s *Session) Close() error {
	s.geo = nil
	return s.client.Close()
}
