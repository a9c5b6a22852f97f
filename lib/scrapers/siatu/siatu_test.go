package siatu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/scrapers/core"

	"github.com/stretchr/testify/require"
)

const consultPage = `<html><body>
<table class="dadosImovel">
	<tr><td>Índice Cadastral:</td><td>0123456789</td></tr>
	<tr><td>Área Construída Total:</td><td>1.088,24 m²</td></tr>
	<tr><td>Exercício:</td><td>2024</td></tr>
	<tr><td>Tipo de Uso:</td><td>Residencial</td></tr>
	<tr><td>Endereço do Imóvel:</td><td>RUA DA BAHIA, 1000 - CENTRO</td></tr>
	<tr><td>Número da Matrícula:</td><td></td></tr>
</table>
</body></html>`

type fakeSiatu struct {
	polls atomic.Int32
}

func (f *fakeSiatu) serve(t testing.TB) Config {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<form action="/login"><input name="usuario"><input name="senha" type="password"></form>`))
			return
		}
		r.ParseForm()
		if r.PostForm.Get("senha") != "siatu-pass" {
			w.Write([]byte(`<p>Senha inválida</p>`))
			return
		}
		w.Write([]byte(`<iframe name="iframe" src="/menu"></iframe>`))
	})
	mux.HandleFunc("/consulta", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("indiceCadastral") != "0123456789" {
			w.Write([]byte(`<p>Índice não encontrado</p>`))
			return
		}
		w.Write([]byte(consultPage))
	})
	mux.HandleFunc("/gerar", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		require.Equal(t, "2024", r.PostForm.Get("exercicio"))
		w.Write([]byte(`<p>Solicitação enviada</p>`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		if f.polls.Add(1) < 3 {
			w.Write([]byte(`{"pronto": false}`))
			return
		}
		w.Write([]byte(`{"pronto": true}`))
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 planta"))
	})
	mux.HandleFunc("/anexos", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table>
			<tr><td><a href="/doc/1">Croqui.pdf</a></td><td>01/01/2020</td></tr>
			<tr><td><a href="/doc/2">Foto.jpg</a></td><td>01/01/2020</td></tr>
			<tr><td><a href="/doc/3">Certidão Baixa (1).PDF</a></td><td>01/01/2020</td></tr>
			<tr><td><a href="/doc/missing">Perdido.pdf</a></td><td>01/01/2020</td></tr>
		</table>`))
	})
	mux.HandleFunc("/doc/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 croqui"))
	})
	mux.HandleFunc("/doc/3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 baixa"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	config := DefaultConfig()
	config.BaseUrl = srv.URL
	config.LoginPath = "/login"
	config.ConsultPath = "/consulta"
	config.GeneratePath = "/gerar"
	config.StatusPath = "/status"
	config.DownloadPath = "/download"
	config.AttachmentsPath = "/anexos"
	config.GenerationTimeoutSeconds = 5
	config.PollIntervalMillis = 1
	return config
}

var creds = cadastre.Credentials{
	Siatu: cadastre.Credential{Username: "fiscal", Password: "siatu-pass"},
}

func extract(ctx context.Context, s *Session) (portal.Extraction, error) {
	return s.Extract(ctx)
}

func TestExtract(t *testing.T) {
	fake := &fakeSiatu{}
	config := fake.serve(t)
	dir := t.TempDir()

	out, err := portal.Run(
		context.Background(),
		Open(config, core.ClientOptions{RequestsPerSecond: 1000}),
		creds, dir, "0123456789", extract,
	)
	require.NoError(t, err)

	require.Equal(t, cadastre.Area(1088.24), out.Fields[cadastre.FieldBuiltArea])
	require.Equal(t, cadastre.Text("2024"), out.Fields[cadastre.FieldFiscalYear])
	require.Equal(t, cadastre.Text("Residencial"), out.Fields[cadastre.FieldUsageType])
	require.Equal(t, cadastre.Text("RUA DA BAHIA, 1000 - CENTRO"), out.Fields[cadastre.FieldPropertyAddress])
	require.False(t, out.Fields[cadastre.FieldRegistryNumber].Informed())
	require.False(t, out.Fields[cadastre.FieldNotary].Informed())
	require.GreaterOrEqual(t, fake.polls.Load(), int32(3))

	require.Equal(t, []string{
		filepath.Join(dir, "Planta_Basica_0123456789.pdf"),
		filepath.Join(dir, "Croqui.pdf"),
		filepath.Join(dir, "Certidão Baixa (1).PDF"),
	}, out.Files)

	plan, err := os.ReadFile(filepath.Join(dir, "Planta_Basica_0123456789.pdf"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 planta", string(plan))
	require.NoFileExists(t, filepath.Join(dir, "Foto.jpg"))
	require.NoFileExists(t, filepath.Join(dir, "Perdido.pdf"))
}

func TestUnknownIndex(t *testing.T) {
	fake := &fakeSiatu{}
	config := fake.serve(t)

	_, err := portal.Run(
		context.Background(),
		Open(config, core.ClientOptions{RequestsPerSecond: 1000}),
		creds, t.TempDir(), "999", extract,
	)
	require.ErrorIs(t, err, portal.ErrNotFound)
	require.Equal(t, portal.STEP_NAVIGATE, portal.FailedStep(err))
}

func TestGenerationTimeout(t *testing.T) {
	fake := &fakeSiatu{}
	config := fake.serve(t)
	fake.polls.Store(-1_000_000)
	config.GenerationTimeoutSeconds = 0
	config.PollIntervalMillis = 1

	_, err := portal.Run(
		context.Background(),
		Open(config, core.ClientOptions{RequestsPerSecond: 1000}),
		creds, t.TempDir(), "0123456789", extract,
	)
	require.Error(t, err)
	require.Equal(t, portal.STEP_EXTRACT, portal.FailedStep(err))
}
