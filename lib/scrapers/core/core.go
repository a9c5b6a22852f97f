// Package core holds the HTTP client every portal driver is built on.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"
	"triagem/lib/portal"
	"triagem/lib/restyutil"
	"triagem/lib/retry"
	"triagem/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("triagem.lib.scrapers.core")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type ClientOptions struct {
	// Name prefixes spans and dumped messages, e.g. "siatu".
	Name    string
	BaseUrl string
	// AllowedHosts are hosts other than the base url's that redirects may
	// lead to, e.g. a single sign-on server.
	AllowedHosts []string
	// RequestsPerSecond throttles the session, zero means 2.
	RequestsPerSecond float64
	// Timeout bounds each request, zero means 30 seconds.
	Timeout time.Duration
	// DownloadWait bounds how long a finished download may take to show
	// up on disk.
	DownloadWait     retry.Policy
	CloudflareBypass bool
	Output           restyutil.InstrumentOutput
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	name         string
	downloadWait retry.Policy
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if baseUrl.Hostname() == "" {
		return nil, fmt.Errorf("base url %q has no host", opts.BaseUrl)
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	// siatu, sisctm and the login server share the pbh.gov.br session cookies
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	hosts := append([]string{baseUrl.Hostname()}, opts.AllowedHosts...)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	name := opts.Name
	if name == "" {
		name = baseUrl.Hostname()
	}
	telemetry.InstrumentResty(client, fmt.Sprintf("triagem.lib.scrapers.%s.http", name))
	restyutil.InstrumentClient(client, name, opts.Output)

	downloadWait := opts.DownloadWait
	if downloadWait.MaxAttempts == 0 && downloadWait.MaxDuration == 0 {
		downloadWait = retry.Within(time.Second*30, time.Millisecond*250)
	}

	return &Client{
		BaseUrl:      baseUrl,
		Http:         client,
		name:         name,
		downloadWait: downloadWait,
	}, nil
}

// Close drops the connections held by the session.
func (c *Client) Close() error {
	c.Http.GetClient().CloseIdleConnections()
	return nil
}

// CheckStatus turns error statuses into errors, 404 becomes
// portal.ErrNotFound.
func CheckStatus(res *resty.Response) error {
	if !res.IsError() {
		return nil
	}
	if res.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", res.Request.Method, res.Request.URL, portal.ErrNotFound)
	}
	return fmt.Errorf("%s %s: unexpected status %s", res.Request.Method, res.Request.URL, res.Status())
}

func parseDocument(res *resty.Response) (*goquery.Document, error) {
	err := CheckStatus(res)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, err
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		doc.Url = res.RawResponse.Request.URL
	}
	return doc, nil
}

// Document fetches a page and parses it.
func (c *Client) Document(ctx context.Context, path string, query url.Values) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:Document")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, err
	}
	doc, err := parseDocument(res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}
	return doc, nil
}

// PostForm submits form values to path and parses the page it leads to.
func (c *Client) PostForm(ctx context.Context, path string, form map[string]string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:PostForm")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post form")
		return nil, err
	}
	doc, err := parseDocument(res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}
	return doc, nil
}

// JSON fetches path and decodes the response into out.
func (c *Client) JSON(ctx context.Context, path string, query url.Values, out any) error {
	ctx, span := tracer.Start(ctx, "client:JSON")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetHeader("accept", "application/json").
		ForceContentType("application/json").
		SetResult(out).
		Get(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch json")
		return err
	}
	err = CheckStatus(res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return err
	}
	return nil
}

// Download streams path into dest. The body is written to
// dest + retry.InProgressSuffix and renamed once complete, so dest never
// holds a partial file.
func (c *Client) Download(ctx context.Context, path string, query url.Values, dest string) error {
	ctx, span := tracer.Start(ctx, "client:Download")
	defer span.End()
	span.SetAttributes(
		attribute.String("path", path),
		attribute.String("dest", filepath.Base(dest)),
	)

	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	partial := dest + retry.InProgressSuffix

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetOutput(partial).
		Get(path)
	if err == nil {
		err = CheckStatus(res)
	}
	if err != nil {
		os.Remove(partial)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download")
		return err
	}

	err = os.Rename(partial, dest)
	if err != nil {
		os.Remove(partial)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move download into place")
		return err
	}

	err = retry.WaitForFile(ctx, dest, c.downloadWait)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download never completed")
		return err
	}
	return nil
}

var ErrNotImage = errors.New("response is not an image")

// Screenshot downloads an image into dest, anything other than an image
// response is rejected and nothing is left behind.
func (c *Client) Screenshot(ctx context.Context, path string, query url.Values, dest string) error {
	err := c.Download(ctx, path, query, dest)
	if err != nil {
		return err
	}

	f, err := os.Open(dest)
	if err != nil {
		return err
	}
	head := make([]byte, 512)
	n, _ := f.Read(head)
	f.Close()

	if !bytes.HasPrefix([]byte(http.DetectContentType(head[:n])), []byte("image/")) {
		os.Remove(dest)
		return fmt.Errorf("%s: %w", filepath.Base(dest), ErrNotImage)
	}
	return nil
}
