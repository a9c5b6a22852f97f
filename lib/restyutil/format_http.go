package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

var secretFields = []string{"pass", "senha", "token"}

func isSecret(name string) bool {
	name = strings.ToLower(name)
	for _, s := range secretFields {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{}
	for _, k := range keys {
		for _, v := range headers[k] {
			if strings.EqualFold(k, "cookie") || strings.EqualFold(k, "authorization") {
				v = "<redacted>"
			}
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

// redactForm hides credential fields of an url encoded form body.
func redactForm(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return "<unparsable form>"
	}
	for k := range values {
		if isSecret(k) {
			values.Set(k, "<redacted>")
		}
	}
	return values.Encode()
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	if strings.HasPrefix(req.Header.Get("content-type"), "application/x-www-form-urlencoded") {
		return redactForm(string(readBody))
	}
	return string(readBody)
}

func formatResponseBody(res *resty.Response) string {
	contentType := res.Header().Get("content-type")
	if strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "xml") {
		return res.String()
	}
	return fmt.Sprintf("<%d bytes of %s>", len(res.Body()), contentType)
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	responseUrl := res.Request.URL
	redirected, err := res.RawResponse.Location()
	if err == nil {
		responseUrl = redirected.String()
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, res.Request.URL,
		formatHeaders(res.Request.RawRequest.Header),
		formatRequestBody(res.Request.RawRequest),

		strconv.Itoa(res.StatusCode()), responseUrl,
		formatHeaders(res.Header()),
		formatResponseBody(res),
	)
}
