package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/petervdpas/parley/internal/util"
)

const userAgent = "parley-relay/1.0"

func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = util.DefaultFetchTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout)
}

// LibreEngine talks to a LibreTranslate-compatible POST /translate endpoint.
type LibreEngine struct {
	apiKey     string
	httpClient *resty.Client
}

func NewLibreEngine(baseURL, apiKey string, timeout time.Duration) *LibreEngine {
	return &LibreEngine{apiKey: apiKey, httpClient: newHTTPClient(baseURL, timeout)}
}

func (e *LibreEngine) Name() string { return "libre" }

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (e *LibreEngine) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	var out libreResponse
	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(libreRequest{Q: text, Source: fromLang, Target: toLang, Format: "text", APIKey: e.apiKey}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/translate")
	if err != nil {
		return "", fmt.Errorf("libre request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("libre error (%d): %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.Error != "" {
		return "", fmt.Errorf("libre: %s", out.Error)
	}
	return out.TranslatedText, nil
}

// MyMemoryEngine queries the MyMemory GET /get endpoint. email raises the
// free daily quota when set.
type MyMemoryEngine struct {
	email      string
	httpClient *resty.Client
}

func NewMyMemoryEngine(baseURL, email string, timeout time.Duration) *MyMemoryEngine {
	if baseURL == "" {
		baseURL = "https://api.mymemory.translated.net"
	}
	return &MyMemoryEngine{email: email, httpClient: newHTTPClient(baseURL, timeout)}
}

func (e *MyMemoryEngine) Name() string { return "mymemory" }

type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	// Sent as a number on success and as a string on quota errors.
	ResponseStatus  json.Number `json:"responseStatus"`
	ResponseDetails string      `json:"responseDetails"`
}

func (e *MyMemoryEngine) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	req := e.httpClient.R().
		SetContext(ctx).
		SetQueryParam("q", text).
		SetQueryParam("langpair", fromLang+"|"+toLang)
	if e.email != "" {
		req.SetQueryParam("de", e.email)
	}

	var out myMemoryResponse
	resp, err := req.SetResult(&out).ForceContentType("application/json").Get("/get")
	if err != nil {
		return "", fmt.Errorf("mymemory request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("mymemory error (%d): %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if s := out.ResponseStatus.String(); s != "" && s != "200" {
		return "", fmt.Errorf("mymemory: status %s: %s", s, out.ResponseDetails)
	}
	return out.ResponseData.TranslatedText, nil
}
