package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GatewayOpener drives sessions through the session-gateway sidecar that
// actually speaks the upstream protocol. The relay only knows the
// gateway's small open/exchange/close surface; everything behind it stays
// opaque.
type GatewayOpener struct {
	baseURL    string
	httpClient *http.Client
}

// NewGatewayOpener builds an opener against the gateway base URL.
func NewGatewayOpener(baseURL string) *GatewayOpener {
	return &GatewayOpener{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Exchanges block on full upstream generation.
			Timeout: 5 * time.Minute,
		},
	}
}

type openRequest struct {
	PSID    string            `json:"psid"`
	PSIDTS  string            `json:"psidts"`
	Proxy   string            `json:"proxy,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

// Open starts a gateway session as the given browser identity. The
// per-account proxy and captured headers ride along so the gateway's
// outbound calls keep that account's fingerprint.
func (o *GatewayOpener) Open(ctx context.Context, creds Credentials) (Session, error) {
	body, err := json.Marshal(openRequest{
		PSID:    creds.PSID,
		PSIDTS:  creds.PSIDTS,
		Proxy:   creds.Proxy,
		Headers: creds.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session open: %w", err)
	}

	var opened openResponse
	if err := o.do(ctx, http.MethodPost, "/sessions", bytes.NewReader(body), &opened); err != nil {
		return nil, err
	}
	if opened.SessionID == "" {
		return nil, fmt.Errorf("session gateway returned no session id")
	}
	return &gatewaySession{opener: o, id: opened.SessionID}, nil
}

type gatewaySession struct {
	opener *GatewayOpener
	id     string
}

type exchangeRequest struct {
	Prompt     string         `json:"prompt"`
	Files      []exchangeFile `json:"files,omitempty"`
	WantImages bool           `json:"want_images,omitempty"`
}

type exchangeFile struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}

type exchangeResponse struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"` // base64
	Error  string   `json:"error,omitempty"`
}

func (s *gatewaySession) Exchange(ctx context.Context, prompt string, files []string, wantImages bool) (*Reply, error) {
	req := exchangeRequest{Prompt: prompt, WantImages: wantImages}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", path, err)
		}
		req.Files = append(req.Files, exchangeFile{
			Name: filepath.Base(path),
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode exchange: %w", err)
	}

	var result exchangeResponse
	if err := s.opener.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(s.id)+"/exchange", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		// Gateway-relayed upstream failures carry the upstream's own
		// wording, which the retry policy's predicate inspects.
		return nil, fmt.Errorf("upstream exchange: %s", result.Error)
	}

	reply := &Reply{Text: result.Text}
	for _, encoded := range result.Images {
		img, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode generated image: %w", err)
		}
		reply.Images = append(reply.Images, img)
	}
	return reply, nil
}

func (s *gatewaySession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.opener.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(s.id), nil, nil)
}

func (o *GatewayOpener) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("session gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
