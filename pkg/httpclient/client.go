package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout はHTTPクライアントの既定タイムアウト。
const DefaultTimeout = 30 * time.Second

// Observer は上流呼び出しの結果を受け取る。
type Observer interface {
	ObserveUpstream(endpoint string, started time.Time, err error)
}

// Client は上流API呼び出し用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// observer は呼び出し結果の記録先。nilの場合は記録しない。
	observer Observer
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithObserver は呼び出し結果の記録先を設定する。
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New は新しいHTTPクライアントを生成する。timeoutが0以下の場合は DefaultTimeout を使用する。
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpstreamError は上流API呼び出しの失敗を表す。
// 通信エラー、JSONとして不正なボディ、または GetRaw での2xx以外のステータス。
type UpstreamError struct {
	// URL はクエリを除いた呼び出し先URL。
	URL string
	// StatusCode はHTTPステータス。レスポンスを受け取れなかった場合は0。
	StatusCode int
	// Err は原因となったエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("上流API呼び出しに失敗: url=%s, status=%d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("上流API呼び出しに失敗: url=%s: %v", e.URL, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// GetJSON はurlにGETリクエストを送信し、レスポンスボディをresultにデシリアライズする。
// 数値は json.Number として保持する。endpointはメトリクスのラベルに使用する。
func (c *Client) GetJSON(ctx context.Context, endpoint, url string, result any) error {
	body, err := c.GetRaw(ctx, endpoint, url)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(result); err != nil {
		return &UpstreamError{
			URL: redact(url),
			Err: fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err),
		}
	}
	return nil
}

// Response は上流から受け取ったステータスとJSONボディ。
type Response struct {
	// StatusCode はHTTPステータス。
	StatusCode int
	// Body はJSONとして妥当なレスポンスボディ。
	Body json.RawMessage
}

// OK はステータスが2xxかを返す。
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetch はurlにGETリクエストを送信し、ステータスを問わずレスポンスを返す。
// ボディがJSONとして不正な場合のみ UpstreamError になる。
func (c *Client) Fetch(ctx context.Context, endpoint, url string) (resp *Response, err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(endpoint, started, err)
		}
	}()

	resp, err = c.do(ctx, url)
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, &UpstreamError{URL: redact(url), StatusCode: resp.StatusCode, Err: errors.New("レスポンスがJSONではありません")}
	}
	return resp, nil
}

// GetRaw はurlにGETリクエストを送信し、JSONとして妥当なレスポンスボディをそのまま返す。
// 2xx以外のステータスは UpstreamError になる。
func (c *Client) GetRaw(ctx context.Context, endpoint, url string) (body json.RawMessage, err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(endpoint, started, err)
		}
	}()

	resp, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		return nil, &UpstreamError{
			URL:        redact(url),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTPエラー: body=%s", truncate(resp.Body, 512)),
		}
	}

	if !json.Valid(resp.Body) {
		return nil, &UpstreamError{URL: redact(url), StatusCode: resp.StatusCode, Err: errors.New("レスポンスがJSONではありません")}
	}
	return resp.Body, nil
}

// do はGETリクエストを送信し、ステータスと未検証のボディを返す。
func (c *Client) do(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{URL: redact(url), Err: fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	// コンテキストからリクエストIDを伝播する
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		req.Header.Set(HeaderRequestID, requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: redact(url), Err: fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{URL: redact(url), StatusCode: resp.StatusCode, Err: fmt.Errorf("レスポンスの読み取りに失敗: %w", err)}
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// redact はURLからクエリ文字列（devidと署名）を取り除く。
func redact(url string) string {
	base, _, _ := strings.Cut(url, "?")
	return base
}

// truncate はbを最大nバイトに切り詰めた文字列を返す。
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 上流呼び出し時にリクエストIDを伝播するために使用する。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
