// Package departure は停留所の出発情報を上流APIから取得する。
// 署名付きリクエストを1回だけ発行し、上流のJSONをそのまま返す。
package departure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"

	"github.com/nao1215/ptvgateway/pkg/httpclient"
	"github.com/nao1215/ptvgateway/pkg/signer"
)

// Endpoint はメトリクスで使用する上流エンドポイント名。
const Endpoint = "departures"

// DefaultMaxResults は上流に要求する既定の最大件数。
const DefaultMaxResults = 10

// ErrMissingParameter は必須のクエリパラメータが指定されていない場合のエラー。
var ErrMissingParameter = errors.New("必須パラメータが指定されていません")

// Fetcher は署名付きURLからステータスを問わずJSONを取得する。
type Fetcher interface {
	Fetch(ctx context.Context, endpoint, url string) (*httpclient.Response, error)
}

// Service は出発情報を取得する。
type Service struct {
	// signer は上流リクエストの署名を行う。
	signer *signer.Signer
	// fetcher は上流APIを呼び出す。
	fetcher Fetcher
	// maxResults は上流に要求する最大件数。
	maxResults int
}

// New は新しいServiceを生成する。maxResultsが0以下の場合は DefaultMaxResults を使用する。
func New(s *signer.Signer, f Fetcher, maxResults int) *Service {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Service{
		signer:     s,
		fetcher:    f,
		maxResults: maxResults,
	}
}

// Path は停留所の出発情報を取得する上流パスを返す。stopIDはパスセグメントとしてエスケープする。
func Path(stopID string) string {
	return "/v3/departures/route_type/0/stop/" + url.PathEscape(stopID)
}

// Lookup は停留所stopIDの出発情報を取得する。
// stopIDが空の場合は署名も上流呼び出しも行わずに ErrMissingParameter を返す。
// 上流が2xx以外を返してもボディがJSONであればそのまま返す。
// 通信エラーとJSONとして不正なボディは呼び出し側に返す。
func (s *Service) Lookup(ctx context.Context, stopID string) (json.RawMessage, error) {
	if stopID == "" {
		return nil, fmt.Errorf("stop: %w", ErrMissingParameter)
	}

	params := s.signer.WithDevID(
		signer.Param{Key: "expand", Value: "route,direction,run"},
		signer.Param{Key: "max_results", Value: strconv.Itoa(s.maxResults)},
	)
	signedURL, err := s.signer.Sign(Path(stopID), params)
	if err != nil {
		return nil, fmt.Errorf("出発情報リクエストの署名に失敗: %w", err)
	}

	resp, err := s.fetcher.Fetch(ctx, Endpoint, signedURL)
	if err != nil {
		return nil, fmt.Errorf("停留所 %s の出発情報取得に失敗: %w", stopID, err)
	}
	if !resp.OK() {
		log.Printf("[Departure] 停留所 %s: 上流がstatus=%dを返しました", stopID, resp.StatusCode)
	}
	return resp.Body, nil
}
