package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/nao1215/ptvgateway/pkg/signer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Endpoint はメトリクスで使用する上流エンドポイント名。
const Endpoint = "stops"

// 既定の路線範囲。route_type 0（電車）の路線ID 1〜17。
const (
	DefaultFirstRoute = 1
	DefaultLastRoute  = 17
)

// RouteTypeTrain は上流APIの route_type で電車を表す値。
const RouteTypeTrain = 0

// errMissingStops は stops フィールドが無いレスポンスを表す。
var errMissingStops = errors.New("レスポンスに stops 配列がありません")

// Fetcher は署名付きURLからJSONを取得する。
type Fetcher interface {
	GetJSON(ctx context.Context, endpoint, url string, result any) error
}

// Recorder は構築結果を記録する。
type Recorder interface {
	RouteFailed(routeID int)
	CatalogBuilt(stations int)
}

// nopRecorder は何も記録しないRecorder。
type nopRecorder struct{}

func (nopRecorder) RouteFailed(int)  {}
func (nopRecorder) CatalogBuilt(int) {}

// Aggregator は駅カタログを構築する。
type Aggregator struct {
	// signer は上流リクエストの署名を行う。
	signer *signer.Signer
	// fetcher は上流APIを呼び出す。
	fetcher Fetcher
	// firstRoute は対象とする最初の路線ID。
	firstRoute int
	// lastRoute は対象とする最後の路線ID。
	lastRoute int
	// concurrency は同時に発行する上流呼び出しの上限。
	concurrency int
	// recorder は構築結果の記録先。
	recorder Recorder
}

// Option はAggregatorの設定を変更する。
type Option func(*Aggregator)

// WithRoutes は対象とする路線IDの範囲（両端を含む）を設定する。
func WithRoutes(first, last int) Option {
	return func(a *Aggregator) {
		a.firstRoute = first
		a.lastRoute = last
	}
}

// WithConcurrency は同時に発行する上流呼び出しの上限を設定する。1で逐次実行になる。
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithRecorder は構築結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

// New は新しいAggregatorを生成する。
func New(s *signer.Signer, f Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		signer:      s,
		fetcher:     f,
		firstRoute:  DefaultFirstRoute,
		lastRoute:   DefaultLastRoute,
		concurrency: DefaultLastRoute - DefaultFirstRoute + 1,
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StopsPath は路線routeIDの停留所一覧を取得する上流パスを返す。
func StopsPath(routeID int) string {
	return fmt.Sprintf("/v3/stops/route/%d/route_type/%d", routeID, RouteTypeTrain)
}

// routeResult は1路線分の取得結果。
type routeResult struct {
	routeID  int
	stations []Station
	err      error
}

// Build は駅カタログを構築する。路線単位の失敗は寄与なしとして扱うため、エラーは返さない。
func (a *Aggregator) Build(ctx context.Context) Catalog {
	results := a.fetchAll(ctx)

	stations, failed := merge(results)
	for _, id := range failed {
		a.recorder.RouteFailed(id)
	}
	sortByName(stations)
	a.recorder.CatalogBuilt(len(stations))

	return Catalog{
		TotalStations: len(stations),
		Stations:      stations,
		FailedRoutes:  failed,
	}
}

// fetchAll は全路線の停留所一覧を並行に取得する。
// 結果は完了順ではなく路線ID昇順のスライスに格納する。
func (a *Aggregator) fetchAll(ctx context.Context) []routeResult {
	n := a.lastRoute - a.firstRoute + 1
	if n <= 0 {
		return nil
	}
	results := make([]routeResult, n)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := 0; i < n; i++ {
		i := i
		routeID := a.firstRoute + i
		g.Go(func() error {
			stations, err := a.fetchRoute(ctx, routeID)
			if err != nil {
				log.Printf("[Catalog] 路線 %d の停留所取得に失敗: %v", routeID, err)
			}
			results[i] = routeResult{routeID: routeID, stations: stations, err: err}
			// 他の路線の取得を止めないため、常にnilを返す
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetchRoute は1路線分の停留所一覧を取得する。
func (a *Aggregator) fetchRoute(ctx context.Context, routeID int) ([]Station, error) {
	url, err := a.signer.Sign(StopsPath(routeID), a.signer.WithDevID())
	if err != nil {
		return nil, fmt.Errorf("停留所リクエストの署名に失敗: %w", err)
	}

	var resp stopsResponse
	if err := a.fetcher.GetJSON(ctx, Endpoint, url, &resp); err != nil {
		return nil, err
	}
	if resp.Stops == nil {
		return nil, errMissingStops
	}

	stations := make([]Station, 0, len(*resp.Stops))
	for _, raw := range *resp.Stops {
		st, err := decodeStation(raw)
		if err != nil {
			log.Printf("[Catalog] 路線 %d の停留所レコードをスキップ: %v", routeID, err)
			continue
		}
		stations = append(stations, st)
	}
	return stations, nil
}

// merge は路線ID昇順に並んだ結果を stop_id をキーにマージする。
// 同じ stop_id が複数の路線に現れた場合は、後の路線のレコードで丸ごと置き換える。
// 駅の並びは stop_id が最初に現れた位置を保つ。
func merge(results []routeResult) (stations []Station, failed []int) {
	stations = make([]Station, 0)
	index := make(map[string]int)

	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r.routeID)
			continue
		}
		for _, st := range r.stations {
			id := st.ID()
			if i, ok := index[id]; ok {
				stations[i] = st
				continue
			}
			index[id] = len(stations)
			stations = append(stations, st)
		}
	}
	return stations, failed
}

// sortByName は stop_name のロケールを考慮した比較で昇順に並べる。
func sortByName(stations []Station) {
	c := newCollator()
	slices.SortStableFunc(stations, func(a, b Station) int {
		return c.CompareString(a.Name(), b.Name())
	})
}

// newCollator は駅名の比較に使用する照合器を生成する。
// collate.Collator は並行利用できないため、呼び出しごとに生成する。
func newCollator() *collate.Collator {
	return collate.New(language.English)
}
