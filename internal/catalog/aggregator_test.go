package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/ptvgateway/pkg/httpclient"
	"github.com/nao1215/ptvgateway/pkg/signer"
)

// testCreds はテスト用の認証情報。
var testCreds = signer.Credentials{DevID: "3000123", Key: "test-key"}

// routeHandler は路線IDごとのレスポンスを返す関数。
// statusが0の場合は200として扱う。
type routeHandler func(routeID int) (status int, body string)

// newUpstream は停留所一覧APIを模したテスト用サーバーを生成する。
// 署名が正しくないリクエストには403を返す。
func newUpstream(t *testing.T, h routeHandler) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var routeID int
		if _, err := fmt.Sscanf(r.URL.Path, "/v3/stops/route/%d/route_type/0", &routeID); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		query, sig, _ := strings.Cut(r.URL.RawQuery, "&signature=")
		if sig != signer.Signature(testCreds.Key, r.URL.Path+"?"+query) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"Forbidden"}`))
			return
		}

		status, body := h(routeID)
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// stopsBody は停留所一覧レスポンスのJSONを生成する。
func stopsBody(stations ...map[string]any) string {
	if stations == nil {
		stations = []map[string]any{}
	}
	b, _ := json.Marshal(map[string]any{
		"stops":  stations,
		"status": map[string]any{"version": "3.0", "health": 1},
	})
	return string(b)
}

// uniqueStation は路線ごとに固有の停留所を返す。
func uniqueStation(routeID int) map[string]any {
	return map[string]any{
		"stop_id":     1000 + routeID*10,
		"stop_name":   fmt.Sprintf("Station %02d", routeID),
		"route_type":  0,
		"stop_suburb": "Melbourne",
	}
}

// newTestAggregator はテスト用のAggregatorを生成する。
func newTestAggregator(ts *httptest.Server, opts ...Option) *Aggregator {
	return New(signer.New(ts.URL, testCreds), httpclient.New(5*time.Second), opts...)
}

// findStation はstop_idに一致する駅を返す。
func findStation(t *testing.T, c Catalog, id string) []Station {
	t.Helper()

	var found []Station
	for _, st := range c.Stations {
		if st.ID() == id {
			found = append(found, st)
		}
	}
	return found
}

// TestBuild はBuildを検証する。
func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("複数路線に現れる駅は後の路線のレコードで置き換えられること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(routeID int) (int, string) {
			stations := []map[string]any{uniqueStation(routeID)}
			switch routeID {
			case 5:
				stations = append(stations, map[string]any{"stop_id": 1000, "stop_name": "Old Name", "stop_suburb": "Old"})
			case 12:
				stations = append(stations, map[string]any{"stop_id": 1000, "stop_name": "New Name"})
			}
			return 0, stopsBody(stations...)
		})

		c := newTestAggregator(ts).Build(context.Background())

		if c.TotalStations != 18 {
			t.Errorf("TotalStations = %d, want 18", c.TotalStations)
		}
		if len(c.Stations) != c.TotalStations {
			t.Errorf("len(Stations) = %d, want %d", len(c.Stations), c.TotalStations)
		}

		found := findStation(t, c, "1000")
		if len(found) != 1 {
			t.Fatalf("stop_id=1000 の件数 = %d, want 1", len(found))
		}
		if found[0].Name() != "New Name" {
			t.Errorf("stop_name = %q, want %q", found[0].Name(), "New Name")
		}
		// フィールド単位のマージではなく丸ごと置き換え
		if _, ok := found[0]["stop_suburb"]; ok {
			t.Error("route 5 の stop_suburb が残っている")
		}
		if c.Degraded() {
			t.Errorf("FailedRoutes = %v, want empty", c.FailedRoutes)
		}
	})

	t.Run("並行取得の完了順に関わらず路線ID順に後勝ちになること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(routeID int) (int, string) {
			switch routeID {
			case 5:
				// route 12 より後に完了させる
				time.Sleep(100 * time.Millisecond)
				return 0, stopsBody(map[string]any{"stop_id": 1000, "stop_name": "Old Name"})
			case 12:
				return 0, stopsBody(map[string]any{"stop_id": 1000, "stop_name": "New Name"})
			}
			return 0, stopsBody()
		})

		c := newTestAggregator(ts).Build(context.Background())

		found := findStation(t, c, "1000")
		if len(found) != 1 || found[0].Name() != "New Name" {
			t.Errorf("stop_id=1000 = %v, want New Name", found)
		}
	})

	t.Run("逐次取得でも同じカタログになること", func(t *testing.T) {
		t.Parallel()

		h := func(routeID int) (int, string) {
			return 0, stopsBody(uniqueStation(routeID), map[string]any{"stop_id": 1, "stop_name": fmt.Sprintf("Shared %d", routeID)})
		}
		ts := newUpstream(t, h)

		parallel := newTestAggregator(ts).Build(context.Background())
		sequential := newTestAggregator(ts, WithConcurrency(1)).Build(context.Background())

		if !reflect.DeepEqual(parallel, sequential) {
			t.Errorf("並行取得と逐次取得の結果が異なる:\n%v\n%v", parallel, sequential)
		}
		if found := findStation(t, parallel, "1"); len(found) != 1 || found[0].Name() != "Shared 17" {
			t.Errorf("stop_id=1 = %v, want Shared 17", found)
		}
	})

	t.Run("一部の路線が失敗しても寄与なしとして構築されること", func(t *testing.T) {
		t.Parallel()

		failing := newUpstream(t, func(routeID int) (int, string) {
			switch routeID {
			case 3:
				return http.StatusInternalServerError, `{"message":"error"}`
			case 9:
				return 0, `<html>not json</html>`
			}
			return 0, stopsBody(uniqueStation(routeID))
		})
		empty := newUpstream(t, func(routeID int) (int, string) {
			if routeID == 3 || routeID == 9 {
				return 0, stopsBody()
			}
			return 0, stopsBody(uniqueStation(routeID))
		})

		got := newTestAggregator(failing).Build(context.Background())
		want := newTestAggregator(empty).Build(context.Background())

		if got.TotalStations != want.TotalStations || got.TotalStations != 15 {
			t.Errorf("TotalStations = %d, want %d (15)", got.TotalStations, want.TotalStations)
		}
		if !reflect.DeepEqual(got.Stations, want.Stations) {
			t.Errorf("Stations = %v, want %v", got.Stations, want.Stations)
		}
		if !slices.Equal(got.FailedRoutes, []int{3, 9}) {
			t.Errorf("FailedRoutes = %v, want [3 9]", got.FailedRoutes)
		}
		if !got.Degraded() {
			t.Error("Degraded() = false, want true")
		}
	})

	t.Run("stopsフィールドが無いレスポンスは失敗として扱われること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(routeID int) (int, string) {
			switch routeID {
			case 1:
				return 0, `{"status":{"health":1}}`
			case 2:
				return 0, `{"stops":null}`
			case 3:
				return 0, `{"stops":{"stop_id":1}}`
			}
			return 0, stopsBody(uniqueStation(routeID))
		})

		c := newTestAggregator(ts).Build(context.Background())

		if c.TotalStations != 14 {
			t.Errorf("TotalStations = %d, want 14", c.TotalStations)
		}
		if !slices.Equal(c.FailedRoutes, []int{1, 2, 3}) {
			t.Errorf("FailedRoutes = %v, want [1 2 3]", c.FailedRoutes)
		}
	})

	t.Run("すべての路線が失敗した場合は空のカタログになること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(int) (int, string) {
			return http.StatusServiceUnavailable, ``
		})

		c := newTestAggregator(ts).Build(context.Background())

		if c.TotalStations != 0 {
			t.Errorf("TotalStations = %d, want 0", c.TotalStations)
		}
		if c.Stations == nil {
			t.Error("Stations がnil（JSONでnullになる）")
		}
		if len(c.FailedRoutes) != 17 {
			t.Errorf("len(FailedRoutes) = %d, want 17", len(c.FailedRoutes))
		}
	})

	t.Run("署名鍵が無い場合は上流を呼び出さずに空のカタログになること", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		calls := 0
		ts := newUpstream(t, func(int) (int, string) {
			mu.Lock()
			calls++
			mu.Unlock()
			return 0, stopsBody()
		})

		a := New(signer.New(ts.URL, signer.Credentials{DevID: "1"}), httpclient.New(0))
		c := a.Build(context.Background())

		if c.TotalStations != 0 {
			t.Errorf("TotalStations = %d, want 0", c.TotalStations)
		}
		mu.Lock()
		defer mu.Unlock()
		if calls != 0 {
			t.Errorf("上流呼び出し回数 = %d, want 0", calls)
		}
	})

	t.Run("設定した路線範囲だけが呼び出されること", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var called []int
		ts := newUpstream(t, func(routeID int) (int, string) {
			mu.Lock()
			called = append(called, routeID)
			mu.Unlock()
			return 0, stopsBody(uniqueStation(routeID))
		})

		c := newTestAggregator(ts, WithRoutes(4, 6)).Build(context.Background())

		if c.TotalStations != 3 {
			t.Errorf("TotalStations = %d, want 3", c.TotalStations)
		}
		mu.Lock()
		defer mu.Unlock()
		slices.Sort(called)
		if !slices.Equal(called, []int{4, 5, 6}) {
			t.Errorf("呼び出された路線 = %v, want [4 5 6]", called)
		}
	})

	t.Run("未知のフィールドと数値の精度がそのまま保持されること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(routeID int) (int, string) {
			if routeID == 1 {
				return 0, `{"stops":[{"stop_id":1071,"stop_name":"Flinders Street","stop_latitude":-37.8183051,"routes":[{"route_id":1}]}]}`
			}
			return 0, stopsBody()
		})

		c := newTestAggregator(ts).Build(context.Background())

		if c.TotalStations != 1 {
			t.Fatalf("TotalStations = %d, want 1", c.TotalStations)
		}
		b, err := json.Marshal(c.Stations[0])
		if err != nil {
			t.Fatalf("駅のシリアライズに失敗: %v", err)
		}
		want := `{"routes":[{"route_id":1}],"stop_id":1071,"stop_latitude":-37.8183051,"stop_name":"Flinders Street"}`
		if string(b) != want {
			t.Errorf("駅 = %s, want %s", b, want)
		}
	})

	t.Run("オブジェクトでない停留所レコードはスキップされること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(routeID int) (int, string) {
			if routeID == 1 {
				return 0, `{"stops":[null, 42, {"stop_id":1,"stop_name":"A"}]}`
			}
			return 0, stopsBody()
		})

		c := newTestAggregator(ts).Build(context.Background())

		if c.TotalStations != 1 {
			t.Errorf("TotalStations = %d, want 1", c.TotalStations)
		}
		if c.Degraded() {
			t.Errorf("FailedRoutes = %v, want empty", c.FailedRoutes)
		}
	})

	t.Run("Recorderに失敗路線と駅数が記録されること", func(t *testing.T) {
		t.Parallel()

		ts := newUpstream(t, func(routeID int) (int, string) {
			if routeID == 7 {
				return http.StatusInternalServerError, ``
			}
			return 0, stopsBody(uniqueStation(routeID))
		})

		rec := &fakeRecorder{}
		newTestAggregator(ts, WithRecorder(rec)).Build(context.Background())

		if !slices.Equal(rec.failed, []int{7}) {
			t.Errorf("失敗路線 = %v, want [7]", rec.failed)
		}
		if rec.built != 16 {
			t.Errorf("駅数 = %d, want 16", rec.built)
		}
	})
}

// fakeRecorder は記録内容を保持するRecorder。
type fakeRecorder struct {
	failed []int
	built  int
}

func (r *fakeRecorder) RouteFailed(routeID int)   { r.failed = append(r.failed, routeID) }
func (r *fakeRecorder) CatalogBuilt(stations int) { r.built = stations }

// TestStopsPath はStopsPathを検証する。
func TestStopsPath(t *testing.T) {
	t.Parallel()

	if got := StopsPath(12); got != "/v3/stops/route/12/route_type/0" {
		t.Errorf("StopsPath() = %q", got)
	}
}
