package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Station は上流APIが返す停留所レコード。
// stop_id と stop_name 以外のフィールドは解釈せずにそのまま返す。
type Station map[string]any

// ID は stop_id の値をJSON表現で返す。数値の 1000 と文字列の "1000" は別のIDとして扱う。
// 数値は float64 として正規化するため 1000 と 1000.0 は同じIDになる。
// stop_id が無い場合は "null" になる。
func (s Station) ID() string {
	if n, ok := s["stop_id"].(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	b, err := json.Marshal(s["stop_id"])
	if err != nil {
		return fmt.Sprint(s["stop_id"])
	}
	return string(b)
}

// Name は stop_name を返す。無い場合は空文字列。
func (s Station) Name() string {
	switch v := s["stop_name"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// stopsResponse は停留所一覧APIのレスポンス。
type stopsResponse struct {
	// Stops は停留所の配列。フィールドが無い、またはnullの場合はnil。
	Stops *[]json.RawMessage `json:"stops"`
}

// decodeStation は1件の停留所レコードをデコードする。数値は json.Number として保持する。
func decodeStation(raw json.RawMessage) (Station, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var st Station
	if err := dec.Decode(&st); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("停留所レコードがオブジェクトではありません: %s", raw)
	}
	return st, nil
}

// Catalog は重複を除いてソートした駅カタログ。
type Catalog struct {
	// TotalStations は駅数。
	TotalStations int `json:"total_stations"`
	// Stations は stop_name 昇順の駅一覧。
	Stations []Station `json:"stations"`
	// FailedRoutes は寄与が無かった（失敗した）路線ID。既定のJSONには含めない。
	FailedRoutes []int `json:"-"`
}

// Degraded は一部の路線が失敗したかを返す。
func (c Catalog) Degraded() bool {
	return len(c.FailedRoutes) > 0
}
