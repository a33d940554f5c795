// Package catalog は路線ごとの停留所一覧を集約した駅カタログを構築する。
//
// 対象範囲のすべての路線について署名付きリクエストを並行に発行し、
// 結果を路線ID昇順で stop_id をキーにマージする（後勝ち）。
// マージ後の駅はロケールを考慮した比較で stop_name 昇順に並べる。
//
// 路線単位の失敗（通信エラー、JSONでないボディ、stops フィールドの欠落）は
// ログに記録したうえで「その路線の寄与なし」として扱い、構築は中断しない。
package catalog
