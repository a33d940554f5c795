// Package gateway はPTV Timetable APIの前段に立つHTTPゲートウェイを提供する。
//
// クライアントには署名の仕組みを見せず、2つの読み取りエンドポイントを公開する。
//   - GET /?stop=<id>: 停留所の出発情報（上流JSONをそのまま返す）
//   - GET /stations: 全路線の停留所を集約した駅カタログ
//
// 上流呼び出しの失敗の扱いはエンドポイントごとに異なる。出発情報は1回の
// 呼び出しの失敗を502として返し、駅カタログは路線単位の失敗を握りつぶして
// 残りの路線から構築する。
package gateway
