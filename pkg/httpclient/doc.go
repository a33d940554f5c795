// Package httpclient は上流APIを呼び出すHTTPクライアントを提供する。
//
// 署名済みの絶対URLに対してGETリクエストを送信し、JSONレスポンスを返す。
// リクエストIDの伝播と、呼び出し結果のメトリクス記録を共通化する。
// リトライは行わない。
package httpclient
