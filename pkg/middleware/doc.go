// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、リクエストIDの割り当て、CORS設定など、
// ゲートウェイの全エンドポイントで共通して使用するミドルウェアを含む。
package middleware
