// Package config はゲートウェイの設定を読み込み、検証する。
//
// 設定値は 既定値 → YAMLファイル（CONFIG_FILE） → .envファイル → 環境変数 の順に
// 上書きされる。署名鍵が無い場合も読み込み自体は成功し、署名が必要な
// エンドポイントが設定エラーを返す。
package config
