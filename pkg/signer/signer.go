package signer

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // 上流APIがHMAC-SHA1を要求する
	"encoding/hex"
	"errors"
	"strings"
)

// DefaultBaseURL はPTV Timetable APIのベースURL。
const DefaultBaseURL = "https://timetableapi.ptv.vic.gov.au"

// ErrMissingSecret は署名鍵が設定されていない場合のエラー。
// 設定エラーであり、リトライしても回復しない。
var ErrMissingSecret = errors.New("署名鍵が設定されていません")

// Param はクエリパラメータのキーと値の組。
type Param struct {
	// Key はパラメータ名。
	Key string
	// Value はパラメータ値。呼び出し側で必要なエスケープを済ませておくこと。
	Value string
}

// Params は順序付きのクエリパラメータ列。
type Params []Param

// Encode はパラメータを "key=value" の形で "&" 連結する。
// 順序は保持し、エスケープは行わない。
func (p Params) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(param.Key)
		b.WriteByte('=')
		b.WriteString(param.Value)
	}
	return b.String()
}

// Credentials は上流APIの認証情報。
type Credentials struct {
	// DevID は開発者ID（devid パラメータ）。
	DevID string
	// Key は署名用の秘密鍵。
	Key string
}

// Signer は署名付きURLを生成する。
type Signer struct {
	// baseURL は上流APIのベースURL。
	baseURL string
	// creds は認証情報。
	creds Credentials
}

// New は新しいSignerを生成する。baseURLが空の場合は DefaultBaseURL を使用する。
func New(baseURL string, creds Credentials) *Signer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
}

// Configured は署名鍵が設定されているかを返す。
func (s *Signer) Configured() bool {
	return s.creds.Key != ""
}

// WithDevID は先頭に devid パラメータを付与したパラメータ列を返す。
func (s *Signer) WithDevID(params ...Param) Params {
	out := make(Params, 0, len(params)+1)
	out = append(out, Param{Key: "devid", Value: s.creds.DevID})
	return append(out, params...)
}

// Sign はpathとparamsから署名付きURLを生成する。
// 署名対象は path + "?" + params.Encode() のバイト列そのもの。
func (s *Signer) Sign(path string, params Params) (string, error) {
	if s.creds.Key == "" {
		return "", ErrMissingSecret
	}

	toSign := path + "?" + params.Encode()
	return s.baseURL + toSign + "&signature=" + Signature(s.creds.Key, toSign), nil
}

// Signature はmessageに対するHMAC-SHA1ダイジェストを小文字16進数で返す。
func Signature(key, message string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
