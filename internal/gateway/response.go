package gateway

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ptvgateway/pkg/middleware"
)

// レスポンスのContent-Type。
const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// クライアントに返すエラーメッセージ。
const (
	msgMissingStop   = "Missing stop parameter"
	msgNotConfigured = "Gateway is not configured"
	msgUpstream      = "Upstream request failed"
	msgInternal      = middleware.MsgInternalServerError
	msgNotFound      = "Not found"
)

// respond はステータス、Content-Type、ボディを書き込む。
// CORSヘッダーはミドルウェアが付与するため、ここでは扱わない。
func respond(c *gin.Context, status int, contentType string, body []byte) {
	c.Data(status, contentType, body)
}

// respondJSON はvをJSONにシリアライズして書き込む。
func respondJSON(c *gin.Context, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Gateway] レスポンスのシリアライズに失敗: %v", err)
		respond(c, http.StatusInternalServerError, contentTypeJSON, []byte(`{"error":"`+msgInternal+`"}`))
		return
	}
	respond(c, status, contentTypeJSON, body)
}

// respondIndentedJSON はvを2スペースでインデントしたJSONにシリアライズして書き込む。
func respondIndentedJSON(c *gin.Context, status int, v any) {
	body, err := marshalIndent(v)
	if err != nil {
		log.Printf("[Gateway] レスポンスのシリアライズに失敗: %v", err)
		respond(c, http.StatusInternalServerError, contentTypeJSON, []byte(`{"error":"`+msgInternal+`"}`))
		return
	}
	respond(c, status, contentTypeJSON, body)
}

// marshalIndent はvを2スペースでインデントしたJSONにシリアライズする。
// &、<、> はエスケープせずにそのまま出力し、末尾の改行は付けない。
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// errorResponse はエラーレスポンスのボディ。
type errorResponse struct {
	Error string `json:"error"`
}

// respondError は {"error": msg} を書き込む。
func respondError(c *gin.Context, status int, msg string) {
	respondJSON(c, status, errorResponse{Error: msg})
}
