package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MsgInternalServerError はパニック時にクライアントへ返すエラーメッセージ。
const MsgInternalServerError = "Internal server error"

// internalErrorBody はパニック時のレスポンスボディ。
var internalErrorBody = []byte(`{"error":"` + MsgInternalServerError + `"}`)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニックをリクエストIDとともにログへ出力し、{"error": ...} 形式の500を返す。
// ハンドラが既にレスポンスを書き始めていた場合はボディを追記せずに中断する。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Printf("[PANIC] request_id=%s %s %s: %v", GetRequestID(c), c.Request.Method, c.Request.URL.Path, r)
			c.Abort()
			if c.Writer.Written() {
				return
			}
			c.Data(http.StatusInternalServerError, "application/json", internalErrorBody)
		}()
		c.Next()
	}
}
