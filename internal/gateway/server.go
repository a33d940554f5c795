package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ptvgateway/internal/catalog"
	"github.com/nao1215/ptvgateway/internal/config"
	"github.com/nao1215/ptvgateway/internal/departure"
	"github.com/nao1215/ptvgateway/internal/metrics"
	"github.com/nao1215/ptvgateway/pkg/httpclient"
	"github.com/nao1215/ptvgateway/pkg/middleware"
	"github.com/nao1215/ptvgateway/pkg/signer"
)

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// signer は上流リクエストの署名を行う。
	signer *signer.Signer
	// departures は出発情報を取得する。
	departures *departure.Service
	// catalog は駅カタログを構築する。
	catalog *catalog.Aggregator
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
	// reportFailures がtrueの場合、駅カタログに失敗した路線IDを含める。
	reportFailures bool
}

// NewServer は設定から新しいゲートウェイサーバーを生成する。
func NewServer(cfg config.Config) (*Server, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	m := metrics.New()
	client := httpclient.New(cfg.PTV.Timeout, httpclient.WithObserver(m))
	sig := signer.New(cfg.PTV.BaseURL, signer.Credentials{
		DevID: cfg.PTV.DevID,
		Key:   cfg.PTV.APIKey,
	})
	if !sig.Configured() {
		log.Println("[Gateway] PTV_API_KEY が設定されていません。署名が必要なエンドポイントは500を返します")
	}

	router := gin.New()
	// 末尾スラッシュ付きのパスもリダイレクトせずに404を返す
	router.RedirectTrailingSlash = false
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	s := &Server{
		router:     router,
		port:       cfg.Port,
		signer:     sig,
		departures: departure.New(sig, client, cfg.Departures.MaxResults),
		catalog: catalog.New(sig, client,
			catalog.WithRoutes(cfg.Stations.FirstRoute, cfg.Stations.LastRoute),
			catalog.WithConcurrency(cfg.Stations.Concurrency),
			catalog.WithRecorder(m),
		),
		metrics:        m,
		reportFailures: cfg.Stations.ReportFailures,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Println("[Gateway] 停止シグナルを受信しました")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバーの停止に失敗: %w", err)
		}
		return nil
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 出発情報（?stop= 必須）
	s.router.GET("/", s.handleDepartures())
	// 駅カタログ
	s.router.GET("/stations", s.handleStations())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		respondJSON(c, http.StatusOK, map[string]string{"status": "ok", "service": "ptv-gateway"})
	})
	// メトリクス
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		respond(c, http.StatusNotFound, contentTypeText, []byte(msgNotFound))
	})
}

// handleDepartures は停留所の出発情報を返すハンドラを返す。
// 上流のJSONはステータスを問わずそのまま返し、通信エラーとJSONではない応答のみ502にする。
func (s *Server) handleDepartures() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := s.departures.Lookup(c.Request.Context(), c.Query("stop"))
		if err != nil {
			var upstreamErr *httpclient.UpstreamError
			switch {
			case errors.Is(err, departure.ErrMissingParameter):
				respondError(c, http.StatusBadRequest, msgMissingStop)
			case errors.Is(err, signer.ErrMissingSecret):
				log.Printf("[Gateway] request_id=%s 設定エラー: %v", middleware.GetRequestID(c), err)
				respondError(c, http.StatusInternalServerError, msgNotConfigured)
			case errors.As(err, &upstreamErr):
				log.Printf("[Gateway] request_id=%s 出発情報の取得に失敗: %v", middleware.GetRequestID(c), err)
				respondError(c, http.StatusBadGateway, msgUpstream)
			default:
				log.Printf("[Gateway] request_id=%s 予期しないエラー: %v", middleware.GetRequestID(c), err)
				respondError(c, http.StatusInternalServerError, msgInternal)
			}
			return
		}

		respond(c, http.StatusOK, contentTypeJSON, body)
	}
}

// stationsReport は失敗路線の報告を有効にした場合の駅カタログのレスポンス。
type stationsReport struct {
	catalog.Catalog
	// Degraded は一部の路線が失敗したかを表す。
	Degraded bool `json:"degraded"`
	// FailedRoutes は失敗した路線ID。
	FailedRoutes []int `json:"failed_routes"`
}

// handleStations は駅カタログを返すハンドラを返す。
// 路線単位の失敗はカタログから除かれるだけで、レスポンスは常に200になる。
func (s *Server) handleStations() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.signer.Configured() {
			log.Printf("[Gateway] request_id=%s 設定エラー: %v", middleware.GetRequestID(c), signer.ErrMissingSecret)
			respondError(c, http.StatusInternalServerError, msgNotConfigured)
			return
		}

		result := s.catalog.Build(c.Request.Context())
		if result.Degraded() {
			log.Printf("[Gateway] request_id=%s 駅カタログを一部の路線なしで構築しました: failed_routes=%v",
				middleware.GetRequestID(c), result.FailedRoutes)
		}

		if !s.reportFailures {
			respondIndentedJSON(c, http.StatusOK, result)
			return
		}

		failed := result.FailedRoutes
		if failed == nil {
			failed = []int{}
		}
		respondIndentedJSON(c, http.StatusOK, stationsReport{
			Catalog:      result,
			Degraded:     result.Degraded(),
			FailedRoutes: failed,
		})
	}
}
