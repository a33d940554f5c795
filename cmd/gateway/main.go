// PTVゲートウェイのエントリポイント。
// PTV Timetable APIへの署名付きリクエストを隠蔽し、出発情報と駅カタログを公開する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/ptvgateway/internal/config"
	"github.com/nao1215/ptvgateway/internal/gateway"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(".env", ".env.local")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	server, err := gateway.NewServer(cfg)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Gatewayサービスを起動します: :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
	log.Println("Gatewayサービスを停止しました")
}
