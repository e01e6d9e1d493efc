// スペア募集サービスのエントリポイント。
// スペア募集のCRUDと、候補会員への段階的通知を行うポーリングワーカーを担当する。
// 通知プロセッサはバックグラウンドgoroutineとして動き、SIGINT/SIGTERMで
// 実行中のティックを完了させてから停止する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/rinkhub/internal/spare"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server, err := spare.NewServer(port)
	if err != nil {
		log.Fatalf("スペア募集サーバーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 通知プロセッサをバックグラウンドで起動する
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Processor().Start(ctx)
	}()

	go func() {
		<-ctx.Done()
		// プロセッサが実行中のティックを完了させるのを待つ
		<-done
		log.Println("スペア募集サービスを停止します")
		os.Exit(0)
	}()

	log.Printf("スペア募集サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("スペア募集サービスの起動に失敗: %v", err)
	}
}
