// リーグサービスのエントリポイント。
// リーグと試合スケジュールの管理を担当する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/rinkhub/internal/league"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8083"
	}

	server, err := league.NewServer(port)
	if err != nil {
		log.Fatalf("リーグサーバーの初期化に失敗: %v", err)
	}

	log.Printf("リーグサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("リーグサービスの起動に失敗: %v", err)
	}
}
