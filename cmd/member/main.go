// 会員サービスのエントリポイント。
// クラブ会員のプロフィール管理と、他サービス向けの連絡先解決APIを担当する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/rinkhub/internal/member"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server, err := member.NewServer(port)
	if err != nil {
		log.Fatalf("会員サーバーの初期化に失敗: %v", err)
	}

	log.Printf("会員サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("会員サービスの起動に失敗: %v", err)
	}
}
