package spare

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"
)

// EmailParams はスペア募集メールの送信パラメータ。
type EmailParams struct {
	// To は送信先メールアドレス。
	To string
	// ToName は送信先会員の氏名。
	ToName string
	// RequesterName は募集を出した会員の氏名。
	RequesterName string
	// GameDate は対象試合の日付。
	GameDate string
	// GameTime は対象試合の開始時刻。
	GameTime string
	// Position は募集するポジション。空文字なら指定なし。
	Position string
	// Message は募集に添えるメッセージ。
	Message string
	// AcceptURL は参加受諾用のリンク。
	AcceptURL string
	// SpareRequestID は対象募集のID。
	SpareRequestID string
}

// SMSParams はスペア募集SMSの送信パラメータ。
type SMSParams struct {
	// To は送信先電話番号。
	To string
	// RequesterName は募集を出した会員の氏名。
	RequesterName string
	// GameDate は対象試合の日付。
	GameDate string
	// GameTime は対象試合の開始時刻。
	GameTime string
}

// Notifier はスペア募集通知の配信トランスポート。
// プロセッサはこのインターフェース経由でのみ外部プロバイダに触れる。
type Notifier interface {
	// SendRequestEmail は候補会員に募集メールを送信する。
	SendRequestEmail(ctx context.Context, p EmailParams) error
	// SendRequestSMS は候補会員に募集SMSを送信する。
	SendRequestSMS(ctx context.Context, p SMSParams) error
}

// ProviderNotifier はSMTPとSMSゲートウェイを使う本番用のNotifier実装。
type ProviderNotifier struct {
	// smtpHost / smtpPort / smtpUser / smtpPass はSMTPサーバーの接続情報。
	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string
	// smsAPIURL はSMSゲートウェイのエンドポイント。
	smsAPIURL string
	// smsUser / smsPass / smsSenderID はSMSゲートウェイの認証情報。
	smsUser     string
	smsPass     string
	smsSenderID string
	// httpClient はSMSゲートウェイへのHTTPクライアント。
	httpClient *http.Client
}

// ProviderConfig はProviderNotifierの設定。
type ProviderConfig struct {
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	SMSAPIURL   string
	SMSUser     string
	SMSPass     string
	SMSSenderID string
}

// NewProviderNotifier は新しい本番用Notifierを生成する。
func NewProviderNotifier(cfg ProviderConfig) *ProviderNotifier {
	return &ProviderNotifier{
		smtpHost:    cfg.SMTPHost,
		smtpPort:    cfg.SMTPPort,
		smtpUser:    cfg.SMTPUser,
		smtpPass:    cfg.SMTPPass,
		smsAPIURL:   cfg.SMSAPIURL,
		smsUser:     cfg.SMSUser,
		smsPass:     cfg.SMSPass,
		smsSenderID: cfg.SMSSenderID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendRequestEmail は募集メールをSMTP（ポート465のimplicit TLS）で送信する。
func (n *ProviderNotifier) SendRequestEmail(_ context.Context, p EmailParams) error {
	subject := fmt.Sprintf("【スペア募集】%s %s の試合に参加しませんか", p.GameDate, p.GameTime)
	body := n.buildEmailBody(p)

	msg := []byte(
		fmt.Sprintf("From: %s\r\n", n.smtpUser) +
			fmt.Sprintf("To: %s\r\n", p.To) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)

	serverAddr := n.smtpHost + ":" + n.smtpPort
	conn, err := tls.Dial("tcp", serverAddr, &tls.Config{ServerName: n.smtpHost})
	if err != nil {
		return fmt.Errorf("SMTPサーバーへの接続に失敗: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.smtpHost)
	if err != nil {
		return fmt.Errorf("SMTPクライアントの作成に失敗: %w", err)
	}
	defer client.Quit()

	auth := smtp.PlainAuth("", n.smtpUser, n.smtpPass, n.smtpHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP認証に失敗: %w", err)
	}

	if err := client.Mail(n.smtpUser); err != nil {
		return fmt.Errorf("送信元の設定に失敗: %w", err)
	}
	if err := client.Rcpt(p.To); err != nil {
		return fmt.Errorf("送信先の設定に失敗: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("メッセージ送信の開始に失敗: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("メッセージの書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("メッセージ送信の完了に失敗: %w", err)
	}

	return nil
}

// buildEmailBody は募集メールのHTML本文を組み立てる。
// 氏名・ポジション・メッセージは会員の自由入力なので、すべてエスケープして埋め込む。
func (n *ProviderNotifier) buildEmailBody(p EmailParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%s さん</p>", html.EscapeString(p.ToName))
	fmt.Fprintf(&b, "<p>%s さんがスペアを募集しています。</p>", html.EscapeString(p.RequesterName))
	fmt.Fprintf(&b, "<p>日時: %s %s</p>", html.EscapeString(p.GameDate), html.EscapeString(p.GameTime))
	if p.Position != "" {
		fmt.Fprintf(&b, "<p>ポジション: %s</p>", html.EscapeString(p.Position))
	}
	if p.Message != "" {
		fmt.Fprintf(&b, "<p>メッセージ: %s</p>", html.EscapeString(p.Message))
	}
	fmt.Fprintf(&b, `<p><a href="%s">参加する場合はこちら</a></p>`, html.EscapeString(p.AcceptURL))
	return b.String()
}

// SendRequestSMS は募集SMSをゲートウェイへのフォームPOSTで送信する。
func (n *ProviderNotifier) SendRequestSMS(ctx context.Context, p SMSParams) error {
	text := fmt.Sprintf("%sさんがスペアを募集しています（%s %s）。詳細はメールをご確認ください。",
		p.RequesterName, p.GameDate, p.GameTime)

	form := url.Values{}
	form.Set("userid", n.smsUser)
	form.Set("password", n.smsPass)
	form.Set("senderid", n.smsSenderID)
	form.Set("msgType", "text")
	form.Set("msg", text)
	form.Set("mobile", p.To)
	form.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.smsAPIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("SMSリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SMSゲートウェイへの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("SMSゲートウェイがエラーを返しました: status=%d", resp.StatusCode)
	}
	return nil
}
