// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// スペア募集サービスから会員サービスへの会員情報照会など、
// サービス間の通信パターンを統一する。
package httpclient
