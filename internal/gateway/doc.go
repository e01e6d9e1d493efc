// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 認証（JWT発行・OAuth2）とアカウント管理を担い、会員・リーグ・スペア募集の
// 各サービスへのリバースプロキシとして機能する。
package gateway
