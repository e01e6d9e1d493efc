// Package league はリーグサービスの内部実装を提供する。
//
// リーグと試合スケジュールのCRUDを提供する。スキーマはembedされた
// SQLマイグレーションで管理する。
package league
