// Package member は会員サービスの内部実装を提供する。
//
// クラブ会員のプロフィール（連絡先・技量区分・希望ポジション）を管理し、
// 他サービス向けに連絡先情報を返す内部APIを提供する。
package member
