// Package spare はスペア（代打）募集サービスの内部実装を提供する。
//
// 欠員が出た試合のスペア募集を管理し、候補会員への段階的通知を行う。
// 通知は優先順位付きキューに沿って一定間隔で1人ずつ送信され、
// 募集が成立・キャンセルされると速やかに停止する。
// 複数プロセスでの同時実行・クラッシュ復旧に耐えるよう、
// 排他制御は条件付きUPDATEとタイムアウト付きクレームのみで行う。
package spare
