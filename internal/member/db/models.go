package db

import "time"

// Member はクラブの会員を表す。
type Member struct {
	// ID は会員の一意識別子（UUID）。
	ID string
	// Name は会員の氏名。
	Name string
	// Email は会員のメールアドレス。未登録なら空文字。
	Email string
	// Phone は会員の電話番号。未登録なら空文字。
	Phone string
	// SMSOptIn はSMS通知の受信同意フラグ。
	SMSOptIn bool
	// SkillLevel は会員の技量区分（beginner / intermediate / advanced）。
	SkillLevel string
	// PreferredPosition は希望ポジション。指定がなければ空文字。
	PreferredPosition string
	// CreatedAt は会員登録時刻。
	CreatedAt time.Time
	// UpdatedAt は最終更新時刻。
	UpdatedAt time.Time
}
