package db

import "context"

// Account は外部認証プロバイダと会員を紐付けるアカウント。
type Account struct {
	// ID はアカウントの一意識別子（UUID）。
	ID string
	// MemberID は紐付く会員のID。
	MemberID string
	// Provider は認証プロバイダ（github / google / dev）。
	Provider string
	// ProviderUserID はプロバイダ側のユーザーID。
	ProviderUserID string
	// Email はアカウントのメールアドレス。
	Email string
	// DisplayName は表示名。
	DisplayName string
}

// CreateAccountParams はアカウント作成のパラメータ。
type CreateAccountParams struct {
	ID             string
	MemberID       string
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
}

// CreateAccount は新しいアカウントを作成する。
func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, member_id, provider, provider_user_id, email, display_name)
		VALUES (?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.MemberID, arg.Provider, arg.ProviderUserID, arg.Email, arg.DisplayName,
	)
	return err
}

// GetAccountByProviderParams はプロバイダ検索のパラメータ。
type GetAccountByProviderParams struct {
	Provider       string
	ProviderUserID string
}

// GetAccountByProvider はプロバイダとプロバイダ側ユーザーIDでアカウントを取得する。
func (q *Queries) GetAccountByProvider(ctx context.Context, arg GetAccountByProviderParams) (Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, member_id, provider, provider_user_id, email, display_name
		FROM accounts
		WHERE provider = ? AND provider_user_id = ?`,
		arg.Provider, arg.ProviderUserID)

	var a Account
	err := row.Scan(&a.ID, &a.MemberID, &a.Provider, &a.ProviderUserID, &a.Email, &a.DisplayName)
	return a, err
}

// GetAccountByMemberID は会員IDでアカウントを取得する。
func (q *Queries) GetAccountByMemberID(ctx context.Context, memberID string) (Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, member_id, provider, provider_user_id, email, display_name
		FROM accounts
		WHERE member_id = ?`,
		memberID)

	var a Account
	err := row.Scan(&a.ID, &a.MemberID, &a.Provider, &a.ProviderUserID, &a.Email, &a.DisplayName)
	return a, err
}

// UpdateLastLogin は最終ログイン時刻を現在時刻に更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET last_login_at = datetime('now') WHERE id = ?`, id)
	return err
}
