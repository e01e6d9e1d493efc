package db

import (
	"context"
	"time"
)

// CreateMemberParams は会員登録のパラメータ。
type CreateMemberParams struct {
	ID                string
	Name              string
	Email             string
	Phone             string
	SMSOptIn          bool
	SkillLevel        string
	PreferredPosition string
	Now               time.Time
}

// CreateMember は新しい会員を登録する。
func (q *Queries) CreateMember(ctx context.Context, arg CreateMemberParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO members (
			id, name, email, phone, sms_opt_in, skill_level, preferred_position,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.Email, arg.Phone, boolArg(arg.SMSOptIn),
		arg.SkillLevel, arg.PreferredPosition,
		FormatTime(arg.Now), FormatTime(arg.Now),
	)
	return err
}

// memberColumns はSELECT句で使うカラムリスト。scanMemberと同期すること。
const memberColumns = `id, name, email, phone, sms_opt_in, skill_level, preferred_position, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMember は1行分の会員をスキャンする。
func scanMember(row rowScanner) (Member, error) {
	var m Member
	var smsOptIn int64
	var createdAt, updatedAt string
	if err := row.Scan(
		&m.ID, &m.Name, &m.Email, &m.Phone, &smsOptIn,
		&m.SkillLevel, &m.PreferredPosition, &createdAt, &updatedAt,
	); err != nil {
		return Member{}, err
	}
	m.SMSOptIn = smsOptIn != 0

	var err error
	if m.CreatedAt, err = ParseTime(createdAt); err != nil {
		return Member{}, err
	}
	if m.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return Member{}, err
	}
	return m, nil
}

// GetMember はIDで会員を取得する。
func (q *Queries) GetMember(ctx context.Context, id string) (Member, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	return scanMember(row)
}

// ListMembers は全会員を氏名順で取得する。
func (q *Queries) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members ORDER BY name ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMemberParams は会員情報更新のパラメータ。
type UpdateMemberParams struct {
	ID                string
	Name              string
	Email             string
	Phone             string
	SMSOptIn          bool
	SkillLevel        string
	PreferredPosition string
	Now               time.Time
}

// UpdateMember は会員情報を更新する。影響行数を返す。
func (q *Queries) UpdateMember(ctx context.Context, arg UpdateMemberParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE members
		SET name = ?, email = ?, phone = ?, sms_opt_in = ?,
		    skill_level = ?, preferred_position = ?, updated_at = ?
		WHERE id = ?`,
		arg.Name, arg.Email, arg.Phone, boolArg(arg.SMSOptIn),
		arg.SkillLevel, arg.PreferredPosition, FormatTime(arg.Now), arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMember は会員を削除する。影響行数を返す。
func (q *Queries) DeleteMember(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// boolArg はboolをSQLiteのINTEGER（0/1）に変換する。
func boolArg(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
