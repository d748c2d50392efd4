// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "strategy-center/pkg/errors"
)

// UserStorePg Postgres 实现：users 表，与 jobs/approvals 同库
type UserStorePg struct {
	pool *pgxpool.Pool
}

// NewUserStorePg 基于已有连接池创建 UserStore
func NewUserStorePg(pool *pgxpool.Pool) *UserStorePg {
	return &UserStorePg{pool: pool}
}

const userColumns = `id, email, name, role, password_hash, is_active, created_at, last_login`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	var lastLogin *time.Time
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	if lastLogin != nil {
		u.LastLogin = *lastLogin
	}
	return &u, nil
}

func (s *UserStorePg) Create(ctx context.Context, u *User) (*User, error) {
	cp := *u
	cp.Email = normalizeEmail(cp.Email)
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)`,
		cp.ID, cp.Email, cp.Name, string(cp.Role), cp.PasswordHash, cp.IsActive, cp.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.InvalidState("email %s already registered", cp.Email)
		}
		return nil, err
	}
	return &cp, nil
}

func (s *UserStorePg) Get(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *UserStorePg) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *UserStorePg) List(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *UserStorePg) TouchLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}
