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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "strategy-center/pkg/errors"
)

// User 平台用户
type User struct {
	ID           string
	Email        string
	Name         string
	Role         Role
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Identity 返回用户对应的调用方身份
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Role: u.Role}
}

// UserStore 用户存储
type UserStore interface {
	// Create 新建用户；Email 已存在返回 ErrInvalidState
	Create(ctx context.Context, u *User) (*User, error)
	// Get 按 ID 读取，不存在返回 nil, nil
	Get(ctx context.Context, id string) (*User, error)
	// GetByEmail 按邮箱读取（不区分大小写），不存在返回 nil, nil
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// HashPassword 生成 bcrypt 哈希
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword 校验明文与 bcrypt 哈希是否匹配
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewUser 校验输入并构造待写入的 User（含密码哈希）
func NewUser(email, name, password string, role Role) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.Validation("email %q is invalid", email)
	}
	if len(password) < 8 {
		return nil, apperrors.Validation("password must be at least 8 characters")
	}
	if _, ok := ParseRole(string(role)); !ok {
		return nil, apperrors.Validation("unknown role %q", role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = email
	}
	return &User{Email: email, Name: name, Role: role, PasswordHash: hash, IsActive: true}, nil
}

// Authenticate 校验邮箱与密码并刷新 last_login；失败统一返回 ErrUnauthorized
func Authenticate(ctx context.Context, store UserStore, email, password string) (*User, error) {
	u, err := store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive || !CheckPassword(u.PasswordHash, password) {
		return nil, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid credentials")
	}
	now := time.Now().UTC()
	if err := store.TouchLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLogin = now
	return u, nil
}

// EnsureAdmin 若邮箱不存在则创建管理员；返回是否新建
func EnsureAdmin(ctx context.Context, store UserStore, email, name, password string) (bool, error) {
	if email == "" {
		return false, nil
	}
	existing, err := store.GetByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	u, err := NewUser(email, name, password, RoleAdmin)
	if err != nil {
		return false, err
	}
	if _, err := store.Create(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryUserStore 内存用户存储，用于单机或测试
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryUserStore 创建内存 UserStore
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: make(map[string]*User), byEmail: make(map[string]string)}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return nil, apperrors.InvalidState("email %s already registered", email)
	}
	cp := *u
	cp.Email = email
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.byID[cp.ID] = &cp
	s.byEmail[email] = cp.ID
	out := cp
	return &out, nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.Get(ctx, id)
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryUserStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	u.LastLogin = at
	return nil
}
