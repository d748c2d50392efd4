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

package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"strategy-center/internal/agent"
	apperrors "strategy-center/pkg/errors"
)

// status 列取值，与 JobStatus 一致：0=Pending, 1=Running, 2=Completed, 3=Failed, 4=Cancelled
const (
	pgStatusPending   = 0
	pgStatusRunning   = 1
	pgStatusCompleted = 2
	pgStatusFailed    = 3
	pgStatusCancelled = 4
)

const jobColumns = `id, agent_name, task, parameters, priority, status, created_by, created_at, updated_at,
	started_at, completed_at, result, error_message, error_kind, approval_status, approved_by, approved_at`

const approvalColumns = `id, job_id, agent_name, content_type, title, content, status, created_by, created_at,
	approved_by, approved_at, rejection_reason, redacted`

// JobStorePg Postgres 实现：jobs + approvals 表，供 API 与 Worker 进程共享
type JobStorePg struct {
	pool *pgxpool.Pool
}

// NewJobStorePg 创建连接池并 Ping；schema 由 internal/storage/migrations 管理
func NewJobStorePg(ctx context.Context, dsn string) (*JobStorePg, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &JobStorePg{pool: pool}, nil
}

// NewJobStorePgWithPool 复用已有连接池（与 UserStorePg 共享）
func NewJobStorePgWithPool(pool *pgxpool.Pool) *JobStorePg {
	return &JobStorePg{pool: pool}
}

// Pool 返回底层连接池
func (s *JobStorePg) Pool() *pgxpool.Pool { return s.pool }

// Close 关闭连接池
func (s *JobStorePg) Close() {
	s.pool.Close()
}

func statusToPg(s JobStatus) int {
	switch s {
	case StatusPending:
		return pgStatusPending
	case StatusRunning:
		return pgStatusRunning
	case StatusCompleted:
		return pgStatusCompleted
	case StatusFailed:
		return pgStatusFailed
	case StatusCancelled:
		return pgStatusCancelled
	default:
		return pgStatusPending
	}
}

func pgToStatus(i int) JobStatus {
	switch i {
	case pgStatusPending:
		return StatusPending
	case pgStatusRunning:
		return StatusRunning
	case pgStatusCompleted:
		return StatusCompleted
	case pgStatusFailed:
		return StatusFailed
	case pgStatusCancelled:
		return StatusCancelled
	default:
		return StatusPending
	}
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func marshalResult(r *agent.Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j                                  Job
		status                             int
		params, result                     []byte
		errMsg, errKind, approvedBy        *string
		approvalStatus                     string
		startedAt, completedAt, approvedAt *time.Time
	)
	if err := row.Scan(&j.ID, &j.AgentName, &j.Task, &params, &j.Priority, &status, &j.CreatedBy,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt, &result, &errMsg, &errKind,
		&approvalStatus, &approvedBy, &approvedAt); err != nil {
		return nil, err
	}
	j.Status = pgToStatus(status)
	j.StartedAt, j.CompletedAt, j.ApprovedAt = startedAt, completedAt, approvedAt
	j.ErrorMessage, j.ErrorKind, j.ApprovedBy = derefStr(errMsg), derefStr(errKind), derefStr(approvedBy)
	j.ApprovalStatus = ApprovalStatus(approvalStatus)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of job %s: %w", j.ID, err)
		}
	}
	if len(result) > 0 {
		var r agent.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
		}
		j.Result = &r
	}
	return &j, nil
}

func scanApproval(row pgx.Row) (*Approval, error) {
	var (
		a                  Approval
		status             string
		approvedBy, reason *string
	)
	if err := row.Scan(&a.ID, &a.JobID, &a.AgentName, &a.ContentType, &a.Title, &a.Content, &status,
		&a.CreatedBy, &a.CreatedAt, &approvedBy, &a.ApprovedAt, &reason, &a.Redacted); err != nil {
		return nil, err
	}
	a.Status = ApprovalStatus(status)
	a.ApprovedBy, a.RejectionReason = derefStr(approvedBy), derefStr(reason)
	return &a, nil
}

func (s *JobStorePg) Create(ctx context.Context, j *Job) (string, error) {
	if j == nil {
		return "", apperrors.Validation("job is nil")
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.ApprovalStatus == "" {
		j.ApprovalStatus = ApprovalPending
	}
	var params []byte
	if len(j.Parameters) > 0 {
		var err error
		if params, err = json.Marshal(j.Parameters); err != nil {
			return "", apperrors.Validation("parameters are not JSON-serializable: %v", err)
		}
	}
	j.Status = StatusPending
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, agent_name, task, parameters, priority, status, created_by, approval_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 RETURNING created_at, updated_at`,
		j.ID, j.AgentName, j.Task, params, j.Priority, statusToPg(StatusPending), j.CreatedBy, string(j.ApprovalStatus),
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return "", err
	}
	return j.ID, nil
}

func (s *JobStorePg) Get(ctx context.Context, jobID string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *JobStorePg) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != nil {
		args = append(args, statusToPg(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if filter.AgentName != "" {
		args = append(args, filter.AgentName)
		where = append(where, fmt.Sprintf("agent_name = $%d", len(args)))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	query, args = appendPage(query, args, filter.Limit, filter.Offset)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func appendPage(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func (s *JobStorePg) ClaimNextPending(ctx context.Context) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, started_at = now(), updated_at = now()
		 WHERE id = (SELECT id FROM jobs WHERE status = $2 ORDER BY priority DESC, created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobColumns,
		statusToPg(StatusRunning), statusToPg(StatusPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// transitionError 条件更新未命中时区分不存在与状态不符
func (s *JobStorePg) transitionError(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, jobID, op string) error {
	var status int
	err := q.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("job", jobID)
	}
	if err != nil {
		return err
	}
	return apperrors.InvalidState("job %s is %s, cannot %s", jobID, pgToStatus(status), op)
}

func (s *JobStorePg) Complete(ctx context.Context, jobID string, result *agent.Result, approval *Approval) (*Job, *Approval, error) {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx,
		`UPDATE jobs SET status = $1, result = $2, completed_at = now(), updated_at = now()
		 WHERE id = $3 AND status = $4
		 RETURNING `+jobColumns,
		statusToPg(StatusCompleted), resultJSON, jobID, statusToPg(StatusRunning)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, s.transitionError(ctx, tx, jobID, "complete")
	}
	if err != nil {
		return nil, nil, err
	}

	var created *Approval
	if approval != nil && j.ApprovalStatus == ApprovalPending {
		id := approval.ID
		if id == "" {
			id = uuid.New().String()
		}
		created, err = scanApproval(tx.QueryRow(ctx,
			`INSERT INTO approvals (id, job_id, agent_name, content_type, title, content, status, created_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			 ON CONFLICT (job_id) DO NOTHING
			 RETURNING `+approvalColumns,
			id, jobID, j.AgentName, approval.ContentType, approval.Title, approval.Content,
			string(ApprovalPending), j.CreatedBy))
		if errors.Is(err, pgx.ErrNoRows) {
			created, err = nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return j, created, nil
}

func (s *JobStorePg) Fail(ctx context.Context, jobID, kind, message string) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_kind = $2, error_message = $3, completed_at = now(), updated_at = now()
		 WHERE id = $4 AND status = $5`,
		statusToPg(StatusFailed), nullStr(kind), nullStr(message), jobID, statusToPg(StatusRunning))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return s.transitionError(ctx, s.pool, jobID, "fail")
	}
	return nil
}

func (s *JobStorePg) Cancel(ctx context.Context, jobID string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, completed_at = now(), updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4)
		 RETURNING `+jobColumns,
		statusToPg(StatusCancelled), jobID, statusToPg(StatusPending), statusToPg(StatusRunning)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionError(ctx, s.pool, jobID, "cancel")
	}
	return j, err
}

func (s *JobStorePg) GetApproval(ctx context.Context, approvalID string) (*Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, approvalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *JobStorePg) GetApprovalByJob(ctx context.Context, jobID string) (*Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *JobStorePg) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	query, args = appendPage(query, args, filter.Limit, filter.Offset)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *JobStorePg) Decide(ctx context.Context, approvalID string, d Decision) (*Approval, error) {
	status, err := decisionStatus(d.Action)
	if err != nil {
		return nil, err
	}
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	redact := status == ApprovalRejected && d.Redact
	reason := ""
	if status == ApprovalRejected {
		reason = d.Reason
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var jobID, current string
	err = tx.QueryRow(ctx, `SELECT job_id, status FROM approvals WHERE id = $1 FOR UPDATE`, approvalID).Scan(&jobID, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval", approvalID)
	}
	if err != nil {
		return nil, err
	}
	if ApprovalStatus(current) != ApprovalPending {
		return nil, apperrors.InvalidState("approval %s already %s", approvalID, current)
	}

	a, err := scanApproval(tx.QueryRow(ctx,
		`UPDATE approvals SET status = $1, approved_by = $2, approved_at = $3, rejection_reason = $4,
		   content = CASE WHEN $5 THEN '' ELSE content END, redacted = $5
		 WHERE id = $6
		 RETURNING `+approvalColumns,
		string(status), nullStr(d.Reviewer), at, nullStr(reason), redact, approvalID))
	if err != nil {
		return nil, err
	}

	var resultJSON []byte
	err = tx.QueryRow(ctx, `SELECT result FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&resultJSON)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if redact && len(resultJSON) > 0 {
		var r agent.Result
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, err
		}
		if resultJSON, err = json.Marshal(redactResult(&r)); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET approval_status = $1, approved_by = $2, approved_at = $3, result = $4, updated_at = $3
		 WHERE id = $5`,
		string(status), nullStr(d.Reviewer), at, resultJSON, jobID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *JobStorePg) CountByStatus(ctx context.Context, createdBy string) (map[JobStatus]int, error) {
	query := `SELECT status, count(*) FROM jobs`
	var args []interface{}
	if createdBy != "" {
		query += ` WHERE created_by = $1`
		args = append(args, createdBy)
	}
	rows, err := s.pool.Query(ctx, query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[JobStatus]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[pgToStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *JobStorePg) CountApprovals(ctx context.Context, createdBy string) (map[ApprovalStatus]int, error) {
	query := `SELECT status, count(*) FROM approvals`
	var args []interface{}
	if createdBy != "" {
		query += ` WHERE created_by = $1`
		args = append(args, createdBy)
	}
	rows, err := s.pool.Query(ctx, query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[ApprovalStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[ApprovalStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *JobStorePg) ListStuckRunning(ctx context.Context, startedBefore time.Time) ([]*Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND started_at < $2 ORDER BY started_at`,
		statusToPg(StatusRunning), startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}
