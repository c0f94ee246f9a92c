package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// LeaveStatus is the closed set of leave application states.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// LeaveApplication is a leave request filed for an account.
type LeaveApplication struct {
	ID           int64       `json:"id"`
	TaskID       string      `json:"task_id"`
	UserID       string      `json:"user_id"`
	Reason       string      `json:"reason"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	Status       LeaveStatus `json:"status"`
	ReplyManager *string     `json:"reply_manager"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// LeaveRepository defines persistence operations for leave applications.
type LeaveRepository interface {
	Create(ctx context.Context, l *LeaveApplication) error
	ListByUser(ctx context.Context, userID string) ([]LeaveApplication, error)
	ListAll(ctx context.Context) ([]LeaveApplication, error)
	Reply(ctx context.Context, taskID string, status LeaveStatus, replyManager string) (*LeaveApplication, error)
}

type PgLeaveRepository struct {
	db pgxPool
}

func NewPgLeaveRepository(db pgxPool) *PgLeaveRepository {
	return &PgLeaveRepository{db: db}
}

const leaveColumns = `id, task_id, user_id, reason, start_time, end_time, status, reply_manager, created_at, updated_at`

func scanLeave(row pgx.Row) (*LeaveApplication, error) {
	var l LeaveApplication
	var status string
	if err := row.Scan(&l.ID, &l.TaskID, &l.UserID, &l.Reason, &l.StartTime, &l.EndTime,
		&status, &l.ReplyManager, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = LeaveStatus(status)
	return &l, nil
}

func (r *PgLeaveRepository) Create(ctx context.Context, l *LeaveApplication) error {
	const q = `INSERT INTO leave_applications (task_id, user_id, reason, start_time, end_time, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, l.TaskID, l.UserID, l.Reason, l.StartTime, l.EndTime, string(l.Status)).
		Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTask
		}
		return oops.With("operation", "create leave application").With("task_id", l.TaskID).Wrap(err)
	}
	return nil
}

func (r *PgLeaveRepository) ListByUser(ctx context.Context, userID string) ([]LeaveApplication, error) {
	return r.list(ctx, `SELECT `+leaveColumns+` FROM leave_applications WHERE user_id=$1 ORDER BY id`, userID)
}

func (r *PgLeaveRepository) ListAll(ctx context.Context) ([]LeaveApplication, error) {
	return r.list(ctx, `SELECT `+leaveColumns+` FROM leave_applications ORDER BY id`)
}

func (r *PgLeaveRepository) list(ctx context.Context, q string, args ...any) ([]LeaveApplication, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, oops.With("operation", "list leave applications").Wrap(err)
	}
	defer rows.Close()
	items := []LeaveApplication{}
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, oops.With("operation", "scan leave application").Wrap(err)
		}
		items = append(items, *l)
	}
	return items, rows.Err()
}

// Reply locks the application row, then records status and the replying admin.
func (r *PgLeaveRepository) Reply(ctx context.Context, taskID string, status LeaveStatus, replyManager string) (*LeaveApplication, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, oops.With("operation", "begin leave reply").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM leave_applications WHERE task_id=$1 FOR UPDATE`, taskID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, oops.With("operation", "lock leave application").With("task_id", taskID).Wrap(err)
	}
	const q = `UPDATE leave_applications SET status=$1, reply_manager=$2, updated_at=now()
WHERE id=$3 RETURNING ` + leaveColumns
	l, err := scanLeave(tx.QueryRow(ctx, q, string(status), replyManager, id))
	if err != nil {
		return nil, oops.With("operation", "reply leave application").With("task_id", taskID).Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, oops.With("operation", "commit leave reply").Wrap(err)
	}
	return l, nil
}

// MemoryLeaveRepository is the in-process LeaveRepository used with STORE_DRIVER=memory and in tests.
type MemoryLeaveRepository struct {
	mu     sync.Mutex
	nextID int64
	byTask map[string]LeaveApplication
}

func NewMemoryLeaveRepository() *MemoryLeaveRepository {
	return &MemoryLeaveRepository{byTask: make(map[string]LeaveApplication)}
}

func (r *MemoryLeaveRepository) Create(_ context.Context, l *LeaveApplication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTask[l.TaskID]; ok {
		return ErrDuplicateTask
	}
	r.nextID++
	now := time.Now()
	l.ID = r.nextID
	l.CreatedAt = now
	l.UpdatedAt = now
	r.byTask[l.TaskID] = *l
	return nil
}

func (r *MemoryLeaveRepository) ListByUser(_ context.Context, userID string) ([]LeaveApplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(l LeaveApplication) bool { return l.UserID == userID }), nil
}

func (r *MemoryLeaveRepository) ListAll(_ context.Context) ([]LeaveApplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(LeaveApplication) bool { return true }), nil
}

func (r *MemoryLeaveRepository) Reply(_ context.Context, taskID string, status LeaveStatus, replyManager string) (*LeaveApplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byTask[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	l.Status = status
	l.ReplyManager = &replyManager
	l.UpdatedAt = time.Now()
	r.byTask[taskID] = l
	return &l, nil
}

func (r *MemoryLeaveRepository) sortedLocked(keep func(LeaveApplication) bool) []LeaveApplication {
	items := []LeaveApplication{}
	for _, l := range r.byTask {
		if keep(l) {
			items = append(items, l)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
