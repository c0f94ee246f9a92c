package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validationError turns validator output into an ErrInvalidInput naming the failing fields.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(parts, ", "))
}

// LeaveRequest is the input of a new leave application. Times are Unix milliseconds.
type LeaveRequest struct {
	TaskID    string `form:"task_id" validate:"required,max=64"`
	UserID    string `form:"user_id" validate:"omitempty,len=32,hexadecimal"`
	Reason    string `form:"reason" validate:"required,max=2000"`
	StartTime int64  `form:"start_time" validate:"required,gt=0"`
	EndTime   int64  `form:"end_time" validate:"required,gtefield=StartTime"`
}

// LeaveReply is an admin decision on an application.
type LeaveReply struct {
	TaskID string `form:"task_id" validate:"required,max=64"`
	Status string `form:"status" validate:"required,oneof=approved rejected"`
}

// LeaveService runs the leave approval workflow.
type LeaveService struct {
	leaves LeaveRepository
}

func NewLeaveService(leaves LeaveRepository) *LeaveService {
	return &LeaveService{leaves: leaves}
}

// Apply files req as a pending application. UserID defaults to the caller;
// only admins may file for someone else.
func (s *LeaveService) Apply(ctx context.Context, actor *Account, req LeaveRequest) (*LeaveApplication, error) {
	req.TaskID = strings.TrimSpace(req.TaskID)
	req.UserID = strings.ToLower(strings.TrimSpace(req.UserID))
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.UserID == "" {
		req.UserID = actor.UserID
	}
	if req.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	l := &LeaveApplication{
		TaskID:    req.TaskID,
		UserID:    req.UserID,
		Reason:    req.Reason,
		StartTime: time.UnixMilli(req.StartTime).UTC(),
		EndTime:   time.UnixMilli(req.EndTime).UTC(),
		Status:    LeavePending,
	}
	if err := s.leaves.Create(ctx, l); err != nil {
		return nil, err
	}
	slog.Info("leave application filed", "task_id", l.TaskID, "user_id", l.UserID, "by", actor.Username)
	return l, nil
}

// ListOwn returns the applications filed for actor.
func (s *LeaveService) ListOwn(ctx context.Context, actor *Account) ([]LeaveApplication, error) {
	return s.leaves.ListByUser(ctx, actor.UserID)
}

// ListAll returns every application.
func (s *LeaveService) ListAll(ctx context.Context) ([]LeaveApplication, error) {
	return s.leaves.ListAll(ctx)
}

// Reply records admin's decision. A later reply overwrites an earlier one.
func (s *LeaveService) Reply(ctx context.Context, admin *Account, req LeaveReply) (*LeaveApplication, error) {
	req.TaskID = strings.TrimSpace(req.TaskID)
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	l, err := s.leaves.Reply(ctx, req.TaskID, LeaveStatus(req.Status), admin.UserID)
	if err != nil {
		return nil, err
	}
	slog.Info("leave application replied", "task_id", l.TaskID, "status", l.Status, "by", admin.Username)
	return l, nil
}
