package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaveService_Flow(t *testing.T) {
	ctx := context.Background()
	svc := NewLeaveService(NewMemoryLeaveRepository())
	alice := &Account{Username: "alice", Role: RoleUser, UserID: NewUserID()}
	bob := &Account{Username: "bob", Role: RoleUser, UserID: NewUserID()}
	admin := &Account{Username: "root", Role: RoleAdmin, UserID: NewUserID()}

	l, err := svc.Apply(ctx, alice, LeaveRequest{TaskID: " T1 ", Reason: "dentist", StartTime: 1700000000000, EndTime: 1700003600000})
	require.NoError(t, err)
	assert.Equal(t, "T1", l.TaskID)
	assert.Equal(t, alice.UserID, l.UserID)
	assert.Equal(t, LeavePending, l.Status)
	assert.Nil(t, l.ReplyManager)
	assert.Equal(t, int64(1700000000000), l.StartTime.UnixMilli())

	_, err = svc.Apply(ctx, bob, LeaveRequest{TaskID: "T1", Reason: "x", StartTime: 1, EndTime: 2})
	assert.ErrorIs(t, err, ErrDuplicateTask)

	_, err = svc.Apply(ctx, bob, LeaveRequest{TaskID: "T2", UserID: alice.UserID, Reason: "x", StartTime: 1, EndTime: 2})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	l, err = svc.Apply(ctx, admin, LeaveRequest{TaskID: "T3", UserID: bob.UserID, Reason: "x", StartTime: 1, EndTime: 2})
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, l.UserID)

	own, err := svc.ListOwn(ctx, alice)
	require.NoError(t, err)
	require.Len(t, own, 1)
	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	l, err = svc.Reply(ctx, admin, LeaveReply{TaskID: "T1", Status: "Approved"})
	require.NoError(t, err)
	assert.Equal(t, LeaveApproved, l.Status)
	require.NotNil(t, l.ReplyManager)
	assert.Equal(t, admin.UserID, *l.ReplyManager)

	_, err = svc.Reply(ctx, admin, LeaveReply{TaskID: "missing", Status: "rejected"})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestLeaveService_Validation(t *testing.T) {
	ctx := context.Background()
	svc := NewLeaveService(NewMemoryLeaveRepository())
	alice := &Account{Username: "alice", Role: RoleUser, UserID: NewUserID()}
	admin := &Account{Username: "root", Role: RoleAdmin, UserID: NewUserID()}

	bad := []LeaveRequest{
		{Reason: "no task", StartTime: 1, EndTime: 2},
		{TaskID: "T", StartTime: 1, EndTime: 2},
		{TaskID: "T", Reason: "ends first", StartTime: 5, EndTime: 2},
		{TaskID: "T", Reason: "bad user", UserID: "zz", StartTime: 1, EndTime: 2},
	}
	for _, req := range bad {
		_, err := svc.Apply(ctx, alice, req)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", req)
	}

	_, err := svc.Reply(ctx, admin, LeaveReply{TaskID: "T", Status: "pending"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
