package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"taskdav/internal/model"
)

// MockStorage implements the Storage interface for testing.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) AuthUser(ctx context.Context, username, secret string) (*model.User, error) {
	args := m.Called(username, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockStorage) GetUser(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockStorage) ListUsers(ctx context.Context) ([]*model.User, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.User), args.Error(1)
}

func (m *MockStorage) ListCalendars(ctx context.Context, owner string) ([]*model.Calendar, error) {
	args := m.Called(owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Calendar), args.Error(1)
}

func (m *MockStorage) FindCalendar(ctx context.Context, owner, slug string) (*model.Calendar, error) {
	args := m.Called(owner, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Calendar), args.Error(1)
}

func (m *MockStorage) FindTask(ctx context.Context, calendarID int64, uid string) (*model.Task, error) {
	args := m.Called(calendarID, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Task), args.Error(1)
}

func (m *MockStorage) ListTasks(ctx context.Context, calendarID int64) ([]*model.Task, error) {
	args := m.Called(calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Task), args.Error(1)
}

func (m *MockStorage) SaveTask(ctx context.Context, calendarID int64, task *model.Task, expectedETag string) (string, bool, error) {
	args := m.Called(calendarID, task, expectedETag)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStorage) DeleteTask(ctx context.Context, calendarID int64, uid string) error {
	args := m.Called(calendarID, uid)
	return args.Error(0)
}

func (m *MockStorage) DueReminders(ctx context.Context, now time.Time) ([]DueReminder, error) {
	args := m.Called(now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]DueReminder), args.Error(1)
}

func (m *MockStorage) MarkReminderSent(ctx context.Context, reminderID int64) error {
	args := m.Called(reminderID)
	return args.Error(0)
}
