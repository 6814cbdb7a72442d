package database

import (
	"context"

	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, id int) (types.Message, error) {
	args := m.Called(id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, scope types.MessageScope) ([]types.Message, error) {
	args := m.Called(scope)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockChatRepository) AddReader(ctx context.Context, messageId, userId int) (bool, error) {
	args := m.Called(messageId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) MarkScopeRead(ctx context.Context, scope types.MessageScope, userId int) (int, error) {
	args := m.Called(scope, userId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) AddDeleter(ctx context.Context, messageId, userId int) (types.Message, error) {
	args := m.Called(messageId, userId)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) UnreadMessageIds(ctx context.Context, listId, userId int) (map[types.MessageScope][]int, error) {
	args := m.Called(listId, userId)
	return args.Get(0).(map[types.MessageScope][]int), args.Error(1)
}
func (m *MockChatRepository) GetVote(ctx context.Context, userId, itemId int) (types.Vote, error) {
	args := m.Called(userId, itemId)
	return args.Get(0).(types.Vote), args.Error(1)
}
func (m *MockChatRepository) UpsertVote(ctx context.Context, vote types.Vote) error {
	args := m.Called(vote)
	return args.Error(0)
}
func (m *MockChatRepository) CountVotes(ctx context.Context, itemId int) (int, int, error) {
	args := m.Called(itemId)
	return args.Int(0), args.Int(1), args.Error(2)
}
func (m *MockChatRepository) GetList(ctx context.Context, listId int) (types.List, error) {
	args := m.Called(listId)
	return args.Get(0).(types.List), args.Error(1)
}
func (m *MockChatRepository) GetItem(ctx context.Context, itemId int) (types.Item, error) {
	args := m.Called(itemId)
	return args.Get(0).(types.Item), args.Error(1)
}
func (m *MockChatRepository) ListItemIds(ctx context.Context, listId int) ([]int, error) {
	args := m.Called(listId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockChatRepository) ListParticipantIds(ctx context.Context, listId int) ([]int, error) {
	args := m.Called(listId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockChatRepository) GetParticipant(ctx context.Context, listId, userId int) (types.Participant, error) {
	args := m.Called(listId, userId)
	return args.Get(0).(types.Participant), args.Error(1)
}
func (m *MockChatRepository) ListUserListIds(ctx context.Context, userId int) ([]int, error) {
	args := m.Called(userId)
	return args.Get(0).([]int), args.Error(1)
}
