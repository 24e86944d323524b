package notify_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/notify"
)

func TestNotifyUserPublishesOneJobPerDevice(t *testing.T) {
	tokens := new(mocks.DeviceTokenRepositoryMock)
	pub := new(mocks.PublisherMock)
	user := uuid.New()
	tokens.On("ListForUser", mock.Anything, user).Return([]models.DeviceToken{
		{Token: "web-1", DeviceType: models.DeviceWeb},
		{Token: "ios-1", DeviceType: models.DeviceIOS},
	}, nil)

	var jobs []notify.PushJob
	pub.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { jobs = append(jobs, args.Get(2).(notify.PushJob)) }).
		Return(nil)

	notify.NewPushNotifier(tokens, pub, zerolog.Nop()).NotifyUser(context.Background(), user, notify.Notification{
		Title: "alice",
		Body:  "hi",
		Data:  map[string]string{"room_id": "r1"},
	})

	pub.AssertCalled(t, "Publish", mock.Anything, "push.web", mock.Anything)
	pub.AssertCalled(t, "Publish", mock.Anything, "push.ios", mock.Anything)
	require.Len(t, jobs, 2)

	web, ios := jobs[0], jobs[1]
	require.NotNil(t, web.Notification)
	require.Equal(t, "hi", web.Notification.Body)
	require.Equal(t, "r1", web.Data["room_id"])
	require.NotContains(t, web.Data, "badge")

	require.Nil(t, ios.Notification)
	require.Equal(t, "alice", ios.Data["title"])
	require.Equal(t, "default", ios.Data["sound"])
	require.Equal(t, user.String(), ios.UserID)
}

func TestNotifyUserSwallowsFailures(t *testing.T) {
	tokens := new(mocks.DeviceTokenRepositoryMock)
	pub := new(mocks.PublisherMock)
	user := uuid.New()
	tokens.On("ListForUser", mock.Anything, user).Return([]models.DeviceToken{
		{Token: "a", DeviceType: models.DeviceAndroid},
		{Token: "b", DeviceType: models.DeviceAndroid},
	}, nil)
	pub.On("Publish", mock.Anything, "push.android", mock.Anything).Return(assert.AnError).Twice()

	notify.NewPushNotifier(tokens, pub, zerolog.Nop()).NotifyUser(context.Background(), user, notify.Notification{})
	pub.AssertExpectations(t)

	other := uuid.New()
	tokens.On("ListForUser", mock.Anything, other).Return(nil, assert.AnError)
	notify.NewPushNotifier(tokens, pub, zerolog.Nop()).NotifyUser(context.Background(), other, notify.Notification{})
}

func TestRegisterDeviceValidates(t *testing.T) {
	tokens := new(mocks.DeviceTokenRepositoryMock)
	n := notify.NewPushNotifier(tokens, new(mocks.PublisherMock), zerolog.Nop())
	user := uuid.New()

	_, err := n.RegisterDevice(context.Background(), user, "", models.DeviceWeb)
	require.True(t, apperror.Is(err, apperror.KindInvalidInput))
	_, err = n.RegisterDevice(context.Background(), user, "tok", models.DeviceType("pager"))
	require.True(t, apperror.Is(err, apperror.KindInvalidInput))

	tokens.On("UpsertToken", mock.Anything, user, "tok", models.DeviceIOS).
		Return(models.DeviceToken{Token: "tok", DeviceType: models.DeviceIOS, UserID: user}, nil).Once()
	out, err := n.RegisterDevice(context.Background(), user, "tok", models.DeviceIOS)
	require.NoError(t, err)
	require.Equal(t, user, out.UserID)
	tokens.AssertExpectations(t)
}
