package channels

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookie/pkg/bookieclient"
	"bookie/pkg/channelkey"
	"bookie/pkg/domain"
	"bookie/pkg/realtime"
	"bookie/pkg/session"
)

type fakeBackend struct {
	calls    []string
	isbnReq  bookieclient.ChannelBookRequest
	leaveErr error
	channels map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{channels: map[string]bool{}}
}

func (b *fakeBackend) CreateOrJoinChannelByISBN(_ context.Context, _ string, req bookieclient.ChannelBookRequest) (bookieclient.ChannelResponse, error) {
	b.calls = append(b.calls, "isbn")
	b.isbnReq = req
	id := "book-isbn-" + req.ISBN
	created := !b.channels[id]
	b.channels[id] = true
	return bookieclient.ChannelResponse{ChannelID: id, Created: created}, nil
}

func (b *fakeBackend) CreateOrJoinChannelByTitle(_ context.Context, _ string, title string) (bookieclient.ChannelResponse, error) {
	b.calls = append(b.calls, "title")
	id, _ := channelkey.ChannelIDForTitle(title)
	return bookieclient.ChannelResponse{ChannelID: id, Created: true}, nil
}

func (b *fakeBackend) JoinChannel(_ context.Context, _ string, id string) (bookieclient.ChannelResponse, error) {
	b.calls = append(b.calls, "join")
	return bookieclient.ChannelResponse{ChannelID: id, Status: "already_member"}, nil
}

func (b *fakeBackend) LeaveChannel(context.Context, string, string) error {
	b.calls = append(b.calls, "leave")
	return b.leaveErr
}

func (b *fakeBackend) DeleteChannel(context.Context, string, string) error {
	b.calls = append(b.calls, "delete")
	return nil
}

func (b *fakeBackend) PublicChannels(context.Context, string) ([]domain.ChannelSummary, error) {
	b.calls = append(b.calls, "public")
	return []domain.ChannelSummary{{ID: "book-isbn-1", Name: "📚 Uno", BookTitle: "Uno", MemberCount: 2}}, nil
}

func (b *fakeBackend) MyChannels(context.Context, string) ([]domain.Channel, error) {
	b.calls = append(b.calls, "mine")
	return nil, nil
}

type passAuth struct{}

func (passAuth) WithAuthRetry(ctx context.Context, call session.Call) error {
	return call(ctx, "tok")
}

type fakeLive struct {
	user     string
	watched  []string
	released []string
	watchErr error
}

func (l *fakeLive) UserID() string { return l.user }

func (l *fakeLive) Watch(_ context.Context, id string) (realtime.ChannelState, error) {
	l.watched = append(l.watched, id)
	if l.watchErr != nil {
		return realtime.ChannelState{}, l.watchErr
	}
	return realtime.ChannelState{Channel: domain.Channel{ID: id}, Watching: true}, nil
}

func (l *fakeLive) Release(id string) { l.released = append(l.released, id) }

func newDirectory(user string) (*Directory, *fakeBackend, *fakeLive) {
	b := newFakeBackend()
	l := &fakeLive{user: user}
	return NewDirectory(b, passAuth{}, l), b, l
}

func TestCreateOrJoinByISBNNormalizesAndWatches(t *testing.T) {
	d, b, l := newDirectory("u1")

	att, err := d.CreateOrJoinByISBN(context.Background(), Book{ISBN: " 978-84-376-0494-7 "})
	require.NoError(t, err)
	assert.Equal(t, "book-isbn-9788437604947", att.ChannelID)
	assert.True(t, att.Created)
	assert.Equal(t, "9788437604947", b.isbnReq.ISBN)
	assert.Equal(t, DefaultBookTitle, b.isbnReq.BookTitle)
	assert.NotNil(t, b.isbnReq.Authors)
	assert.Equal(t, []string{"book-isbn-9788437604947"}, l.watched)

	again, err := d.CreateOrJoinByISBN(context.Background(), Book{ISBN: "9788437604947", Title: "Cien años"})
	require.NoError(t, err)
	assert.Equal(t, att.ChannelID, again.ChannelID)
	assert.False(t, again.Created)
}

func TestCreateOrJoinByISBNValidatesBeforeNetwork(t *testing.T) {
	d, b, _ := newDirectory("u1")
	_, err := d.CreateOrJoinByISBN(context.Background(), Book{ISBN: " - -", Title: "x"})
	assert.ErrorIs(t, err, bookieclient.ErrValidation)
	assert.Empty(t, b.calls)
	assert.Nil(t, d.LastState())
}

func TestCreateOrJoinByISBNTwiceKeepsChannelID(t *testing.T) {
	d, b, _ := newDirectory("u1")

	first, err := d.CreateOrJoinByISBN(context.Background(), Book{ISBN: "84-376-0494-X"})
	require.NoError(t, err)
	second, err := d.CreateOrJoinByISBN(context.Background(), Book{ISBN: "843760494x"})
	require.NoError(t, err)

	assert.Equal(t, "book-isbn-843760494X", first.ChannelID)
	assert.Equal(t, first.ChannelID, second.ChannelID)
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, []string{"isbn", "isbn"}, b.calls)
}

func TestCreateOrJoinByTitle(t *testing.T) {
	d, b, l := newDirectory("u1")
	var seen []OpState
	d.OnState(func(s OpState) { seen = append(seen, s) })

	att, err := d.CreateOrJoinByTitle(context.Background(), "  Cien años de soledad ")
	require.NoError(t, err)
	assert.Equal(t, "book-cien-anos-de-soledad", att.ChannelID)
	assert.True(t, att.Created)
	assert.True(t, att.State.Watching)
	assert.Equal(t, []string{"title"}, b.calls)
	assert.Equal(t, []string{"book-cien-anos-de-soledad"}, l.watched)
	require.Len(t, seen, 2)
	assert.Equal(t, Pending{Op: OpCreateOrJoin, ChannelID: "book-cien-anos-de-soledad"}, seen[0])
	assert.Equal(t, Confirmed{Op: OpCreateOrJoin, ChannelID: "book-cien-anos-de-soledad"}, seen[1])
}

func TestCreateOrJoinByTitleValidatesBeforeNetwork(t *testing.T) {
	d, b, l := newDirectory("u1")
	_, err := d.CreateOrJoinByTitle(context.Background(), "   ")
	assert.ErrorIs(t, err, bookieclient.ErrValidation)
	_, err = d.CreateOrJoinByTitle(context.Background(), "¿¡!?")
	assert.ErrorIs(t, err, bookieclient.ErrValidation)
	assert.Empty(t, b.calls)
	assert.Empty(t, l.watched)
	assert.Nil(t, d.LastState())
}

func TestOperationsRequireConnection(t *testing.T) {
	d, b, _ := newDirectory("")
	_, err := d.CreateOrJoinByISBN(context.Background(), Book{ISBN: "123"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, d.Leave(context.Background(), "x"), realtime.ErrNotConnected)
	_, err = d.ListPublicChannels(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, b.calls)
}

func TestStateTransitions(t *testing.T) {
	d, _, l := newDirectory("u1")
	var seen []OpState
	unsubscribe := d.OnState(func(s OpState) { seen = append(seen, s) })

	_, err := d.JoinByID(context.Background(), "book-isbn-1")
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, Pending{Op: OpJoin, ChannelID: "book-isbn-1"}, seen[0])
	assert.Equal(t, Confirmed{Op: OpJoin, ChannelID: "book-isbn-1"}, seen[1])
	assert.False(t, InFlight(d.LastState()))

	l.watchErr = errors.New("socket closed")
	_, err = d.JoinByID(context.Background(), "book-isbn-2")
	require.Error(t, err)
	rejected, ok := seen[len(seen)-1].(Rejected)
	require.True(t, ok)
	assert.Equal(t, OpJoin, rejected.Operation())
	assert.ErrorIs(t, rejected.Err, l.watchErr)

	unsubscribe()
	unsubscribe()
	n := len(seen)
	_, _ = d.JoinByID(context.Background(), "book-isbn-3")
	assert.Len(t, seen, n)
}

func TestLeaveNotMember(t *testing.T) {
	d, b, l := newDirectory("u1")
	b.leaveErr = &bookieclient.APIError{Status: http.StatusConflict, Message: "not a member"}

	err := d.Leave(context.Background(), "book-isbn-1")
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Empty(t, l.released)
	_, rejected := d.LastState().(Rejected)
	assert.True(t, rejected)
}

func TestLeaveReleasesWatch(t *testing.T) {
	d, _, l := newDirectory("u1")
	require.NoError(t, d.Leave(context.Background(), "book-isbn-1"))
	assert.Equal(t, []string{"book-isbn-1"}, l.released)
}

func TestDeleteRejectsNonCreatorLocally(t *testing.T) {
	d, b, l := newDirectory("u2")
	ch := domain.Channel{ID: "book-isbn-1", CreatedByID: "u1"}

	err := d.Delete(context.Background(), ch)
	assert.ErrorIs(t, err, ErrNotCreator)
	assert.Empty(t, b.calls)
	assert.Empty(t, l.released)
}

func TestDeleteByCreator(t *testing.T) {
	d, b, l := newDirectory("u1")
	require.NoError(t, d.Delete(context.Background(), domain.Channel{ID: "book-isbn-1", CreatedByID: "u1"}))
	assert.Equal(t, []string{"delete"}, b.calls)
	assert.Equal(t, []string{"book-isbn-1"}, l.released)
}

func TestIsCreator(t *testing.T) {
	d, _, l := newDirectory("u1")
	assert.True(t, d.IsCreator(domain.Channel{CreatedByID: "u1"}))
	assert.False(t, d.IsCreator(domain.Channel{CreatedByID: "u2"}))
	assert.False(t, d.IsCreator(domain.Channel{}))
	l.user = ""
	assert.False(t, d.IsCreator(domain.Channel{CreatedByID: "u1"}))
}

func TestMembershipHelpers(t *testing.T) {
	d, _, _ := newDirectory("u1")
	state := realtime.ChannelState{Members: []domain.ChannelMember{
		{User: domain.PublicUser{ID: "u1"}},
		{User: domain.PublicUser{ID: "u2"}},
	}}
	assert.True(t, d.IsMember(state))
	assert.Equal(t, 2, MemberCount(state))
	state.Channel.MemberCount = 5
	assert.Equal(t, 5, MemberCount(state))
	assert.False(t, d.IsMember(realtime.ChannelState{}))
}

func TestListPublicChannels(t *testing.T) {
	d, _, _ := newDirectory("u1")
	got, err := d.ListPublicChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].MemberCount)
}
