package store

import (
	"errors"
	"testing"
	"time"

	"bookie/pkg/domain"
)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		gs, err := NewGormStore("sqlite::memory:")
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = gs.Close() })
		fn(t, gs)
	})
}

func testUser(id, name string, at time.Time) domain.User {
	return domain.User{
		ID:           id,
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestStoreUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		now := time.Now().UTC()
		if err := s.CreateUser(testUser("u1", "ana", now)); err != nil {
			t.Fatalf("create user: %v", err)
		}
		dupEmail := testUser("u2", "other", now)
		dupEmail.Email = "ana@example.com"
		if err := s.CreateUser(dupEmail); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected duplicate email, got %v", err)
		}
		if err := s.CreateUser(testUser("u3", "ana", now)); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected duplicate username, got %v", err)
		}

		u, ok, err := s.GetUserByEmail("ana@example.com")
		if err != nil || !ok {
			t.Fatalf("get by email: ok=%v err=%v", ok, err)
		}
		u.AboutText = "lectora"
		u.FavoriteGenres = []string{"fantasía", "ensayo"}
		if err := s.SaveUser(u); err != nil {
			t.Fatalf("save user: %v", err)
		}
		got, ok, err := s.GetUserByID("u1")
		if err != nil || !ok {
			t.Fatalf("get by id: ok=%v err=%v", ok, err)
		}
		if got.AboutText != "lectora" || len(got.FavoriteGenres) != 2 || got.FavoriteGenres[0] != "fantasía" {
			t.Fatalf("profile not saved: %+v", got)
		}
		if _, ok, _ := s.GetUserByUsername("nadie"); ok {
			t.Fatalf("expected unknown username to be absent")
		}
		if err := s.SaveUser(testUser("missing", "missing", now)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found on save, got %v", err)
		}
	})
}

func TestStoreLibraryAndTop3(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		now := time.Now().UTC()
		if err := s.UpsertBook(domain.Book{ISBN: "9780307474728", Title: "Cien años de soledad", Authors: []string{"Gabriel García Márquez"}, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("upsert book: %v", err)
		}
		if err := s.UpsertBook(domain.Book{ISBN: "9780307474728", Thumbnail: "http://img", UpdatedAt: now}); err != nil {
			t.Fatalf("merge book: %v", err)
		}
		b, ok, err := s.GetBook("9780307474728")
		if err != nil || !ok {
			t.Fatalf("get book: ok=%v err=%v", ok, err)
		}
		if b.Title != "Cien años de soledad" || b.Thumbnail != "http://img" || len(b.Authors) != 1 {
			t.Fatalf("merge lost fields: %+v", b)
		}

		added, err := s.AddToLibrary("u1", b.ISBN, now)
		if err != nil || !added {
			t.Fatalf("add to library: added=%v err=%v", added, err)
		}
		added, err = s.AddToLibrary("u1", b.ISBN, now)
		if err != nil || added {
			t.Fatalf("second add should be a no-op: added=%v err=%v", added, err)
		}
		lib, err := s.ListLibrary("u1")
		if err != nil || len(lib) != 1 || lib[0].Book.Title != b.Title {
			t.Fatalf("list library: %+v err=%v", lib, err)
		}

		if err := s.ReplaceTop3("u1", []domain.TopBook{{Position: 1, ISBN: b.ISBN}}); err != nil {
			t.Fatalf("replace top3: %v", err)
		}
		top, err := s.ListTop3("u1")
		if err != nil || len(top) != 1 || top[0].Book == nil || top[0].Book.ISBN != b.ISBN {
			t.Fatalf("list top3: %+v err=%v", top, err)
		}

		removed, err := s.RemoveFromLibrary("u1", b.ISBN)
		if err != nil || !removed {
			t.Fatalf("remove: removed=%v err=%v", removed, err)
		}
		removed, err = s.RemoveFromLibrary("u1", b.ISBN)
		if err != nil || removed {
			t.Fatalf("second remove: removed=%v err=%v", removed, err)
		}
	})
}

func TestStoreEvents(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		now := time.Now().UTC()
		if err := s.CreateUser(testUser("u1", "ana", now)); err != nil {
			t.Fatalf("create user: %v", err)
		}
		ev := domain.Event{ID: "e1", Title: "Club", Date: "2026-11-01", Time: "18:30", Category: "club", Location: "Biblioteca", CreatedByID: "u1", CreatedAt: now, UpdatedAt: now}
		if err := s.SaveEvent(ev); err != nil {
			t.Fatalf("save event: %v", err)
		}
		added, err := s.AddAttendee("e1", "u1")
		if err != nil || !added {
			t.Fatalf("add attendee: added=%v err=%v", added, err)
		}
		added, err = s.AddAttendee("e1", "u1")
		if err != nil || added {
			t.Fatalf("second signup should report existing: added=%v err=%v", added, err)
		}
		got, ok, err := s.GetEvent("e1")
		if err != nil || !ok || got.Attendees != 1 {
			t.Fatalf("get event: %+v ok=%v err=%v", got, ok, err)
		}
		attendees, err := s.ListAttendees("e1")
		if err != nil || len(attendees) != 1 || attendees[0].Username != "ana" {
			t.Fatalf("attendees: %+v err=%v", attendees, err)
		}
		mine, err := s.ListEventsByAttendee("u1")
		if err != nil || len(mine) != 1 {
			t.Fatalf("events by attendee: %+v err=%v", mine, err)
		}
		removed, err := s.RemoveAttendee("e1", "u1")
		if err != nil || !removed {
			t.Fatalf("remove attendee: removed=%v err=%v", removed, err)
		}
		if err := s.DeleteEvent("e1"); err != nil {
			t.Fatalf("delete event: %v", err)
		}
		if _, ok, _ := s.GetEvent("e1"); ok {
			t.Fatalf("expected event deleted")
		}
	})
}

func TestStoreChannels(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		base := time.Now().UTC().Add(-time.Hour)
		for _, u := range []domain.User{testUser("u1", "ana", base), testUser("u2", "luis", base)} {
			if err := s.CreateUser(u); err != nil {
				t.Fatalf("create user: %v", err)
			}
		}
		a := domain.Channel{ID: "book-isbn-1", Type: domain.ChannelMessaging, Name: "Uno", BookTitle: "Uno", ISBN: "1", CreatedByID: "u1", CreatedAt: base}
		b := domain.Channel{ID: "book-isbn-2", Type: domain.ChannelMessaging, Name: "Dos", BookTitle: "Dos", ISBN: "2", CreatedByID: "u2", CreatedAt: base.Add(time.Minute)}

		created, err := s.CreateChannel(a)
		if err != nil || !created {
			t.Fatalf("create channel: created=%v err=%v", created, err)
		}
		created, err = s.CreateChannel(a)
		if err != nil || created {
			t.Fatalf("second create should be a no-op: created=%v err=%v", created, err)
		}
		if _, err := s.CreateChannel(b); err != nil {
			t.Fatalf("create channel b: %v", err)
		}

		for i, m := range []struct{ ch, user string }{{a.ID, "u1"}, {a.ID, "u1"}, {a.ID, "u2"}, {b.ID, "u1"}} {
			if _, err := s.AddMember(m.ch, m.user, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("add member %d: %v", i, err)
			}
		}
		got, _, err := s.GetChannel(a.ID)
		if err != nil || got.MemberCount != 2 {
			t.Fatalf("member count: %+v err=%v", got, err)
		}
		members, err := s.ListMembers(a.ID)
		if err != nil || len(members) != 2 || members[0].User.Username != "ana" {
			t.Fatalf("members: %+v err=%v", members, err)
		}
		if ok, _ := s.IsMember(a.ID, "u2"); !ok {
			t.Fatalf("expected u2 to be a member")
		}

		removed, err := s.RemoveMember(a.ID, "u2")
		if err != nil || !removed {
			t.Fatalf("remove member: removed=%v err=%v", removed, err)
		}
		removed, err = s.RemoveMember(a.ID, "u2")
		if err != nil || removed {
			t.Fatalf("second remove: removed=%v err=%v", removed, err)
		}

		all, err := s.ListChannels(domain.ChannelMessaging)
		if err != nil || len(all) != 2 {
			t.Fatalf("list channels: %+v err=%v", all, err)
		}

		// channel a becomes the most recently active one
		msgAt := base.Add(30 * time.Minute)
		if err := s.AppendChannelMessage(domain.ChannelMessage{ID: "m1", ChannelID: a.ID, UserID: "u1", Text: "hola", CreatedAt: msgAt}); err != nil {
			t.Fatalf("append message: %v", err)
		}
		if err := s.AppendChannelMessage(domain.ChannelMessage{ID: "m2", ChannelID: a.ID, UserID: "u1", Text: "¿qué tal?", CreatedAt: msgAt.Add(time.Second)}); err != nil {
			t.Fatalf("append message: %v", err)
		}
		mine, err := s.ListChannelsByMember("u1")
		if err != nil || len(mine) != 2 || mine[0].ID != a.ID {
			t.Fatalf("my channels order: %+v err=%v", mine, err)
		}
		msgs, err := s.ListChannelMessages(a.ID, 1)
		if err != nil || len(msgs) != 1 || msgs[0].ID != "m2" {
			t.Fatalf("latest messages: %+v err=%v", msgs, err)
		}

		if err := s.FillChannelBook(a.ID, "http://thumb", []string{"Autora"}); err != nil {
			t.Fatalf("fill book: %v", err)
		}
		if err := s.FillChannelBook(a.ID, "http://other", nil); err != nil {
			t.Fatalf("fill book again: %v", err)
		}
		got, _, _ = s.GetChannel(a.ID)
		if got.Thumbnail != "http://thumb" || len(got.Authors) != 1 {
			t.Fatalf("fill book: %+v", got)
		}

		if err := s.DeleteChannel(a.ID); err != nil {
			t.Fatalf("delete channel: %v", err)
		}
		if _, ok, _ := s.GetChannel(a.ID); ok {
			t.Fatalf("expected channel deleted")
		}
		if ok, _ := s.IsMember(a.ID, "u1"); ok {
			t.Fatalf("expected memberships removed with channel")
		}
	})
}
