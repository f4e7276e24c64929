package store

import (
	"sort"
	"sync"
	"time"

	"bookie/pkg/domain"
)

type pair struct{ a, b string }

// MemoryStore keeps everything in-process. It backs tests and single-node
// development setups.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	books     map[string]domain.Book
	library   map[pair]time.Time // (user, isbn)
	top3      map[string][]domain.TopBook
	events    map[string]domain.Event
	attendees map[pair]time.Time // (event, user)
	channels  map[string]domain.Channel
	members   map[pair]time.Time // (channel, user)
	messages  map[string][]domain.ChannelMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		books:     make(map[string]domain.Book),
		library:   make(map[pair]time.Time),
		top3:      make(map[string][]domain.TopBook),
		events:    make(map[string]domain.Event),
		attendees: make(map[pair]time.Time),
		channels:  make(map[string]domain.Channel),
		members:   make(map[pair]time.Time),
		messages:  make(map[string][]domain.ChannelMessage),
	}
}

func (m *MemoryStore) conflictLocked(u domain.User) bool {
	for id, other := range m.users {
		if id == u.ID {
			continue
		}
		if other.Email == u.Email || other.Username == u.Username {
			return true
		}
	}
	return false
}

// CreateUser inserts a new user.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok || m.conflictLocked(u) {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	return nil
}

// SaveUser replaces an existing user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	if m.conflictLocked(u) {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) findUser(match func(domain.User) bool) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return m.findUser(func(u domain.User) bool { return u.Email == email })
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return m.findUser(func(u domain.User) bool { return u.Username == username })
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.books[b.ISBN]; ok {
		b = mergeBook(prev, b)
	}
	m.books[b.ISBN] = b
	return nil
}

func (m *MemoryStore) GetBook(isbn string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[isbn]
	return b, ok, nil
}

func (m *MemoryStore) AddToLibrary(userID, isbn string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{userID, isbn}
	if _, ok := m.library[key]; ok {
		return false, nil
	}
	m.library[key] = at.UTC()
	return true, nil
}

func (m *MemoryStore) RemoveFromLibrary(userID, isbn string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{userID, isbn}
	if _, ok := m.library[key]; !ok {
		return false, nil
	}
	delete(m.library, key)
	return true, nil
}

// ListLibrary returns the user's books, newest first.
func (m *MemoryStore) ListLibrary(userID string) ([]domain.LibraryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LibraryEntry
	for key, at := range m.library {
		if key.a != userID {
			continue
		}
		book, ok := m.books[key.b]
		if !ok {
			book = domain.Book{ISBN: key.b}
		}
		out = append(out, domain.LibraryEntry{Book: book, AddedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out, nil
}

func (m *MemoryStore) ReplaceTop3(userID string, entries []domain.TopBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.TopBook, 0, len(entries))
	for _, e := range entries {
		cp = append(cp, domain.TopBook{Position: e.Position, ISBN: e.ISBN})
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].Position < cp[j].Position })
	m.top3[userID] = cp
	return nil
}

func (m *MemoryStore) ListTop3(userID string) ([]domain.TopBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TopBook, 0, len(m.top3[userID]))
	for _, e := range m.top3[userID] {
		if b, ok := m.books[e.ISBN]; ok {
			e.Book = &b
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) SaveEvent(e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *MemoryStore) countAttendeesLocked(eventID string) int {
	n := 0
	for key := range m.attendees {
		if key.a == eventID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) GetEvent(id string) (domain.Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if ok {
		e.Attendees = m.countAttendeesLocked(id)
	}
	return e, ok, nil
}

func sortEvents(events []domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].Time < events[j].Time
	})
}

func (m *MemoryStore) ListEvents() ([]domain.Event, error) {
	m.mu.RLock()
	out := make([]domain.Event, 0, len(m.events))
	for id, e := range m.events {
		e.Attendees = m.countAttendeesLocked(id)
		out = append(out, e)
	}
	m.mu.RUnlock()
	sortEvents(out)
	return out, nil
}

func (m *MemoryStore) DeleteEvent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	for key := range m.attendees {
		if key.a == id {
			delete(m.attendees, key)
		}
	}
	return nil
}

func (m *MemoryStore) AddAttendee(eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{eventID, userID}
	if _, ok := m.attendees[key]; ok {
		return false, nil
	}
	m.attendees[key] = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) RemoveAttendee(eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{eventID, userID}
	if _, ok := m.attendees[key]; !ok {
		return false, nil
	}
	delete(m.attendees, key)
	return true, nil
}

func (m *MemoryStore) ListAttendees(eventID string) ([]domain.PublicUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type row struct {
		user domain.PublicUser
		at   time.Time
	}
	var rows []row
	for key, at := range m.attendees {
		if key.a != eventID {
			continue
		}
		if u, ok := m.users[key.b]; ok {
			rows = append(rows, row{u.Public(), at})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })
	out := make([]domain.PublicUser, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.user)
	}
	return out, nil
}

func (m *MemoryStore) ListEventsByAttendee(userID string) ([]domain.Event, error) {
	m.mu.RLock()
	var out []domain.Event
	for key := range m.attendees {
		if key.b != userID {
			continue
		}
		if e, ok := m.events[key.a]; ok {
			e.Attendees = m.countAttendeesLocked(e.ID)
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sortEvents(out)
	return out, nil
}

func (m *MemoryStore) CreateChannel(ch domain.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[ch.ID]; ok {
		return false, nil
	}
	ch.MemberCount = 0
	m.channels[ch.ID] = ch
	return true, nil
}

func (m *MemoryStore) GetChannel(id string) (domain.Channel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok, nil
}

func (m *MemoryStore) ListChannels(typ domain.ChannelType) ([]domain.Channel, error) {
	m.mu.RLock()
	var out []domain.Channel
	for _, ch := range m.channels {
		if ch.Type == typ {
			out = append(out, ch)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func lastActivity(ch domain.Channel) time.Time {
	if ch.LastMessageAt != nil {
		return *ch.LastMessageAt
	}
	return ch.CreatedAt
}

func (m *MemoryStore) ListChannelsByMember(userID string) ([]domain.Channel, error) {
	m.mu.RLock()
	var out []domain.Channel
	for key := range m.members {
		if key.b != userID {
			continue
		}
		if ch, ok := m.channels[key.a]; ok {
			out = append(out, ch)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return lastActivity(out[i]).After(lastActivity(out[j])) })
	return out, nil
}

func (m *MemoryStore) FillChannelBook(id, thumbnail string, authors []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return ErrNotFound
	}
	if ch.Thumbnail == "" {
		ch.Thumbnail = thumbnail
	}
	if len(ch.Authors) == 0 && len(authors) > 0 {
		ch.Authors = append([]string(nil), authors...)
	}
	m.channels[id] = ch
	return nil
}

func (m *MemoryStore) DeleteChannel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	delete(m.messages, id)
	for key := range m.members {
		if key.a == id {
			delete(m.members, key)
		}
	}
	return nil
}

func (m *MemoryStore) AddMember(channelID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{channelID, userID}
	if _, ok := m.members[key]; ok {
		return false, nil
	}
	m.members[key] = at.UTC()
	if ch, ok := m.channels[channelID]; ok {
		ch.MemberCount++
		m.channels[channelID] = ch
	}
	return true, nil
}

func (m *MemoryStore) RemoveMember(channelID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{channelID, userID}
	if _, ok := m.members[key]; !ok {
		return false, nil
	}
	delete(m.members, key)
	if ch, ok := m.channels[channelID]; ok && ch.MemberCount > 0 {
		ch.MemberCount--
		m.channels[channelID] = ch
	}
	return true, nil
}

func (m *MemoryStore) IsMember(channelID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[pair{channelID, userID}]
	return ok, nil
}

func (m *MemoryStore) ListMembers(channelID string) ([]domain.ChannelMember, error) {
	m.mu.RLock()
	var out []domain.ChannelMember
	for key, at := range m.members {
		if key.a != channelID {
			continue
		}
		user := domain.PublicUser{ID: key.b}
		if u, ok := m.users[key.b]; ok {
			user = u.Public()
		}
		out = append(out, domain.ChannelMember{ChannelID: channelID, User: user, JoinedAt: at})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) AppendChannelMessage(msg domain.ChannelMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], msg)
	if ch, ok := m.channels[msg.ChannelID]; ok {
		at := msg.CreatedAt
		ch.LastMessageAt = &at
		m.channels[msg.ChannelID] = ch
	}
	return nil
}

func (m *MemoryStore) ListChannelMessages(channelID string, limit int) ([]domain.ChannelMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return []domain.ChannelMessage{}, nil
	}
	all := m.messages[channelID]
	start := max(0, len(all)-limit)
	return append([]domain.ChannelMessage(nil), all[start:]...), nil
}
