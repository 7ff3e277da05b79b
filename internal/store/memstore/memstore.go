// Package memstore is an in-memory reference implementation of the
// internal/store repository contracts. It backs engine tests and the
// server's standalone/demo mode; it is not the storage backend collaborator
// described in spec.md §6, which remains abstract to the core.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// Store bundles in-memory implementations of every repository contract
// behind a single mutex per entity, mirroring the teacher's reliance on
// simple, fine-grained concurrency primitives rather than a full database.
type Store struct {
	users       *userRepo
	rooms       *roomRepo
	memberships *membershipRepo
	messages    *messageRepo
	invitations *invitationRepo
	sessions    *sessionRepo
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:       &userRepo{byID: map[types.UserID]*types.User{}},
		rooms:       &roomRepo{byID: map[types.RoomID]*types.Room{}},
		memberships: &membershipRepo{byKey: map[membershipKey]*types.RoomMembership{}},
		messages:    &messageRepo{byID: map[types.MessageID]*types.Message{}},
		invitations: &invitationRepo{byID: map[types.InvitationID]*types.Invitation{}},
		sessions:    &sessionRepo{byID: map[types.SessionID]*types.Session{}},
	}
}

// Repositories exposes the bundle the engine expects. Rooms and
// Invitations are wrapped so that ListForUser and AcceptAtomically, which
// need to read or write across two entity repositories, can be composed
// without the individual repos knowing about each other.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Users:       s.users,
		Rooms:       &composedRoomRepo{rooms: s.rooms, memberships: s.memberships},
		Memberships: s.memberships,
		Messages:    s.messages,
		Invitations: &composedInvitationRepo{invitations: s.invitations, memberships: s.memberships},
		Sessions:    s.sessions,
	}
}

// --- users ---

type userRepo struct {
	mu   sync.RWMutex
	byID map[types.UserID]*types.User
}

func (r *userRepo) Create(_ context.Context, u *types.User) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	norm := types.NormalizeUsername(u.Username)
	for _, existing := range r.byID {
		if types.NormalizeUsername(existing.Username) == norm {
			return nil, lcerr.ConflictErr("username already taken")
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return nil, lcerr.ConflictErr("email already registered")
		}
	}
	cp := *u
	r.byID[cp.ID] = &cp
	return cloneUser(&cp), nil
}

func (r *userRepo) FindByID(_ context.Context, id types.UserID) (*types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *userRepo) FindByUsernameCI(_ context.Context, username string) (*types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	norm := types.NormalizeUsername(username)
	for _, u := range r.byID {
		if types.NormalizeUsername(u.Username) == norm {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *userRepo) FindByEmailCI(_ context.Context, email string) (*types.User, error) {
	if email == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *userRepo) Update(_ context.Context, u *types.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return lcerr.NotFoundErr("user not found")
	}
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *userRepo) List(_ context.Context, p types.Pagination) ([]types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*types.User, 0, len(r.byID))
	for _, u := range r.byID {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return pageUsers(all, p), nil
}

func (r *userRepo) Search(_ context.Context, prefix string, p types.Pagination) ([]types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	norm := types.NormalizeUsername(prefix)
	var matched []*types.User
	for _, u := range r.byID {
		if strings.HasPrefix(types.NormalizeUsername(u.Username), norm) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	return pageUsers(matched, p), nil
}

func pageUsers(all []*types.User, p types.Pagination) []types.User {
	p = p.Clamp()
	out := make([]types.User, 0, p.Limit)
	for i := p.Offset; i < len(all) && len(out) < p.Limit; i++ {
		out = append(out, *cloneUser(all[i]))
	}
	return out
}

func cloneUser(u *types.User) *types.User {
	cp := *u
	return &cp
}

// --- rooms ---

type roomRepo struct {
	mu   sync.RWMutex
	byID map[types.RoomID]*types.Room
}

func (r *roomRepo) Create(_ context.Context, room *types.Room) (*types.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *room
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *roomRepo) Get(_ context.Context, id types.RoomID) (*types.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *room
	return &cp, nil
}

func (r *roomRepo) Update(_ context.Context, room *types.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[room.ID]; !ok {
		return lcerr.NotFoundErr("room not found")
	}
	cp := *room
	r.byID[room.ID] = &cp
	return nil
}

func (r *roomRepo) Delete(_ context.Context, id types.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byID[id]
	if !ok {
		return lcerr.NotFoundErr("room not found")
	}
	room.Deleted = true
	return nil
}

func (r *roomRepo) ListPublic(_ context.Context, p types.Pagination) ([]types.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*types.Room
	for _, room := range r.byID {
		if room.Settings.IsPublic && !room.Deleted {
			all = append(all, room)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return pageRooms(all, p), nil
}

// composedRoomRepo adds ListForUser, which needs the membership repo, on
// top of the plain roomRepo.
type composedRoomRepo struct {
	rooms       *roomRepo
	memberships *membershipRepo
}

func (c *composedRoomRepo) Create(ctx context.Context, r *types.Room) (*types.Room, error) {
	return c.rooms.Create(ctx, r)
}
func (c *composedRoomRepo) Get(ctx context.Context, id types.RoomID) (*types.Room, error) {
	return c.rooms.Get(ctx, id)
}
func (c *composedRoomRepo) Update(ctx context.Context, r *types.Room) error {
	return c.rooms.Update(ctx, r)
}
func (c *composedRoomRepo) Delete(ctx context.Context, id types.RoomID) error {
	return c.rooms.Delete(ctx, id)
}
func (c *composedRoomRepo) ListPublic(ctx context.Context, p types.Pagination) ([]types.Room, error) {
	return c.rooms.ListPublic(ctx, p)
}

func (c *composedRoomRepo) ListForUser(ctx context.Context, userID types.UserID, p types.Pagination) ([]types.Room, error) {
	memberships, err := c.memberships.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].JoinedAt.Before(memberships[j].JoinedAt) })
	p = p.Clamp()
	out := make([]types.Room, 0, p.Limit)
	for i := p.Offset; i < len(memberships) && len(out) < p.Limit; i++ {
		room, err := c.rooms.Get(ctx, memberships[i].RoomID)
		if err != nil {
			return nil, err
		}
		if room != nil {
			out = append(out, *room)
		}
	}
	return out, nil
}

func pageRooms(all []*types.Room, p types.Pagination) []types.Room {
	p = p.Clamp()
	out := make([]types.Room, 0, p.Limit)
	for i := p.Offset; i < len(all) && len(out) < p.Limit; i++ {
		out = append(out, *all[i])
	}
	return out
}

// --- memberships ---

type membershipKey struct {
	Room types.RoomID
	User types.UserID
}

type membershipRepo struct {
	mu    sync.RWMutex
	byKey map[membershipKey]*types.RoomMembership
}

func (r *membershipRepo) Add(_ context.Context, m types.RoomMembership) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := membershipKey{m.RoomID, m.UserID}
	if _, ok := r.byKey[key]; ok {
		return false, nil
	}
	cp := m
	r.byKey[key] = &cp
	return true, nil
}

func (r *membershipRepo) Remove(_ context.Context, roomID types.RoomID, userID types.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := membershipKey{roomID, userID}
	if _, ok := r.byKey[key]; !ok {
		return false, nil
	}
	delete(r.byKey, key)
	return true, nil
}

func (r *membershipRepo) SetRole(_ context.Context, roomID types.RoomID, userID types.UserID, role types.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := membershipKey{roomID, userID}
	m, ok := r.byKey[key]
	if !ok {
		return lcerr.NotFoundErr("membership not found")
	}
	m.Role = role
	return nil
}

func (r *membershipRepo) IsMember(_ context.Context, roomID types.RoomID, userID types.UserID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKey[membershipKey{roomID, userID}]
	return ok, nil
}

func (r *membershipRepo) Get(_ context.Context, roomID types.RoomID, userID types.UserID) (*types.RoomMembership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[membershipKey{roomID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *membershipRepo) ListMembers(_ context.Context, roomID types.RoomID, p types.Pagination) ([]types.RoomMembership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*types.RoomMembership
	for k, m := range r.byKey {
		if k.Room == roomID {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].JoinedAt.Before(all[j].JoinedAt) })
	p = p.Clamp()
	out := make([]types.RoomMembership, 0, p.Limit)
	for i := p.Offset; i < len(all) && len(out) < p.Limit; i++ {
		out = append(out, *all[i])
	}
	return out, nil
}

func (r *membershipRepo) CountMembers(_ context.Context, roomID types.RoomID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.byKey {
		if k.Room == roomID {
			n++
		}
	}
	return n, nil
}

func (r *membershipRepo) ListForUser(_ context.Context, userID types.UserID) ([]types.RoomMembership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.RoomMembership
	for k, m := range r.byKey {
		if k.User == userID {
			out = append(out, *m)
		}
	}
	return out, nil
}

// --- messages ---

type messageRepo struct {
	mu   sync.RWMutex
	byID map[types.MessageID]*types.Message
}

func (r *messageRepo) Append(_ context.Context, m *types.Message) (*types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *messageRepo) Get(_ context.Context, id types.MessageID) (*types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *messageRepo) Update(_ context.Context, m *types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID]; !ok {
		return lcerr.NotFoundErr("message not found")
	}
	cp := *m
	r.byID[m.ID] = &cp
	return nil
}

func (r *messageRepo) MarkDeleted(_ context.Context, id types.MessageID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return lcerr.NotFoundErr("message not found")
	}
	m.Content = ""
	m.DeletedAt = &now
	return nil
}

func (r *messageRepo) ListByRoom(_ context.Context, roomID types.RoomID, p types.Pagination, before *time.Time) ([]types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*types.Message
	for _, m := range r.byID {
		if m.Target.Kind == types.TargetRoom && m.Target.RoomID == roomID {
			if before != nil && !m.CreatedAt.Before(*before) {
				continue
			}
			all = append(all, m)
		}
	}
	return pageMessagesNewestFirst(all, p), nil
}

func (r *messageRepo) ListDirectConversation(_ context.Context, a, b types.UserID, p types.Pagination, before *time.Time) ([]types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*types.Message
	for _, m := range r.byID {
		if m.Target.Kind != types.TargetDirect {
			continue
		}
		participants := (m.Author == a && m.Target.UserID == b) || (m.Author == b && m.Target.UserID == a)
		if !participants {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		all = append(all, m)
	}
	return pageMessagesNewestFirst(all, p), nil
}

func pageMessagesNewestFirst(all []*types.Message, p types.Pagination) []types.Message {
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	p = p.Clamp()
	out := make([]types.Message, 0, p.Limit)
	for i := p.Offset; i < len(all) && len(out) < p.Limit; i++ {
		out = append(out, *all[i])
	}
	return out
}

// --- invitations ---

type invitationRepo struct {
	mu   sync.Mutex
	byID map[types.InvitationID]*types.Invitation
}

func (r *invitationRepo) Create(_ context.Context, inv *types.Invitation) (*types.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.RoomID == inv.RoomID && existing.Invitee == inv.Invitee && existing.State == types.InvitationPending {
			return nil, lcerr.ConflictErr("pending invitation already exists")
		}
	}
	cp := *inv
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *invitationRepo) Get(_ context.Context, id types.InvitationID) (*types.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (r *invitationRepo) FindPending(_ context.Context, roomID types.RoomID, invitee types.UserID) (*types.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.byID {
		if inv.RoomID == roomID && inv.Invitee == invitee && inv.State == types.InvitationPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *invitationRepo) ListPendingForUser(_ context.Context, userID types.UserID) ([]types.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Invitation
	for _, inv := range r.byID {
		if inv.Invitee == userID && inv.State == types.InvitationPending {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *invitationRepo) UpdateState(_ context.Context, id types.InvitationID, state types.InvitationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byID[id]
	if !ok {
		return lcerr.NotFoundErr("invitation not found")
	}
	inv.State = state
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// composedInvitationRepo adds AcceptAtomically, which needs the membership
// repo, on top of the plain invitationRepo.
type composedInvitationRepo struct {
	invitations *invitationRepo
	memberships *membershipRepo
}

func (c *composedInvitationRepo) Create(ctx context.Context, inv *types.Invitation) (*types.Invitation, error) {
	return c.invitations.Create(ctx, inv)
}
func (c *composedInvitationRepo) Get(ctx context.Context, id types.InvitationID) (*types.Invitation, error) {
	return c.invitations.Get(ctx, id)
}
func (c *composedInvitationRepo) FindPending(ctx context.Context, roomID types.RoomID, invitee types.UserID) (*types.Invitation, error) {
	return c.invitations.FindPending(ctx, roomID, invitee)
}
func (c *composedInvitationRepo) ListPendingForUser(ctx context.Context, userID types.UserID) ([]types.Invitation, error) {
	return c.invitations.ListPendingForUser(ctx, userID)
}
func (c *composedInvitationRepo) UpdateState(ctx context.Context, id types.InvitationID, state types.InvitationState) error {
	return c.invitations.UpdateState(ctx, id, state)
}

// AcceptAtomically transitions the invitation to Accepted and adds the
// membership as a single critical section guarded by the invitation's own
// lock, so a racing second accept observes the non-Pending state and fails
// with conflict instead of double-accepting (§8 invariant 3, round-trip law).
func (c *composedInvitationRepo) AcceptAtomically(ctx context.Context, id types.InvitationID, m types.RoomMembership) (*types.RoomMembership, error) {
	c.invitations.mu.Lock()
	inv, ok := c.invitations.byID[id]
	if !ok {
		c.invitations.mu.Unlock()
		return nil, lcerr.NotFoundErr("invitation not found")
	}
	if inv.State != types.InvitationPending {
		c.invitations.mu.Unlock()
		return nil, lcerr.ConflictErr("invitation is no longer pending")
	}
	inv.State = types.InvitationAccepted
	inv.UpdatedAt = time.Now().UTC()
	c.invitations.mu.Unlock()

	if _, err := c.memberships.Add(ctx, m); err != nil {
		return nil, err
	}
	cp := m
	return &cp, nil
}

// --- sessions ---

type sessionRepo struct {
	mu   sync.RWMutex
	byID map[types.SessionID]*types.Session
}

func (r *sessionRepo) Create(_ context.Context, s *types.Session) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *sessionRepo) GetByID(_ context.Context, id types.SessionID) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) TouchActivity(_ context.Context, id types.SessionID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return lcerr.NotFoundErr("session not found")
	}
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	return nil
}

func (r *sessionRepo) Delete(_ context.Context, id types.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *sessionRepo) ListForUser(_ context.Context, userID types.UserID) ([]types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Session
	for _, s := range r.byID {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}
