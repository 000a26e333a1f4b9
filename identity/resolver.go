// Package identity resolves users and groups known to the ticketing
// service. Single-entity lookups that match nothing fail with
// NOT_FOUND; set lookups return an empty result instead. Lookups are
// read-only and cached briefly, since identities change rarely relative
// to ticket state.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pitabwire/changeflow/model"
)

// Transport is the read-only request boundary the resolver operates
// over. *transport.Client implements it.
type Transport interface {
	Get(ctx context.Context, operation, path string, query url.Values, out any) error
}

// maxGroupDepth bounds nested group expansion independently of cycle
// detection, guarding against pathological membership trees.
const maxGroupDepth = 32

// Resolver looks up users and groups and expands group membership.
// It is safe for concurrent use.
type Resolver struct {
	tr       Transport
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	user      *model.User
	expiresAt time.Time
}

// NewResolver creates a resolver with the given cache TTL. A
// non-positive TTL defaults to five minutes.
func NewResolver(tr Transport, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{
		tr:       tr,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

// UserByID resolves a user by numeric id. NOT_FOUND when no user has
// the id.
func (r *Resolver) UserByID(ctx context.Context, id int) (*model.User, error) {
	key := "id:" + strconv.Itoa(id)
	if u, ok := r.getCached(key); ok {
		return u, nil
	}

	var u model.User
	if err := r.tr.Get(ctx, "get_user", fmt.Sprintf("/users/%d", id), nil, &u); err != nil {
		return nil, err
	}
	r.putCached(key, &u)
	return &u, nil
}

// UserByUsername resolves a user by exact username. NOT_FOUND when the
// name matches no user.
func (r *Resolver) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	key := "name:" + username
	if u, ok := r.getCached(key); ok {
		return u, nil
	}

	users, err := r.listUsers(ctx, url.Values{"username": {username}})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Name == username {
			r.putCached(key, u)
			return u, nil
		}
	}
	return nil, model.NewNotFoundError(fmt.Sprintf("no user named %q", username))
}

// UserByEmail resolves the single user with the given email. Email is
// not guaranteed unique; when several users share it, the first match
// is returned. NOT_FOUND when no user has the email.
func (r *Resolver) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	key := "email:" + email
	if u, ok := r.getCached(key); ok {
		return u, nil
	}

	users, err := r.UsersByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("no user with email %q", email))
	}
	r.putCached(key, users[0])
	return users[0], nil
}

// UsersByEmail returns all users carrying the given email. An empty
// result is a valid outcome, never an error.
func (r *Resolver) UsersByEmail(ctx context.Context, email string) ([]*model.User, error) {
	return r.listUsers(ctx, url.Values{"email": {email}})
}

// GroupMembers returns the flattened member set of the group with the
// given name, nested groups expanded. NOT_FOUND when the name does not
// resolve to a group.
func (r *Resolver) GroupMembers(ctx context.Context, name string) ([]*model.User, error) {
	var out struct {
		Groups []*model.Group `json:"groups"`
	}
	if err := r.tr.Get(ctx, "get_group", "/groups", url.Values{"name": {name}}, &out); err != nil {
		return nil, err
	}
	if len(out.Groups) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("%q does not resolve to a group", name))
	}
	return r.expandGroup(ctx, out.Groups[0], make(map[int]bool), 0)
}

// GroupMembersByID returns the flattened member set of the group with
// the given id. NOT_FOUND when the id does not belong to a group.
func (r *Resolver) GroupMembersByID(ctx context.Context, id int) ([]*model.User, error) {
	g, err := r.groupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.expandGroup(ctx, g, make(map[int]bool), 0)
}

func (r *Resolver) groupByID(ctx context.Context, id int) (*model.Group, error) {
	var g model.Group
	if err := r.tr.Get(ctx, "get_group", fmt.Sprintf("/groups/%d", id), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// expandGroup flattens group membership recursively. The visited set
// breaks cycles in group-of-group data; the directory is assumed
// acyclic but the client never relies on that.
func (r *Resolver) expandGroup(ctx context.Context, g *model.Group, visited map[int]bool, depth int) ([]*model.User, error) {
	if depth > maxGroupDepth {
		return nil, model.NewValidationError(
			fmt.Sprintf("group %d exceeds maximum nesting depth", g.ID), nil,
		)
	}
	if visited[g.ID] {
		return nil, nil
	}
	visited[g.ID] = true

	seen := make(map[int]bool)
	var members []*model.User
	for _, m := range g.Members {
		switch m.Type {
		case model.MemberTypeGroup:
			nested, err := r.groupByID(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			expanded, err := r.expandGroup(ctx, nested, visited, depth+1)
			if err != nil {
				return nil, err
			}
			for _, u := range expanded {
				if !seen[u.ID] {
					seen[u.ID] = true
					members = append(members, u)
				}
			}
		default:
			u := m.User()
			if !seen[u.ID] {
				seen[u.ID] = true
				members = append(members, &u)
			}
		}
	}
	return members, nil
}

// listUsers runs a filtered user listing. The service answers set
// queries with 200 and an empty list rather than NOT_FOUND.
func (r *Resolver) listUsers(ctx context.Context, query url.Values) ([]*model.User, error) {
	var out struct {
		Users []*model.User `json:"users"`
	}
	if err := r.tr.Get(ctx, "list_users", "/users", query, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (r *Resolver) getCached(key string) (*model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.user, true
}

func (r *Resolver) putCached(key string, u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Drop expired entries opportunistically; the cache is small.
	now := time.Now()
	for k, v := range r.cache {
		if now.After(v.expiresAt) {
			delete(r.cache, k)
		}
	}
	r.cache[key] = cacheEntry{user: u, expiresAt: now.Add(r.cacheTTL)}
}
