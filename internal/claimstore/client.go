// Package claimstore keeps a live local mirror of every claim and lets the
// signed-in owner write or clear their own claim.
//
// The mirror is replaced wholesale by each snapshot the backend pushes; a
// local write is never applied optimistically. Only the subscription pump
// goroutine mutates the claim set.
package claimstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"daycal/internal/calendar"
	"daycal/internal/identity"
	appLog "daycal/internal/log"
	"daycal/internal/model"
	"daycal/internal/prefs"
	"daycal/internal/projection"
)

// State is the sync engine's position in its per-session state machine.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateLive
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ProfileStore persists profile overrides keyed by owner id.
type ProfileStore interface {
	Get(ownerID string) (model.Profile, bool)
	Put(ownerID string, p model.Profile) error
}

// Options configures a Client. Observers are called one at a time, in
// order, and must not call back into the client's mutating methods.
type Options struct {
	// Profiles holds local profile overrides. Nil uses an in-memory store.
	Profiles ProfileStore

	// Month is the initially viewed month. Zero means the current month.
	Month calendar.Month

	OnChange func(projection.View)
	OnState  func(State)
	OnError  func(error)
}

// Client is the claim store client and its sync engine.
type Client struct {
	backend Backend
	opts    Options

	// notifyMu serializes view computation with observer delivery so
	// observers see views in the order they were built.
	notifyMu sync.Mutex

	mu      sync.RWMutex
	state   State
	id      *identity.Identity
	snap    model.Snapshot
	month   calendar.Month
	view    projection.View
	gen     uint64
	active  *session
	changed chan struct{}
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	sub    Subscription
	done   chan struct{}
}

// New returns an unsubscribed client.
func New(backend Backend, opts Options) *Client {
	if opts.Profiles == nil {
		mem, _ := prefs.Open("")
		opts.Profiles = mem
	}
	if opts.Month == (calendar.Month{}) {
		opts.Month = calendar.MonthOf(time.Now())
	}
	c := &Client{
		backend: backend,
		opts:    opts,
		month:   opts.Month,
		changed: make(chan struct{}),
	}
	c.view = projection.Build(model.Snapshot{}, "", c.month)
	return c
}

// State returns the current sync state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identity returns the signed-in identity, if any.
func (c *Client) Identity() (identity.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.id == nil {
		return identity.Identity{}, false
	}
	return *c.id, true
}

// View returns the most recently built projection.
func (c *Client) View() projection.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Claims returns a copy of the local claim set.
func (c *Client) Claims() []model.Claim {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone().Claims
}

// Month returns the viewed month.
func (c *Client) Month() calendar.Month {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.month
}

// Run follows src: every "present" transition starts a fresh subscription
// and every "absent" one tears it down. Run returns when ctx is done, after
// releasing the subscription.
func (c *Client) Run(ctx context.Context, src identity.Source) error {
	presence := src.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			c.SignOut()
			return ctx.Err()
		case p, ok := <-presence:
			if !ok {
				c.SignOut()
				return ctx.Err()
			}
			if !p.Present() {
				c.SignOut()
				continue
			}
			if err := c.SignIn(ctx, *p.Identity); err != nil {
				appLog.Error("sign-in subscription failed", err, "owner", p.Identity.OwnerID)
				c.notifyMu.Lock()
				c.fireError(err)
				c.notifyMu.Unlock()
			}
		}
	}
}

// SignIn binds the client to id and opens a new subscription. Any previous
// session is torn down first. ctx bounds only the subscribe call; the
// subscription itself lives until SignOut.
func (c *Client) SignIn(ctx context.Context, id identity.Identity) error {
	if id.OwnerID == "" {
		return &identity.AuthError{Reason: "identity has no owner id"}
	}
	c.SignOut()

	c.notifyMu.Lock()
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.id = &id
	c.snap = model.Snapshot{}
	c.state = StateSubscribing
	c.broadcastLocked()
	c.mu.Unlock()
	appLog.Info("claim sync subscribing", "owner", id.OwnerID)
	c.fireState(StateSubscribing)
	c.notifyMu.Unlock()

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := c.subscribe(ctx, subCtx)
	if err != nil {
		cancel()
		c.notifyMu.Lock()
		c.mu.Lock()
		reset := c.gen == gen
		if reset {
			c.gen++
			c.id = nil
			c.state = StateUnsubscribed
			c.broadcastLocked()
		}
		c.mu.Unlock()
		if reset {
			c.fireState(StateUnsubscribed)
		}
		c.notifyMu.Unlock()
		return &SyncError{Err: err}
	}

	s := &session{ctx: subCtx, cancel: cancel, sub: sub, done: make(chan struct{})}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		sub.Close()
		return ErrSignedOut
	}
	c.active = s
	c.mu.Unlock()

	go c.pump(gen, s)
	return nil
}

// subscribe calls the backend with the long-lived subCtx but gives up when
// the caller's ctx is done first.
func (c *Client) subscribe(ctx, subCtx context.Context) (Subscription, error) {
	type result struct {
		sub Subscription
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sub, err := c.backend.Subscribe(subCtx)
		ch <- result{sub, err}
	}()

	select {
	case r := <-ch:
		return r.sub, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.sub != nil {
				r.sub.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// SignOut releases the subscription and discards the local claim set. It
// returns only after the pump goroutine has exited.
func (c *Client) SignOut() {
	c.mu.Lock()
	s := c.active
	wasActive := c.state != StateUnsubscribed
	c.gen++
	c.active = nil
	c.id = nil
	c.snap = model.Snapshot{}
	c.state = StateUnsubscribed
	c.mu.Unlock()

	if s != nil {
		s.cancel()
		if err := s.sub.Close(); err != nil {
			appLog.Error("closing claim subscription failed", err)
		}
		<-s.done
	}
	if !wasActive {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	if c.state != StateUnsubscribed {
		// A new session started while we were waiting for the pump.
		c.mu.Unlock()
		return
	}
	c.view = projection.Build(model.Snapshot{}, "", c.month)
	view := c.view
	c.broadcastLocked()
	c.mu.Unlock()

	appLog.Info("claim sync unsubscribed")
	c.fireState(StateUnsubscribed)
	c.fireChange(view)
}

func (c *Client) pump(gen uint64, s *session) {
	defer close(s.done)

	snaps := s.sub.Snapshots()
	errs := s.sub.Errors()
	for {
		select {
		case <-s.ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				if s.ctx.Err() == nil {
					c.ended(gen, s)
				}
				return
			}
			c.apply(gen, snap)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			appLog.Error("claim sync transport failure", err)
			c.notifyMu.Lock()
			c.fireError(&SyncError{Err: err})
			c.notifyMu.Unlock()
		}
	}
}

// ended handles a subscription the backend closed on its own. The client
// drops back to Unsubscribed and observers get a SyncError, since no more
// snapshots will arrive for this session.
func (c *Client) ended(gen uint64, s *session) {
	s.cancel()
	if err := s.sub.Close(); err != nil {
		appLog.Error("closing claim subscription failed", err)
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.active = nil
	c.id = nil
	c.snap = model.Snapshot{}
	c.state = StateUnsubscribed
	c.view = projection.Build(model.Snapshot{}, "", c.month)
	view := c.view
	c.broadcastLocked()
	c.mu.Unlock()

	appLog.Warn("claim subscription ended by backend")
	c.fireError(&SyncError{Err: ErrSubscriptionEnded})
	c.fireState(StateUnsubscribed)
	c.fireChange(view)
}

// apply replaces the local set with snap in one step.
func (c *Client) apply(gen uint64, snap model.Snapshot) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || c.id == nil {
		c.mu.Unlock()
		return
	}
	c.snap = snap.Clone()
	becameLive := c.state != StateLive
	c.state = StateLive
	c.view = projection.Build(c.snap, c.id.OwnerID, c.month)
	view := c.view
	owner := c.id.OwnerID
	c.broadcastLocked()
	c.mu.Unlock()

	if becameLive {
		appLog.Info("claim sync live", "owner", owner, "revision", snap.Revision, "claims", len(snap.Claims))
		c.fireState(StateLive)
	} else {
		appLog.Debug("claim snapshot applied", "revision", snap.Revision, "claims", len(snap.Claims))
	}
	c.fireChange(view)
}

// Navigate changes the viewed month and rebuilds the view.
func (c *Client) Navigate(m calendar.Month) projection.View {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.month = m
	owner := ""
	if c.id != nil {
		owner = c.id.OwnerID
	}
	c.view = projection.Build(c.snap, owner, m)
	view := c.view
	c.broadcastLocked()
	c.mu.Unlock()

	c.fireChange(view)
	return view
}

// SetClaim writes the signed-in owner's claim for date, replacing any
// earlier one. The display name comes from the saved profile override or,
// failing that, the identity; without one ErrProfileRequired is returned
// and nothing is written. The local mirror only changes once the backend
// pushes the resulting snapshot.
func (c *Client) SetClaim(ctx context.Context, date string) error {
	if _, err := calendar.ParseDate(date); err != nil {
		return err
	}
	id, ok := c.Identity()
	if !ok {
		return ErrSignedOut
	}

	name, avatar := c.profileFor(id)
	if name == "" {
		return ErrProfileRequired
	}

	claim := model.Claim{
		OwnerID:     id.OwnerID,
		DisplayName: name,
		AvatarRef:   avatar,
		Date:        date,
	}
	if _, err := c.backend.Put(ctx, claim); err != nil {
		appLog.Error("claim write failed", err, "owner", id.OwnerID, "date", date)
		return &WriteError{Op: "set", Err: err}
	}
	appLog.Info("claim written", "owner", id.OwnerID, "date", date)
	return nil
}

// ClearClaim removes the signed-in owner's claim. Clearing when there is no
// claim is a no-op at the backend, so the delete is always sent: the mirror
// may not yet reflect this client's own last write.
func (c *Client) ClearClaim(ctx context.Context) error {
	id, ok := c.Identity()
	if !ok {
		return ErrSignedOut
	}

	if err := c.backend.Delete(ctx, id.OwnerID); err != nil {
		appLog.Error("claim clear failed", err, "owner", id.OwnerID)
		return &WriteError{Op: "clear", Err: err}
	}
	appLog.Info("claim cleared", "owner", id.OwnerID)
	return nil
}

// SaveProfile stores the owner's profile override. Empty fields keep the
// previous override. If the backend holds a claim for the owner it is
// rewritten through SetClaim so others see the new name and avatar.
func (c *Client) SaveProfile(ctx context.Context, p model.Profile) error {
	id, ok := c.Identity()
	if !ok {
		return ErrSignedOut
	}
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.AvatarRef = strings.TrimSpace(p.AvatarRef)
	if prev, ok := c.opts.Profiles.Get(id.OwnerID); ok {
		if p.DisplayName == "" {
			p.DisplayName = strings.TrimSpace(prev.DisplayName)
		}
		if p.AvatarRef == "" {
			p.AvatarRef = strings.TrimSpace(prev.AvatarRef)
		}
	}
	if p.DisplayName == "" && strings.TrimSpace(id.DisplayName) == "" {
		return ErrProfileRequired
	}
	if err := c.opts.Profiles.Put(id.OwnerID, p); err != nil {
		return fmt.Errorf("claimstore: save profile: %w", err)
	}

	own, has, err := c.backend.Get(ctx, id.OwnerID)
	if err != nil {
		appLog.Error("claim lookup failed", err, "owner", id.OwnerID)
		return &WriteError{Op: "refresh", Err: err}
	}
	if !has {
		return nil
	}
	return c.SetClaim(ctx, own.Date)
}

// Profile returns the effective display name and avatar for the signed-in
// owner.
func (c *Client) Profile() (model.Profile, bool) {
	id, ok := c.Identity()
	if !ok {
		return model.Profile{}, false
	}
	name, avatar := c.profileFor(id)
	return model.Profile{DisplayName: name, AvatarRef: avatar}, true
}

func (c *Client) profileFor(id identity.Identity) (name, avatar string) {
	name = strings.TrimSpace(id.DisplayName)
	avatar = strings.TrimSpace(id.AvatarRef)
	if p, ok := c.opts.Profiles.Get(id.OwnerID); ok {
		if v := strings.TrimSpace(p.DisplayName); v != "" {
			name = v
		}
		if v := strings.TrimSpace(p.AvatarRef); v != "" {
			avatar = v
		}
	}
	if avatar == "" {
		avatar = model.DefaultAvatarRef
	}
	return name, avatar
}

// Await blocks until the client is live and pred accepts the current view.
func (c *Client) Await(ctx context.Context, pred func(projection.View) bool) (projection.View, error) {
	for {
		c.mu.RLock()
		v := c.view
		live := c.state == StateLive
		changed := c.changed
		c.mu.RUnlock()

		if live && (pred == nil || pred(v)) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return projection.View{}, ctx.Err()
		case <-changed:
		}
	}
}

// broadcastLocked wakes every Await. Caller holds c.mu.
func (c *Client) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client) fireChange(v projection.View) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(v)
	}
}

func (c *Client) fireState(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Client) fireError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
