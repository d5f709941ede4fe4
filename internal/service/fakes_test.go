package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/platform"
	"github.com/rentwatch/listing-guard/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeStore backs every repository interface with maps and enforces the
// same uniqueness and lifecycle rules as the database.
type fakeStore struct {
	mu sync.Mutex

	accounts   map[string]model.Account
	creds      map[string]model.Credential
	blacklist  map[string]model.BlacklistEntry
	history    []string
	events     map[int64]*model.RiskEvent
	tasks      map[int64]*model.GuardTask
	orders     map[string]model.Order
	watermarks map[string]model.Watermark
	nextID     int64

	upsertErr error
	updates   int
	credErr   map[string]error // by owner, for ListUsable
}

func newStore() *fakeStore {
	return &fakeStore{
		accounts:   map[string]model.Account{},
		creds:      map[string]model.Credential{},
		blacklist:  map[string]model.BlacklistEntry{},
		events:     map[int64]*model.RiskEvent{},
		tasks:      map[int64]*model.GuardTask{},
		orders:     map[string]model.Order{},
		watermarks: map[string]model.Watermark{},
	}
}

func k(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "|"
		}
		out += p
	}
	return out
}

var (
	_ repository.AccountRepository    = (*fakeStore)(nil)
	_ repository.BlacklistRepository  = (*fakeBlacklist)(nil)
	_ repository.CredentialRepository = (*fakeCreds)(nil)
	_ repository.RiskEventRepository  = (*fakeEvents)(nil)
	_ repository.GuardTaskRepository  = (*fakeTasks)(nil)
	_ repository.OrderRepository      = (*fakeOrders)(nil)
	_ repository.WatermarkRepository  = (*fakeWatermarks)(nil)
)

// accounts

func (f *fakeStore) addAccount(owner, id, game string, statuses map[model.Platform]model.StatusCode) {
	f.accounts[k(owner, id)] = model.Account{Owner: owner, AccountID: id, Game: game, Monitored: true, Statuses: statuses}
}

func (f *fakeStore) ListMonitored(context.Context) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Account
	for _, a := range f.accounts {
		if a.Monitored {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, owner, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[k(owner, id)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (f *fakeStore) UpsertStatuses(_ context.Context, owner, id, game string, st map[model.Platform]model.StatusCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[k(owner, id)]
	if !ok {
		a = model.Account{Owner: owner, AccountID: id, Monitored: true}
	}
	if game != "" {
		a.Game = game
	}
	merged := make(map[model.Platform]model.StatusCode, len(a.Statuses)+len(st))
	for p, c := range a.Statuses {
		merged[p] = c
	}
	for p, c := range st {
		merged[p] = c
	}
	a.Statuses = merged
	f.accounts[k(owner, id)] = a
	return nil
}

// credentials

type fakeCreds struct{ *fakeStore }

func (f *fakeStore) addCred(owner string, p model.Platform) {
	f.creds[k(owner, string(p))] = model.Credential{Owner: owner, Platform: p, Payload: []byte(`{"t":1}`), Enabled: true}
}

func (f fakeCreds) Get(_ context.Context, owner string, p model.Platform) (model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[k(owner, string(p))]
	if !ok || !c.Usable() {
		return model.Credential{}, errs.ErrNoCredential
	}
	return c, nil
}

func (f fakeCreds) ListUsable(_ context.Context, owner string) ([]model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.credErr[owner]; err != nil {
		return nil, err
	}
	var out []model.Credential
	for _, p := range model.Platforms {
		if c, ok := f.creds[k(owner, string(p))]; ok && c.Usable() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f fakeCreds) ListOwners(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, c := range f.creds {
		if c.Usable() && !seen[c.Owner] {
			seen[c.Owner] = true
			out = append(out, c.Owner)
		}
	}
	sort.Strings(out)
	return out, nil
}

// blacklist

type fakeBlacklist struct{ *fakeStore }

func (f fakeBlacklist) Get(_ context.Context, owner, id string) (*model.BlacklistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.blacklist[k(owner, id)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &e, nil
}

func (f fakeBlacklist) List(_ context.Context, owner string) (model.Blacklist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := model.Blacklist{}
	for _, e := range f.blacklist {
		if e.Owner == owner {
			out[e.AccountID] = e
		}
	}
	return out, nil
}

func (f fakeBlacklist) ListByReason(_ context.Context, owner string, r model.BlacklistReason) ([]model.BlacklistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.BlacklistEntry
	for _, e := range f.blacklist {
		if e.Owner == owner && e.Reason == r {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (f fakeBlacklist) Upsert(_ context.Context, e model.BlacklistEntry, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.blacklist[k(e.Owner, e.AccountID)] = e
	f.history = append(f.history, "upsert:"+e.AccountID+":"+string(e.Reason)+":"+actor)
	return nil
}

func (f fakeBlacklist) Delete(_ context.Context, owner, id, actor string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.blacklist[k(owner, id)]
	if !ok {
		return false, nil
	}
	delete(f.blacklist, k(owner, id))
	f.history = append(f.history, "remove:"+id+":"+string(e.Reason)+":"+actor)
	return true, nil
}

// risk events

type fakeEvents struct{ *fakeStore }

func (f fakeEvents) open(owner, id string, rt model.RiskType) *model.RiskEvent {
	for _, e := range f.events {
		if e.Owner == owner && e.AccountID == id && e.RiskType == rt && e.Status == model.RiskOpen {
			return e
		}
	}
	return nil
}

func (f fakeEvents) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Status == model.RiskOpen {
			n++
		}
	}
	return n
}

func (f fakeEvents) UpsertOpen(_ context.Context, in model.RiskEventInput) (model.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e := f.open(in.Owner, in.AccountID, in.RiskType); e != nil {
		e.Snapshot = model.MergeSnapshot(e.Snapshot, in.Snapshot)
		return model.UpsertResult{ID: e.ID}, nil
	}
	f.nextID++
	f.events[f.nextID] = &model.RiskEvent{
		ID: f.nextID, Owner: in.Owner, AccountID: in.AccountID, Game: in.Game,
		RiskType: in.RiskType, RiskLevel: in.RiskLevel, Status: model.RiskOpen, Snapshot: in.Snapshot,
	}
	return model.UpsertResult{ID: f.nextID, Inserted: true}, nil
}

func (f fakeEvents) GetOpen(_ context.Context, owner, id string, rt model.RiskType) (*model.RiskEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e := f.open(owner, id, rt); e != nil {
		c := *e
		return &c, nil
	}
	return nil, errs.ErrNotFound
}

func (f fakeEvents) Resolve(_ context.Context, id int64, st model.RiskStatus, desc string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !model.RiskOpen.CanTransition(st) {
		return false, errs.ErrIllegalTransition
	}
	e, ok := f.events[id]
	if !ok || e.Status != model.RiskOpen {
		return false, nil
	}
	e.Status, e.ResolveDesc = st, desc
	return true, nil
}

func (f fakeEvents) CloseOrphaned(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Status != model.RiskOpen {
			continue
		}
		terminal, active := false, false
		for _, t := range f.tasks {
			if t.EventID != e.ID {
				continue
			}
			if t.Status.Terminal() {
				terminal = true
			} else {
				active = true
			}
		}
		if terminal && !active {
			e.Status, e.ResolveDesc = model.RiskResolved, "closed by consistency sweep"
			n++
		}
	}
	return n, nil
}

// guard tasks

type fakeTasks struct{ *fakeStore }

func (f fakeTasks) active(owner, id string, tt model.GuardTaskType) *model.GuardTask {
	for _, t := range f.tasks {
		if t.Owner == owner && t.AccountID == id && t.TaskType == tt && t.Status.Active() {
			return t
		}
	}
	return nil
}

func (f fakeTasks) all() []model.GuardTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GuardTask
	for _, t := range f.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f fakeTasks) Create(_ context.Context, t *model.GuardTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !t.Status.Active() {
		return errs.ErrIllegalTransition
	}
	if f.active(t.Owner, t.AccountID, t.TaskType) != nil {
		return errs.ErrAlreadyExists
	}
	f.nextID++
	t.ID = f.nextID
	c := *t
	f.tasks[t.ID] = &c
	return nil
}

func (f fakeTasks) GetActive(_ context.Context, owner, id string, tt model.GuardTaskType) (*model.GuardTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.active(owner, id, tt); t != nil {
		c := *t
		return &c, nil
	}
	return nil, errs.ErrNotFound
}

func (f fakeTasks) ListDue(_ context.Context, now time.Time, limit int) ([]model.GuardTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GuardTask
	for _, t := range f.tasks {
		if t.Status.Active() && !t.NextCheckAt.After(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeTasks) Update(_ context.Context, t *model.GuardTask, from model.GuardStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !from.CanTransition(t.Status) {
		return errs.ErrIllegalTransition
	}
	cur, ok := f.tasks[t.ID]
	if !ok || cur.Status != from {
		return errs.ErrVersionConflict
	}
	c := *t
	f.tasks[t.ID] = &c
	f.updates++
	return nil
}

// orders and watermarks

type fakeOrders struct{ *fakeStore }

func (f *fakeStore) addOrder(o model.Order) {
	f.orders[k(o.Owner, string(o.Platform), o.OrderID)] = o
}

func (f fakeOrders) UpsertBatch(_ context.Context, orders []model.Order) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return 0, err
		}
	}
	for _, o := range orders {
		f.orders[k(o.Owner, string(o.Platform), o.OrderID)] = o
	}
	return len(orders), nil
}

func (f fakeOrders) ListActive(_ context.Context, owner string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Order
	for _, o := range f.orders {
		if o.Owner == owner && o.Status == model.OrderActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (f fakeOrders) Get(_ context.Context, owner string, p model.Platform, id string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[k(owner, string(p), id)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &o, nil
}

func (f fakeOrders) LatestEnded(_ context.Context, owner, id string, now time.Time) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.Order
	for _, o := range f.orders {
		if o.Owner != owner || o.AccountID != id || o.EndTime.After(now) {
			continue
		}
		if best == nil || o.EndTime.After(best.EndTime) {
			c := o
			best = &c
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

type fakeWatermarks struct{ *fakeStore }

func (f fakeWatermarks) List(_ context.Context, owner string) (map[model.Platform]model.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.Platform]model.Watermark{}
	for _, w := range f.watermarks {
		if w.Owner == owner {
			out[w.Platform] = w
		}
	}
	return out, nil
}

func (f fakeWatermarks) Advance(_ context.Context, owner string, p model.Platform, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := k(owner, string(p))
	if w, ok := f.watermarks[key]; ok && w.SyncedAt.After(at) {
		return nil
	}
	f.watermarks[key] = model.Watermark{Owner: owner, Platform: p, SyncedAt: at}
	return nil
}

// platform client

type fakeClient struct {
	mu        sync.Mutex
	online    map[string]bool
	forbid    map[string]bool
	onlineErr error
	setErr    error
	stuckOn   bool // SetForcedPlayBlock(false) reports still enabled
	listings  []model.Listing
	listErr   error
	orders    []model.Order
	ordersErr error
	since     []time.Time
	set       map[string]bool
	queries   int
}

func newClient() *fakeClient {
	return &fakeClient{online: map[string]bool{}, forbid: map[string]bool{}, set: map[string]bool{}}
}

var _ platform.Client = (*fakeClient)(nil)

func (c *fakeClient) ListListings(context.Context, model.Credential) ([]model.Listing, error) {
	return c.listings, c.listErr
}

func (c *fakeClient) SetListing(_ context.Context, _ model.Credential, item string, on bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set[item] = on
	return true, nil
}

func (c *fakeClient) QueryOnline(_ context.Context, _ model.Credential, id, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	if c.onlineErr != nil {
		return false, c.onlineErr
	}
	return c.online[id], nil
}

func (c *fakeClient) QueryForcedPlayBlock(_ context.Context, _ model.Credential, id, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forbid[id], nil
}

func (c *fakeClient) SetForcedPlayBlock(_ context.Context, _ model.Credential, id, _ string, enabled bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return false, c.setErr
	}
	if !enabled && c.stuckOn {
		return true, nil
	}
	c.forbid[id] = enabled
	return enabled, nil
}

func (c *fakeClient) ListOrders(_ context.Context, _ model.Credential, since time.Time) ([]model.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.since = append(c.since, since)
	return c.orders, c.ordersErr
}

// lease lock

type fakeLocker struct {
	mu       sync.Mutex
	holder   string
	until    int64
	now      func() time.Time
	released int
	err      error
}

func (l *fakeLocker) Acquire(_ context.Context, key, owner string, lease time.Duration) (model.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return model.Lease{}, l.err
	}
	now := l.now().Unix()
	if l.holder != "" && l.until > now {
		return model.Lease{Key: key, Owner: l.holder, LeaseUntil: l.until}, nil
	}
	l.holder, l.until = owner, now+int64(lease/time.Second)
	return model.Lease{Key: key, Owner: owner, Acquired: true, LeaseUntil: l.until}, nil
}

func (l *fakeLocker) Release(_ context.Context, _, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == owner {
		l.holder, l.until = "", 0
		l.released++
	}
	return nil
}

var errBoom = errors.New("boom")
