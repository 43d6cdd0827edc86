package store

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"catalog-desk/internal/client"
	"catalog-desk/internal/domain"

	"go.uber.org/zap"
)

// ErrPartialMove reports a move-between-groups that left the backend in an
// inconsistent state (removed from the source but not added to the target,
// or vice versa). The move endpoint is not atomic, so the store verifies
// both sides after the call and refuses to pretend a half-applied move
// succeeded.
var ErrPartialMove = errors.New("variant move left groups inconsistent")

// Backend is the HTTP adapter the store drives. *client.Client implements
// it; tests substitute fakes.
type Backend interface {
	ListGroups(ctx context.Context, query string, limit, offset int) (domain.Page, error)
	GetGroup(ctx context.Context, id string) (domain.ProductGroup, error)
	CreateGroup(ctx context.Context, payload domain.CreateGroupPayload) (domain.ProductGroup, error)
	UpdateGroup(ctx context.Context, id, title string) (domain.ProductGroup, error)
	UpdateVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error)
	DeleteVariant(ctx context.Context, groupID, variantID string) error
	DeleteGroup(ctx context.Context, id string) error
	MoveVariant(ctx context.Context, groupID, variantID, targetGroupID string) error
	Upload(ctx context.Context, filename string, r io.Reader, size int64, onProgress func(int)) (domain.UploadResult, error)
	Reaggregate(ctx context.Context, strictness float64) error
	ReaggregateSlice(ctx context.Context, productIDs []string, strictness float64) error
	RateGroup(ctx context.Context, id string, score float64) error
	DownloadAggregated(ctx context.Context, sliceIDs []string) ([]byte, error)
}

// State is the observable catalog state. Subscribers receive deep-copied
// snapshots; nothing in a snapshot aliases store-owned memory.
type State struct {
	Items          []domain.ProductGroup
	Total          int
	Query          string
	Loading        bool
	Initialized    bool
	CurrentDetail  *domain.ProductGroup
	Uploading      bool
	UploadProgress int
	UploadWarnings []string
	LastError      string
}

func (st State) clone() State {
	out := st
	out.Items = make([]domain.ProductGroup, len(st.Items))
	for i, g := range st.Items {
		out.Items[i] = g.Clone()
	}
	if st.CurrentDetail != nil {
		detail := st.CurrentDetail.Clone()
		out.CurrentDetail = &detail
	}
	if st.UploadWarnings != nil {
		out.UploadWarnings = append([]string(nil), st.UploadWarnings...)
	}
	return out
}

// Options tune a Store. Zero values fall back to defaults.
type Options struct {
	PageSize       int
	RequestTimeout time.Duration
	Debounce       time.Duration
}

const (
	defaultPageSize = 20
	defaultTimeout  = 30 * time.Second
	defaultDebounce = 350 * time.Millisecond
)

// Store is the single source of truth for the product-group collection, the
// active detail view and background operation status. It is the sole writer
// of catalog state; all reads go through Snapshot or Subscribe.
//
// Overlapping fetches are resolved by generation tokens: the last request
// whose query still matches the store's current query wins, stale responses
// are dropped without touching the collection.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *zap.Logger

	pageSize int
	timeout  time.Duration

	state   State
	subs    map[int]func(State)
	nextSub int

	fetchGen     uint64
	fetchingMore bool

	uploadGen    uint64
	uploadCancel context.CancelFunc

	searchDebounce *Debouncer
}

// New creates an isolated store instance. Construct one per app (or per
// test) and tear it down with Close.
func New(backend Backend, logger *zap.Logger, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	return &Store{
		backend:        backend,
		logger:         logger,
		pageSize:       opts.PageSize,
		timeout:        opts.RequestTimeout,
		subs:           make(map[int]func(State)),
		searchDebounce: NewDebouncer(opts.Debounce),
	}
}

// Close cancels pending debounced work and any in-flight upload.
func (s *Store) Close() {
	s.searchDebounce.Stop()
	s.CancelUpload()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn, invokes it immediately with the current state and
// returns an unsubscribe func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snap := s.state.clone()
	s.mu.Unlock()

	fn(snap)
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// publishLocked snapshots state, releases s.mu and notifies subscribers.
// Every mutation site ends with this so each operation's state transition
// appears atomic to subscribers.
func (s *Store) publishLocked() {
	snap := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) mutate(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.publishLocked()
}

// refreshDetailLocked swaps the cached detail for the server's copy when the
// detail points at the given group. Caller holds s.mu.
func (s *Store) refreshDetailLocked(group domain.ProductGroup) {
	if s.state.CurrentDetail != nil && s.state.CurrentDetail.ID == group.ID {
		detail := group.Clone()
		s.state.CurrentDetail = &detail
	}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func errText(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// FetchPage requests one page of groups matching the current query. With
// reset the cursor returns to the first page and the result replaces the
// collection; otherwise the result is appended with id-level dedupe. A
// failure keeps previously loaded items.
func (s *Store) FetchPage(ctx context.Context, reset bool) error {
	s.mu.Lock()
	s.fetchGen++
	gen := s.fetchGen
	query := s.state.Query
	offset := len(s.state.Items)
	if reset {
		offset = 0
	}
	s.state.Loading = true
	s.state.LastError = ""
	s.publishLocked()

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	page, err := s.backend.ListGroups(ctx, query, s.pageSize, offset)

	s.mu.Lock()
	if gen != s.fetchGen || query != s.state.Query {
		// Superseded: a newer request owns loading and the collection now.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state.Loading = false
		s.state.Initialized = true
		s.state.LastError = errText(err)
		s.publishLocked()
		s.logger.Warn("fetch page failed", zap.String("query", query), zap.Error(err))
		return err
	}
	if reset {
		s.state.Items = s.state.Items[:0]
	}
	s.state.Items = mergeGroups(s.state.Items, page.Items)
	s.state.Total = page.Total
	s.state.Loading = false
	s.state.Initialized = true
	s.publishLocked()
	return nil
}

// FetchMore appends the next page. It is a no-op while another fetch-more is
// in flight or once every remote item is already held, so rapid
// scroll-triggered calls cannot issue duplicate page requests.
func (s *Store) FetchMore(ctx context.Context) error {
	s.mu.Lock()
	if s.fetchingMore || s.state.Loading || !s.state.Initialized || len(s.state.Items) >= s.state.Total {
		s.mu.Unlock()
		return nil
	}
	s.fetchingMore = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.fetchingMore = false
		s.mu.Unlock()
	}()
	return s.FetchPage(ctx, false)
}

// FetchGroupDetail loads one group's full detail. A cached detail for the
// same id is served without a round trip unless force is set; mutations
// refresh with force=true.
func (s *Store) FetchGroupDetail(ctx context.Context, id string, force bool) (domain.ProductGroup, error) {
	s.mu.Lock()
	if !force && s.state.CurrentDetail != nil && s.state.CurrentDetail.ID == id {
		cached := s.state.CurrentDetail.Clone()
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	group, err := s.backend.GetGroup(ctx, id)
	if err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return domain.ProductGroup{}, err
	}

	s.mutate(func(st *State) {
		detail := group.Clone()
		st.CurrentDetail = &detail
		replaceGroup(st, group)
	})
	return group, nil
}

// SetQuery updates the filter string without fetching. Callers either call
// FetchPage(true) themselves or use Search for the debounced path.
func (s *Store) SetQuery(query string) {
	s.mutate(func(st *State) { st.Query = query })
}

// Search updates the query and schedules a debounced reset-fetch. Rapid
// successive calls collapse into one fetch for the final query value.
func (s *Store) Search(ctx context.Context, query string) {
	s.SetQuery(query)
	s.searchDebounce.Do(func() {
		if err := s.FetchPage(ctx, true); err != nil {
			s.logger.Debug("debounced search fetch failed", zap.Error(err))
		}
	})
}

// CreateGroup creates a new variant (inside an existing group or a fresh
// singleton group) and merges the server's entity in at the front of the
// collection. No page reload is needed for it to become visible.
func (s *Store) CreateGroup(ctx context.Context, payload domain.CreateGroupPayload) (domain.ProductGroup, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	group, err := s.backend.CreateGroup(ctx, payload)
	if err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return domain.ProductGroup{}, err
	}

	s.mutate(func(st *State) {
		if containsGroup(st.Items, group.ID) {
			replaceGroup(st, group)
			return
		}
		st.Items = append([]domain.ProductGroup{group.Clone()}, st.Items...)
		// A variant added to an existing group pulls that group onto the
		// page, but the remote group count only grows for fresh groups.
		if payload.GroupID == "" {
			st.Total++
		}
	})
	return group, nil
}

// RenameGroup changes a group's title. The server's copy replaces the list
// entry and the cached detail, same as any other edit.
func (s *Store) RenameGroup(ctx context.Context, id, title string) (domain.ProductGroup, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	group, err := s.backend.UpdateGroup(ctx, id, title)
	if err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return domain.ProductGroup{}, err
	}

	s.mutate(func(st *State) {
		replaceGroup(st, group)
		if st.CurrentDetail != nil && st.CurrentDetail.ID == group.ID {
			detail := group.Clone()
			st.CurrentDetail = &detail
		}
	})
	return group, nil
}

// UpdateVariant sends the edited variant to the backend and reconciles with
// the server's response. Server wins: the authoritative entity replaces both
// the cached detail and the list entry, never the client's optimistic copy.
func (s *Store) UpdateVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	group, err := s.backend.UpdateVariant(ctx, groupID, variant)
	if err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return domain.ProductGroup{}, err
	}

	s.mutate(func(st *State) {
		replaceGroup(st, group)
		if st.CurrentDetail != nil && st.CurrentDetail.ID == group.ID {
			detail := group.Clone()
			st.CurrentDetail = &detail
		}
	})
	return group, nil
}

// DeleteVariant removes one variant. When the variant was the group's last,
// the backend deletes the group; the store detects that by re-fetching and
// reconciles either way. Navigation away from a deleted detail is the
// consumer's job.
func (s *Store) DeleteVariant(ctx context.Context, groupID, variantID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.backend.DeleteVariant(ctx, groupID, variantID); err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}

	refreshed, err := s.backend.GetGroup(ctx, groupID)
	if client.IsNotFound(err) {
		s.mutate(func(st *State) { removeGroup(st, groupID) })
		return nil
	}
	if err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}
	s.mutate(func(st *State) {
		replaceGroup(st, refreshed)
		if st.CurrentDetail != nil && st.CurrentDetail.ID == groupID {
			detail := refreshed.Clone()
			st.CurrentDetail = &detail
		}
	})
	return nil
}

// DeleteGroup removes an entire group and decrements the total.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.backend.DeleteGroup(ctx, groupID); err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}
	s.mutate(func(st *State) { removeGroup(st, groupID) })
	return nil
}

// MoveVariant reassigns a variant to another group, then verifies ownership
// on both sides. The backend applies the move as remove-then-add, so on
// partial failure the variant may be missing from both groups; that is
// detected and reported as ErrPartialMove rather than silently swallowed.
func (s *Store) MoveVariant(ctx context.Context, fromGroupID, variantID, toGroupID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	moveErr := s.backend.MoveVariant(ctx, fromGroupID, variantID, toGroupID)

	target, targetErr := s.backend.GetGroup(ctx, toGroupID)
	source, sourceErr := s.backend.GetGroup(ctx, fromGroupID)

	s.mu.Lock()
	if targetErr == nil {
		replaceGroup(&s.state, target)
		s.refreshDetailLocked(target)
	}
	switch {
	case client.IsNotFound(sourceErr):
		// Source emptied out and was deleted by the move.
		removeGroup(&s.state, fromGroupID)
	case sourceErr == nil:
		replaceGroup(&s.state, source)
		s.refreshDetailLocked(source)
	}
	s.publishLocked()

	if moveErr != nil {
		s.mutate(func(st *State) { st.LastError = errText(moveErr) })
		return moveErr
	}

	_, inTarget := target.Variant(variantID)
	_, inSource := source.Variant(variantID)
	switch {
	case targetErr != nil, !inTarget, sourceErr == nil && inSource:
		s.logger.Error("variant move verification failed",
			zap.String("variant", variantID),
			zap.String("from", fromGroupID),
			zap.String("to", toGroupID),
		)
		s.mutate(func(st *State) { st.LastError = ErrPartialMove.Error() })
		return ErrPartialMove
	}
	return nil
}

// Reaggregate re-runs grouping over the whole catalog and reloads the first
// page.
func (s *Store) Reaggregate(ctx context.Context, strictness float64) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.backend.Reaggregate(opCtx, strictness); err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}
	return s.FetchPage(ctx, true)
}

// ReaggregateSlice re-runs grouping over the named variants only.
func (s *Store) ReaggregateSlice(ctx context.Context, productIDs []string, strictness float64) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.backend.ReaggregateSlice(opCtx, productIDs, strictness); err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}
	return s.FetchPage(ctx, true)
}

// RateGroup records a user score and refreshes the rated group from the
// server.
func (s *Store) RateGroup(ctx context.Context, groupID string, score float64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.backend.RateGroup(ctx, groupID, score); err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}
	refreshed, err := s.backend.GetGroup(ctx, groupID)
	if err != nil {
		// The rating wrote fine; the state just could not pick it up.
		s.logger.Warn("rated group refresh failed", zap.String("group", groupID), zap.Error(err))
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return err
	}
	s.mutate(func(st *State) {
		replaceGroup(st, refreshed)
		if st.CurrentDetail != nil && st.CurrentDetail.ID == groupID {
			detail := refreshed.Clone()
			st.CurrentDetail = &detail
		}
	})
	return nil
}

// DownloadAggregated fetches the xlsx export for the named slices (or the
// whole catalog when sliceIDs is empty). Pure pass-through: the caller hands
// the bytes to the user, no state changes beyond error surfacing.
func (s *Store) DownloadAggregated(ctx context.Context, sliceIDs []string) ([]byte, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	data, err := s.backend.DownloadAggregated(ctx, sliceIDs)
	if err != nil {
		s.mutate(func(st *State) { st.LastError = errText(err) })
		return nil, err
	}
	return data, nil
}

// DismissWarnings clears upload warnings after the user has seen them.
func (s *Store) DismissWarnings() {
	s.mutate(func(st *State) { st.UploadWarnings = nil })
}

// ClearError resets the surfaced error state.
func (s *Store) ClearError() {
	s.mutate(func(st *State) { st.LastError = "" })
}

// mergeGroups appends incoming groups, skipping ids already held and
// non-displayable (empty) groups.
func mergeGroups(held, incoming []domain.ProductGroup) []domain.ProductGroup {
	seen := make(map[string]struct{}, len(held))
	for _, g := range held {
		seen[g.ID] = struct{}{}
	}
	for _, g := range incoming {
		if !g.Displayable() {
			continue
		}
		if _, dup := seen[g.ID]; dup {
			continue
		}
		seen[g.ID] = struct{}{}
		held = append(held, g.Clone())
	}
	return held
}

func containsGroup(items []domain.ProductGroup, id string) bool {
	for _, g := range items {
		if g.ID == id {
			return true
		}
	}
	return false
}

func replaceGroup(st *State, group domain.ProductGroup) {
	for i := range st.Items {
		if st.Items[i].ID == group.ID {
			st.Items[i] = group.Clone()
			return
		}
	}
}

func removeGroup(st *State, id string) {
	for i := range st.Items {
		if st.Items[i].ID == id {
			st.Items = append(st.Items[:i], st.Items[i+1:]...)
			break
		}
	}
	if st.Total > 0 {
		st.Total--
	}
	if st.CurrentDetail != nil && st.CurrentDetail.ID == id {
		st.CurrentDetail = nil
	}
}
