package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"catalog-desk/internal/client"
	"catalog-desk/internal/domain"

	"go.uber.org/zap"
)

// Fake backend for testing. Holds a slice of groups and pages over it;
// individual calls can be overridden with hooks.
type fakeBackend struct {
	mu     sync.Mutex
	groups []domain.ProductGroup

	listCalls   int
	lastQuery   string
	listHook    func(ctx context.Context, query string, limit, offset int) (domain.Page, error)
	uploadHook  func(ctx context.Context, onProgress func(int)) (domain.UploadResult, error)
	moveHook    func(fromGroupID, variantID, toGroupID string) error
	getHook     func(id string) error
	deleteCalls int
}

func newFakeBackend(groups ...domain.ProductGroup) *fakeBackend {
	return &fakeBackend{groups: groups}
}

func (b *fakeBackend) find(id string) (int, bool) {
	for i, g := range b.groups {
		if g.ID == id {
			return i, true
		}
	}
	return -1, false
}

func notFound() error {
	return &client.APIError{StatusCode: http.StatusNotFound, Message: "group not found"}
}

func (b *fakeBackend) ListGroups(ctx context.Context, query string, limit, offset int) (domain.Page, error) {
	b.mu.Lock()
	hook := b.listHook
	b.listCalls++
	b.lastQuery = query
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, query, limit, offset)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.groups)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]domain.ProductGroup, 0, end-offset)
	for _, g := range b.groups[offset:end] {
		items = append(items, g.Clone())
	}
	return domain.Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (b *fakeBackend) GetGroup(ctx context.Context, id string) (domain.ProductGroup, error) {
	b.mu.Lock()
	hook := b.getHook
	b.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return domain.ProductGroup{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(id)
	if !ok {
		return domain.ProductGroup{}, notFound()
	}
	return b.groups[i].Clone(), nil
}

func (b *fakeBackend) CreateGroup(ctx context.Context, payload domain.CreateGroupPayload) (domain.ProductGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if payload.GroupID != "" {
		i, ok := b.find(payload.GroupID)
		if !ok {
			return domain.ProductGroup{}, notFound()
		}
		b.groups[i].Variants = append(b.groups[i].Variants, domain.ProductVariant{
			ID:     fmt.Sprintf("%s-added", payload.GroupID),
			Name:   payload.Name,
			Status: domain.StatusNew,
		})
		return b.groups[i].Clone(), nil
	}
	group := domain.ProductGroup{
		ID:    fmt.Sprintf("created-%d", len(b.groups)+1),
		Title: payload.Title,
		Variants: []domain.ProductVariant{{
			ID:     fmt.Sprintf("variant-%d", len(b.groups)+1),
			Name:   payload.Name,
			SKU:    payload.SKU,
			Status: domain.StatusNew,
		}},
	}
	b.groups = append([]domain.ProductGroup{group}, b.groups...)
	return group.Clone(), nil
}

func (b *fakeBackend) UpdateGroup(ctx context.Context, id, title string) (domain.ProductGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(id)
	if !ok {
		return domain.ProductGroup{}, notFound()
	}
	b.groups[i].Title = title
	return b.groups[i].Clone(), nil
}

func (b *fakeBackend) UpdateVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(groupID)
	if !ok {
		return domain.ProductGroup{}, notFound()
	}
	for j := range b.groups[i].Variants {
		if b.groups[i].Variants[j].ID == variant.ID {
			b.groups[i].Variants[j] = variant
			return b.groups[i].Clone(), nil
		}
	}
	return domain.ProductGroup{}, notFound()
}

func (b *fakeBackend) DeleteVariant(ctx context.Context, groupID, variantID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteCalls++
	i, ok := b.find(groupID)
	if !ok {
		return notFound()
	}
	variants := b.groups[i].Variants
	for j := range variants {
		if variants[j].ID == variantID {
			b.groups[i].Variants = append(variants[:j], variants[j+1:]...)
			if len(b.groups[i].Variants) == 0 {
				b.groups = append(b.groups[:i], b.groups[i+1:]...)
			}
			return nil
		}
	}
	return notFound()
}

func (b *fakeBackend) DeleteGroup(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(id)
	if !ok {
		return notFound()
	}
	b.groups = append(b.groups[:i], b.groups[i+1:]...)
	return nil
}

func (b *fakeBackend) MoveVariant(ctx context.Context, groupID, variantID, targetGroupID string) error {
	b.mu.Lock()
	hook := b.moveHook
	b.mu.Unlock()
	if hook != nil {
		return hook(groupID, variantID, targetGroupID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.find(groupID)
	if !ok {
		return notFound()
	}
	dst, ok := b.find(targetGroupID)
	if !ok {
		return notFound()
	}
	variants := b.groups[src].Variants
	for j := range variants {
		if variants[j].ID == variantID {
			moved := variants[j]
			b.groups[src].Variants = append(variants[:j], variants[j+1:]...)
			b.groups[dst].Variants = append(b.groups[dst].Variants, moved)
			if len(b.groups[src].Variants) == 0 {
				b.groups = append(b.groups[:src], b.groups[src+1:]...)
			}
			return nil
		}
	}
	return notFound()
}

func (b *fakeBackend) Upload(ctx context.Context, filename string, r io.Reader, size int64, onProgress func(int)) (domain.UploadResult, error) {
	b.mu.Lock()
	hook := b.uploadHook
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, onProgress)
	}
	onProgress(50)
	onProgress(100)
	return domain.UploadResult{Status: "ok", Loaded: 1}, nil
}

func (b *fakeBackend) Reaggregate(ctx context.Context, strictness float64) error {
	return nil
}

func (b *fakeBackend) ReaggregateSlice(ctx context.Context, productIDs []string, strictness float64) error {
	return nil
}

func (b *fakeBackend) RateGroup(ctx context.Context, id string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(id)
	if !ok {
		return notFound()
	}
	b.groups[i].UserScore = &score
	return nil
}

func (b *fakeBackend) DownloadAggregated(ctx context.Context, sliceIDs []string) ([]byte, error) {
	return []byte("workbook"), nil
}

func makeGroup(id string, variantCount int) domain.ProductGroup {
	g := domain.ProductGroup{
		ID:        id,
		Title:     "Group " + id,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for i := 0; i < variantCount; i++ {
		g.Variants = append(g.Variants, domain.ProductVariant{
			ID:     fmt.Sprintf("%s-v%d", id, i),
			Name:   fmt.Sprintf("Variant %s %d", id, i),
			SKU:    fmt.Sprintf("SKU-%s-%d", id, i),
			Status: domain.StatusNew,
		})
	}
	return g
}

func makeGroups(n int) []domain.ProductGroup {
	groups := make([]domain.ProductGroup, 0, n)
	for i := 0; i < n; i++ {
		groups = append(groups, makeGroup(fmt.Sprintf("g%03d", i), 2))
	}
	return groups
}

func newTestStore(backend Backend, opts Options) *Store {
	return New(backend, zap.NewNop(), opts)
}

func assertNoDuplicateIDs(t *testing.T, st State) {
	t.Helper()
	seen := make(map[string]bool)
	for _, g := range st.Items {
		if seen[g.ID] {
			t.Fatalf("duplicate group id %q in items", g.ID)
		}
		seen[g.ID] = true
	}
	if len(st.Items) > st.Total {
		t.Fatalf("items length %d exceeds total %d", len(st.Items), st.Total)
	}
}

func TestFetchPageLoadsFirstPage(t *testing.T) {
	backend := newFakeBackend(makeGroups(45)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	if err := s.FetchPage(context.Background(), true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	st := s.Snapshot()
	if len(st.Items) != 20 {
		t.Fatalf("expected 20 items, got %d", len(st.Items))
	}
	if st.Total != 45 {
		t.Fatalf("expected total 45, got %d", st.Total)
	}
	if !st.Initialized {
		t.Fatal("expected store to be initialized")
	}
	if st.Loading {
		t.Fatal("expected loading to be cleared")
	}
	assertNoDuplicateIDs(t, st)
}

func TestFetchMoreAppendsWithoutDuplicates(t *testing.T) {
	backend := newFakeBackend(makeGroups(45)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if err := s.FetchMore(ctx); err != nil {
		t.Fatalf("FetchMore: %v", err)
	}
	if err := s.FetchMore(ctx); err != nil {
		t.Fatalf("FetchMore: %v", err)
	}

	st := s.Snapshot()
	if len(st.Items) != 45 {
		t.Fatalf("expected all 45 items loaded, got %d", len(st.Items))
	}
	assertNoDuplicateIDs(t, st)
}

func TestFetchMoreIsNoOpWhenAllLoaded(t *testing.T) {
	backend := newFakeBackend(makeGroups(5)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	backend.mu.Lock()
	calls := backend.listCalls
	backend.mu.Unlock()

	if err := s.FetchMore(ctx); err != nil {
		t.Fatalf("FetchMore: %v", err)
	}

	backend.mu.Lock()
	after := backend.listCalls
	backend.mu.Unlock()

	if after != calls {
		t.Fatalf("expected no backend call, got %d extra", after-calls)
	}
}

func TestFetchMoreIsNoOpBeforeFirstFetch(t *testing.T) {
	backend := newFakeBackend(makeGroups(5)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	if err := s.FetchMore(context.Background()); err != nil {
		t.Fatalf("FetchMore: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.listCalls != 0 {
		t.Fatalf("expected no backend call before initial fetch, got %d", backend.listCalls)
	}
}

func TestStaleResponseForOldQueryIsDropped(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	backend.listHook = func(ctx context.Context, query string, limit, offset int) (domain.Page, error) {
		if query == "alpha" {
			<-release
			return domain.Page{
				Items: []domain.ProductGroup{makeGroup("alpha-group", 1)},
				Total: 1,
			}, nil
		}
		return domain.Page{
			Items: []domain.ProductGroup{makeGroup("beta-group", 1)},
			Total: 1,
		}, nil
	}

	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	slowDone := make(chan error, 1)

	s.SetQuery("alpha")
	go func() {
		slowDone <- s.FetchPage(ctx, true)
	}()

	// Let the slow request get in flight, then supersede it.
	time.Sleep(20 * time.Millisecond)
	s.SetQuery("beta")
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage(beta): %v", err)
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("FetchPage(alpha): %v", err)
	}

	st := s.Snapshot()
	if st.Query != "beta" {
		t.Fatalf("expected query beta, got %q", st.Query)
	}
	if len(st.Items) != 1 || st.Items[0].ID != "beta-group" {
		t.Fatalf("expected only beta results, got %+v", st.Items)
	}
	if st.Loading {
		t.Fatal("stale response must not resurrect loading state")
	}
}

func TestFetchPageFailureKeepsLoadedItems(t *testing.T) {
	backend := newFakeBackend(makeGroups(5)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	backend.mu.Lock()
	backend.listHook = func(ctx context.Context, query string, limit, offset int) (domain.Page, error) {
		return domain.Page{}, &client.APIError{StatusCode: http.StatusInternalServerError, Message: "backend down"}
	}
	backend.mu.Unlock()

	if err := s.FetchPage(ctx, true); err == nil {
		t.Fatal("expected fetch error")
	}

	st := s.Snapshot()
	if len(st.Items) != 5 {
		t.Fatalf("failure must keep previously loaded items, got %d", len(st.Items))
	}
	if st.LastError != "backend down" {
		t.Fatalf("expected surfaced backend message, got %q", st.LastError)
	}
	if st.Loading {
		t.Fatal("expected loading cleared after failure")
	}
}

func TestCreateGroupPrependsAndBumpsTotal(t *testing.T) {
	backend := newFakeBackend(makeGroups(3)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	created, err := s.CreateGroup(ctx, domain.CreateGroupPayload{Title: "New thing", Name: "New thing", SKU: "SKU-NEW"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	st := s.Snapshot()
	if st.Total != 4 {
		t.Fatalf("expected total 4, got %d", st.Total)
	}
	if len(st.Items) == 0 || st.Items[0].ID != created.ID {
		t.Fatal("created group should appear at the front of the collection")
	}
	assertNoDuplicateIDs(t, st)
}

func TestCreateIntoExistingGroupKeepsTotal(t *testing.T) {
	// 25 groups, page size 20: g024 exists remotely but is not on the page.
	backend := newFakeBackend(makeGroups(25)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	before := s.Snapshot()
	if before.Total != 25 || containsGroup(before.Items, "g024") {
		t.Fatalf("unexpected starting state: total %d", before.Total)
	}

	created, err := s.CreateGroup(ctx, domain.CreateGroupPayload{Title: "Extra", Name: "Extra", GroupID: "g024"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if created.ID != "g024" {
		t.Fatalf("expected the existing group back, got %q", created.ID)
	}

	st := s.Snapshot()
	if st.Total != 25 {
		t.Fatalf("no new group was minted, total must stay 25, got %d", st.Total)
	}
	if len(st.Items) == 0 || st.Items[0].ID != "g024" {
		t.Fatal("the receiving group should be pulled onto the page")
	}
	assertNoDuplicateIDs(t, st)
}

func TestUpdateVariantServerWins(t *testing.T) {
	group := makeGroup("g1", 2)
	backend := newFakeBackend(group)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if _, err := s.FetchGroupDetail(ctx, "g1", false); err != nil {
		t.Fatalf("FetchGroupDetail: %v", err)
	}

	edited := group.Variants[0]
	edited.Name = "Renamed variant"
	updated, err := s.UpdateVariant(ctx, "g1", edited)
	if err != nil {
		t.Fatalf("UpdateVariant: %v", err)
	}

	if v, ok := updated.Variant(edited.ID); !ok || v.Name != "Renamed variant" {
		t.Fatalf("expected server echo of edit, got %+v", updated)
	}

	st := s.Snapshot()
	if st.CurrentDetail == nil || st.CurrentDetail.ID != "g1" {
		t.Fatal("detail should still point at the updated group")
	}
	if v, ok := st.CurrentDetail.Variant(edited.ID); !ok || v.Name != "Renamed variant" {
		t.Fatal("detail should carry the server's version of the variant")
	}
	if v, ok := st.Items[0].Variant(edited.ID); !ok || v.Name != "Renamed variant" {
		t.Fatal("list entry should carry the server's version of the variant")
	}
}

func TestRenameGroupUpdatesListAndDetail(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 1))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if _, err := s.FetchGroupDetail(ctx, "g1", false); err != nil {
		t.Fatalf("FetchGroupDetail: %v", err)
	}

	renamed, err := s.RenameGroup(ctx, "g1", "Premium kettles")
	if err != nil {
		t.Fatalf("RenameGroup: %v", err)
	}
	if renamed.Title != "Premium kettles" {
		t.Fatalf("expected server echo of rename, got %q", renamed.Title)
	}

	st := s.Snapshot()
	if st.Items[0].Title != "Premium kettles" {
		t.Fatalf("list entry should carry the new title, got %q", st.Items[0].Title)
	}
	if st.CurrentDetail == nil || st.CurrentDetail.Title != "Premium kettles" {
		t.Fatal("detail should carry the new title")
	}
}

func TestDeleteLastVariantRemovesGroup(t *testing.T) {
	backend := newFakeBackend(makeGroup("solo", 1), makeGroup("other", 2))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if _, err := s.FetchGroupDetail(ctx, "solo", false); err != nil {
		t.Fatalf("FetchGroupDetail: %v", err)
	}

	if err := s.DeleteVariant(ctx, "solo", "solo-v0"); err != nil {
		t.Fatalf("DeleteVariant: %v", err)
	}

	st := s.Snapshot()
	if containsGroup(st.Items, "solo") {
		t.Fatal("emptied group must disappear from the collection")
	}
	if st.Total != 1 {
		t.Fatalf("expected total 1, got %d", st.Total)
	}
	if st.CurrentDetail != nil {
		t.Fatal("detail for the deleted group must be cleared")
	}
}

func TestDeleteVariantKeepsGroupWithRemaining(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 3))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if err := s.DeleteVariant(ctx, "g1", "g1-v1"); err != nil {
		t.Fatalf("DeleteVariant: %v", err)
	}

	st := s.Snapshot()
	if !containsGroup(st.Items, "g1") {
		t.Fatal("group with remaining variants must stay")
	}
	if len(st.Items[0].Variants) != 2 {
		t.Fatalf("expected 2 remaining variants, got %d", len(st.Items[0].Variants))
	}
	if st.Total != 1 {
		t.Fatalf("expected total unchanged at 1, got %d", st.Total)
	}
}

func TestDeleteGroupRemovesAndDecrementsTotal(t *testing.T) {
	backend := newFakeBackend(makeGroups(3)...)
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if err := s.DeleteGroup(ctx, "g001"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	st := s.Snapshot()
	if containsGroup(st.Items, "g001") {
		t.Fatal("deleted group must disappear")
	}
	if st.Total != 2 {
		t.Fatalf("expected total 2, got %d", st.Total)
	}
}

func TestMoveVariantUpdatesBothGroups(t *testing.T) {
	backend := newFakeBackend(makeGroup("src", 2), makeGroup("dst", 1))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if err := s.MoveVariant(ctx, "src", "src-v0", "dst"); err != nil {
		t.Fatalf("MoveVariant: %v", err)
	}

	st := s.Snapshot()
	var src, dst *domain.ProductGroup
	for i := range st.Items {
		switch st.Items[i].ID {
		case "src":
			src = &st.Items[i]
		case "dst":
			dst = &st.Items[i]
		}
	}
	if src == nil || dst == nil {
		t.Fatal("both groups should remain visible")
	}
	if _, ok := dst.Variant("src-v0"); !ok {
		t.Fatal("moved variant must appear in the target group")
	}
	if _, ok := src.Variant("src-v0"); ok {
		t.Fatal("moved variant must leave the source group")
	}
}

func TestMoveVariantRefreshesOpenDetail(t *testing.T) {
	backend := newFakeBackend(makeGroup("src", 2), makeGroup("dst", 1))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if _, err := s.FetchGroupDetail(ctx, "src", false); err != nil {
		t.Fatalf("FetchGroupDetail: %v", err)
	}

	if err := s.MoveVariant(ctx, "src", "src-v0", "dst"); err != nil {
		t.Fatalf("MoveVariant: %v", err)
	}

	st := s.Snapshot()
	if st.CurrentDetail == nil || st.CurrentDetail.ID != "src" {
		t.Fatal("detail should still point at the source group")
	}
	if _, ok := st.CurrentDetail.Variant("src-v0"); ok {
		t.Fatal("moved variant must leave the open source detail")
	}

	// Same from the target's point of view.
	if _, err := s.FetchGroupDetail(ctx, "dst", true); err != nil {
		t.Fatalf("FetchGroupDetail: %v", err)
	}
	if err := s.MoveVariant(ctx, "src", "src-v1", "dst"); err != nil {
		t.Fatalf("MoveVariant: %v", err)
	}
	st = s.Snapshot()
	if st.CurrentDetail == nil || st.CurrentDetail.ID != "dst" {
		t.Fatal("detail should still point at the target group")
	}
	if _, ok := st.CurrentDetail.Variant("src-v1"); !ok {
		t.Fatal("open target detail must pick up the moved variant")
	}
}

func TestMoveLastVariantRemovesSourceGroup(t *testing.T) {
	backend := newFakeBackend(makeGroup("src", 1), makeGroup("dst", 1))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if err := s.MoveVariant(ctx, "src", "src-v0", "dst"); err != nil {
		t.Fatalf("MoveVariant: %v", err)
	}

	st := s.Snapshot()
	if containsGroup(st.Items, "src") {
		t.Fatal("emptied source group must disappear")
	}
	if st.Total != 1 {
		t.Fatalf("expected total 1, got %d", st.Total)
	}
}

func TestMoveVariantDetectsPartialMove(t *testing.T) {
	backend := newFakeBackend(makeGroup("src", 2), makeGroup("dst", 1))
	// Backend claims success but drops the variant instead of reattaching it.
	backend.moveHook = func(fromGroupID, variantID, toGroupID string) error {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		i, _ := backend.find(fromGroupID)
		variants := backend.groups[i].Variants
		for j := range variants {
			if variants[j].ID == variantID {
				backend.groups[i].Variants = append(variants[:j], variants[j+1:]...)
				break
			}
		}
		return nil
	}

	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	err := s.MoveVariant(ctx, "src", "src-v0", "dst")
	if err != ErrPartialMove {
		t.Fatalf("expected ErrPartialMove, got %v", err)
	}

	st := s.Snapshot()
	if st.LastError == "" {
		t.Fatal("partial move must surface an error")
	}
}

func TestFetchGroupDetailUsesCache(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 2))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	first, err := s.FetchGroupDetail(ctx, "g1", false)
	if err != nil {
		t.Fatalf("FetchGroupDetail: %v", err)
	}

	// Mutate the backend behind the store's back; a cached read must not
	// observe it, a forced read must.
	backend.mu.Lock()
	backend.groups[0].Title = "Changed title"
	backend.mu.Unlock()

	cached, err := s.FetchGroupDetail(ctx, "g1", false)
	if err != nil {
		t.Fatalf("FetchGroupDetail cached: %v", err)
	}
	if cached.Title != first.Title {
		t.Fatal("cached detail should not see backend changes")
	}

	forced, err := s.FetchGroupDetail(ctx, "g1", true)
	if err != nil {
		t.Fatalf("FetchGroupDetail forced: %v", err)
	}
	if forced.Title != "Changed title" {
		t.Fatal("forced detail fetch should see backend changes")
	}
}

func TestRateGroupRefreshesGroup(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 2))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if err := s.RateGroup(ctx, "g1", 0.8); err != nil {
		t.Fatalf("RateGroup: %v", err)
	}

	st := s.Snapshot()
	if st.Items[0].UserScore == nil || *st.Items[0].UserScore != 0.8 {
		t.Fatalf("expected user score 0.8 reflected, got %+v", st.Items[0].UserScore)
	}
}

func TestRateGroupSurfacesRefreshFailure(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 2))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	ctx := context.Background()
	if err := s.FetchPage(ctx, true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	backend.getHook = func(id string) error {
		return &client.APIError{StatusCode: http.StatusBadGateway, Message: "backend down"}
	}
	if err := s.RateGroup(ctx, "g1", 0.8); err == nil {
		t.Fatal("expected an error when the rated group cannot be re-read")
	}

	st := s.Snapshot()
	if st.LastError != "backend down" {
		t.Fatalf("refresh failure must be surfaced, got %q", st.LastError)
	}
}

func TestSubscribeReceivesSnapshotsNotAliases(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 1))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	var mu sync.Mutex
	var last State
	unsubscribe := s.Subscribe(func(st State) {
		mu.Lock()
		last = st
		mu.Unlock()
	})
	defer unsubscribe()

	if err := s.FetchPage(context.Background(), true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	mu.Lock()
	snap := last
	mu.Unlock()

	if len(snap.Items) != 1 {
		t.Fatalf("subscriber should have seen the fetched page, got %d items", len(snap.Items))
	}

	// Scribbling on the received snapshot must not leak into the store.
	snap.Items[0].Title = "scribble"
	if s.Snapshot().Items[0].Title == "scribble" {
		t.Fatal("subscriber snapshot aliases store memory")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	backend := newFakeBackend(makeGroup("g1", 1))
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	var mu sync.Mutex
	calls := 0
	unsubscribe := s.Subscribe(func(State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsubscribe()

	if err := s.FetchPage(context.Background(), true); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected only the initial notification, got %d", calls)
	}
}

func TestSearchDebouncesRapidCalls(t *testing.T) {
	backend := newFakeBackend(makeGroups(3)...)
	s := newTestStore(backend, Options{PageSize: 20, Debounce: 30 * time.Millisecond})
	defer s.Close()

	ctx := context.Background()
	s.Search(ctx, "w")
	s.Search(ctx, "wi")
	s.Search(ctx, "wid")
	s.Search(ctx, "widget")

	time.Sleep(120 * time.Millisecond)

	backend.mu.Lock()
	calls := backend.listCalls
	query := backend.lastQuery
	backend.mu.Unlock()

	if calls != 1 {
		t.Fatalf("expected exactly one debounced fetch, got %d", calls)
	}
	if query != "widget" {
		t.Fatalf("expected final query to win, got %q", query)
	}
	if got := s.Snapshot().Query; got != "widget" {
		t.Fatalf("expected store query widget, got %q", got)
	}
}

func TestClearErrorAndDismissWarnings(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(backend, Options{PageSize: 20})
	defer s.Close()

	s.mutate(func(st *State) {
		st.LastError = "boom"
		st.UploadWarnings = []string{"row 3 skipped"}
	})

	s.ClearError()
	s.DismissWarnings()

	st := s.Snapshot()
	if st.LastError != "" {
		t.Fatalf("expected cleared error, got %q", st.LastError)
	}
	if st.UploadWarnings != nil {
		t.Fatalf("expected dismissed warnings, got %v", st.UploadWarnings)
	}
}
