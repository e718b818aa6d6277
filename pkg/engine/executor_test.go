package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testStore is an in-memory StateStore for executor and driver tests.
type testStore struct {
	mu     sync.Mutex
	states map[string]*ResourceState
}

func newTestStore() *testStore {
	return &testStore{states: make(map[string]*ResourceState)}
}

func (s *testStore) Get(_ context.Context, id string) (*ResourceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *testStore) List(_ context.Context) ([]*ResourceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ResourceState, 0, len(s.states))
	for _, st := range s.states {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func (s *testStore) Save(_ context.Context, state *ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.ID] = &cp
	return nil
}

func (s *testStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

// fakeProvider serves every kind and records the order of provider calls.
type fakeProvider struct {
	mu          sync.Mutex
	ops         []string
	seq         int
	live        map[string]Attributes // provider id -> observed attributes
	applyErr    map[string]error      // resource id -> forced apply error
	deleteErr   map[string]error      // provider id -> forced delete error
	pollsNeeded map[string]int        // resource id -> pending polls before ready
	pollCount   map[string]int
	inflight    int
	maxInflight int
	applyDelay  time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		live:        make(map[string]Attributes),
		applyErr:    make(map[string]error),
		deleteErr:   make(map[string]error),
		pollsNeeded: make(map[string]int),
		pollCount:   make(map[string]int),
	}
}

func (p *fakeProvider) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
}

func (p *fakeProvider) opList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.ops...)
}

func (p *fakeProvider) opIndex(op string) int {
	for i, o := range p.opList() {
		if o == op {
			return i
		}
	}
	return -1
}

func (p *fakeProvider) applyCount() int {
	n := 0
	for _, op := range p.opList() {
		if strings.HasPrefix(op, "apply:") {
			n++
		}
	}
	return n
}

func (p *fakeProvider) Describe(_ context.Context, providerID string) (Attributes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obs, ok := p.live[providerID]
	if !ok {
		return nil, ErrNotFound
	}
	return obs.Clone(), nil
}

func (p *fakeProvider) Apply(_ context.Context, req ApplyRequest) (*ApplyResult, error) {
	p.mu.Lock()
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	delay := p.applyDelay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	p.ops = append(p.ops, "apply:"+req.Spec.ID)

	if err := p.applyErr[req.Spec.ID]; err != nil {
		return nil, err
	}

	providerID := ""
	if req.Prior != nil {
		providerID = req.Prior.ProviderID
	}
	if providerID == "" {
		p.seq++
		providerID = fmt.Sprintf("%s-v%d", req.Spec.ID, p.seq)
	}
	observed := req.Attributes.Clone()
	if observed == nil {
		observed = Attributes{}
	}
	p.live[providerID] = observed.Clone()
	return &ApplyResult{ProviderID: providerID, Observed: observed}, nil
}

func (p *fakeProvider) Delete(_ context.Context, providerID string) error {
	p.record("delete:" + providerID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.deleteErr[providerID]; err != nil {
		return err
	}
	delete(p.live, providerID)
	return nil
}

func (p *fakeProvider) PollReady(_ context.Context, providerID string) (Readiness, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// pollsNeeded is keyed by resource id; provider ids are "<id>-vN".
	id := providerID
	if i := strings.LastIndex(id, "-v"); i > 0 {
		id = id[:i]
	}
	p.pollCount[id]++
	if p.pollCount[id] > p.pollsNeeded[id] {
		return ReadinessReady, nil
	}
	return ReadinessPending, nil
}

func (p *fakeProvider) Schema(kind Kind) (*KindSchema, error) {
	return &KindSchema{Kind: kind}, nil
}

func testRegistry(p *fakeProvider) *Registry {
	reg := NewRegistry()
	for _, k := range []Kind{KindBucket, KindCertificate, KindDNSRecordSet, KindCDNDistribution, KindAliasRecord, KindPolicyAttachment} {
		reg.Register(k, p)
	}
	return reg
}

func testExecutor(reg *Registry, store StateStore, opts ...ExecutorOption) *Executor {
	base := []ExecutorOption{
		WithDefaultWait(WaitSpec{Timeout: 2 * time.Second, PollInterval: 2 * time.Millisecond}),
	}
	return NewExecutor(reg, store, zerolog.Nop(), append(base, opts...)...)
}

func mustPlan(t *testing.T, reg *Registry, g *Graph, states map[string]*ResourceState) *Plan {
	t.Helper()
	plan, err := NewDiffer(reg).Diff(context.Background(), g, states)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	return plan
}

func mustGraph(t *testing.T, specs []ResourceSpec) *Graph {
	t.Helper()
	g, err := BuildGraph(specs)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	return g
}

func TestExecuteCreateChain(t *testing.T) {
	provider := newFakeProvider()
	reg := testRegistry(provider)
	store := newTestStore()

	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "site-origin"}},
		{Kind: KindCDNDistribution, ID: "cdn", Attributes: Attributes{"origin": "${origin.name}"}},
		{Kind: KindAliasRecord, ID: "alias", Attributes: Attributes{"target": "${cdn.origin}"}},
	}
	g := mustGraph(t, specs)
	plan := mustPlan(t, reg, g, nil)

	exec := testExecutor(reg, store)
	report, err := exec.Execute(context.Background(), g, plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("run status = %s, want %s", report.Status, RunStatusSucceeded)
	}
	if report.Summary.Applied != 3 {
		t.Errorf("applied = %d, want 3", report.Summary.Applied)
	}

	for _, pair := range [][2]string{{"apply:origin", "apply:cdn"}, {"apply:cdn", "apply:alias"}} {
		if provider.opIndex(pair[0]) > provider.opIndex(pair[1]) {
			t.Errorf("expected %s before %s, got %v", pair[0], pair[1], provider.opList())
		}
	}

	st, err := store.Get(context.Background(), "cdn")
	if err != nil {
		t.Fatalf("Get(cdn) error = %v", err)
	}
	if st.Status != ResourceStatusReady {
		t.Errorf("cdn status = %s, want ready", st.Status)
	}
	if st.Observed["origin"] != "site-origin" {
		t.Errorf("cdn observed origin = %v, want resolved value site-origin", st.Observed["origin"])
	}
	if st.LastAppliedHash == "" {
		t.Error("cdn state has empty fingerprint")
	}
}

func TestExecuteFailurePropagation(t *testing.T) {
	provider := newFakeProvider()
	provider.applyErr["cert"] = errors.New("quota exceeded")
	reg := testRegistry(provider)
	store := newTestStore()

	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "b"}},
		{Kind: KindCertificate, ID: "cert", Attributes: Attributes{"domain": "example.com"}},
		{Kind: KindCDNDistribution, ID: "cdn", Attributes: Attributes{"origin": "${origin.name}", "cert": "${cert.domain}"}},
	}
	g := mustGraph(t, specs)
	plan := mustPlan(t, reg, g, nil)

	report, err := testExecutor(reg, store).Execute(context.Background(), g, plan, nil)
	if err == nil {
		t.Fatal("Execute() error = nil, want partial failure")
	}
	if !IsPartialFailure(err) {
		t.Fatalf("Execute() error = %v, want PartialFailureError", err)
	}
	if report.Status != RunStatusPartial {
		t.Errorf("run status = %s, want partial", report.Status)
	}

	cert := report.Node("cert")
	if cert.Outcome != OutcomeFailed {
		t.Errorf("cert outcome = %s, want failed", cert.Outcome)
	}
	if !IsProvider(cert.Err) {
		t.Errorf("cert error = %v, want provider error", cert.Err)
	}
	cdn := report.Node("cdn")
	if cdn.Outcome != OutcomeSkipped {
		t.Errorf("cdn outcome = %s, want skipped", cdn.Outcome)
	}
	origin := report.Node("origin")
	if origin.Outcome != OutcomeApplied {
		t.Errorf("origin outcome = %s, want applied (unrelated to failure)", origin.Outcome)
	}

	if _, err := store.Get(context.Background(), "cert"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cert state persisted after failed apply, want no state")
	}
}

func TestExecuteReadinessTimeout(t *testing.T) {
	provider := newFakeProvider()
	provider.pollsNeeded["cert"] = 1 << 30
	reg := testRegistry(provider)
	store := newTestStore()

	specs := []ResourceSpec{
		{
			Kind:       KindCertificate,
			ID:         "cert",
			Attributes: Attributes{"domain": "example.com"},
			Wait:       &WaitSpec{Timeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
		},
		{Kind: KindCDNDistribution, ID: "cdn", Attributes: Attributes{"certificate": "${cert.domain}"}},
	}
	g := mustGraph(t, specs)
	plan := mustPlan(t, reg, g, nil)

	report, err := testExecutor(reg, store).Execute(context.Background(), g, plan, nil)
	if !IsPartialFailure(err) {
		t.Fatalf("Execute() error = %v, want PartialFailureError", err)
	}
	node := report.Node("cert")
	if !IsReadinessTimeout(node.Err) {
		t.Fatalf("cert error = %v, want readiness timeout", node.Err)
	}
	if cdn := report.Node("cdn"); cdn.Outcome != OutcomeSkipped {
		t.Errorf("cdn outcome = %s, want skipped behind the timed-out wait", cdn.Outcome)
	}

	st, err := store.Get(context.Background(), "cert")
	if err != nil {
		t.Fatalf("Get(cert) error = %v, want state persisted on timeout", err)
	}
	if st.Status != ResourceStatusFailed {
		t.Errorf("cert status = %s, want failed", st.Status)
	}
	if st.ProviderID == "" {
		t.Error("cert state lost provider id")
	}
}

func TestExecuteReplaceCreateBeforeDestroy(t *testing.T) {
	provider := newFakeProvider()
	reg := testRegistry(provider)
	store := newTestStore()

	g := mustGraph(t, []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "renamed"}},
	})
	states := map[string]*ResourceState{
		"origin": {
			ID:              "origin",
			Kind:            KindBucket,
			ProviderID:      "origin-old",
			Declared:        Attributes{"name": "original"},
			Observed:        Attributes{"name": "original"},
			LastAppliedHash: "stale",
			Status:          ResourceStatusReady,
		},
	}
	plan := &Plan{Changes: []ChangeSet{{
		ResourceID: "origin",
		Kind:       KindBucket,
		Action:     ActionReplace,
		Reason:     "immutable field name changed",
	}}}

	report, err := testExecutor(reg, store).Execute(context.Background(), g, plan, states)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	node := report.Node("origin")
	if node.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", node.Outcome)
	}

	applyAt := provider.opIndex("apply:origin")
	deleteAt := provider.opIndex("delete:origin-old")
	if applyAt < 0 || deleteAt < 0 {
		t.Fatalf("missing ops, got %v", provider.opList())
	}
	if deleteAt < applyAt {
		t.Errorf("old instance destroyed before replacement created: %v", provider.opList())
	}

	st, err := store.Get(context.Background(), "origin")
	if err != nil {
		t.Fatalf("Get(origin) error = %v", err)
	}
	if st.ProviderID == "origin-old" {
		t.Error("state still points at the replaced instance")
	}
}

func TestExecuteReplaceOldDeleteFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.deleteErr["origin-old"] = errors.New("still in use")
	reg := testRegistry(provider)
	store := newTestStore()

	g := mustGraph(t, []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "renamed"}},
	})
	states := map[string]*ResourceState{
		"origin": {ID: "origin", Kind: KindBucket, ProviderID: "origin-old", Status: ResourceStatusReady, LastAppliedHash: "stale"},
	}
	plan := &Plan{Changes: []ChangeSet{{ResourceID: "origin", Kind: KindBucket, Action: ActionReplace}}}

	report, err := testExecutor(reg, store).Execute(context.Background(), g, plan, states)
	if !IsPartialFailure(err) {
		t.Fatalf("Execute() error = %v, want PartialFailureError", err)
	}
	if report.Node("origin").Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", report.Node("origin").Outcome)
	}

	// The replacement succeeded and stays tracked even though cleanup failed.
	st, err := store.Get(context.Background(), "origin")
	if err != nil {
		t.Fatalf("Get(origin) error = %v", err)
	}
	if st.ProviderID == "origin-old" || st.ProviderID == "" {
		t.Errorf("state provider id = %q, want the replacement instance", st.ProviderID)
	}
	if st.Status != ResourceStatusReady {
		t.Errorf("replacement status = %s, want ready", st.Status)
	}
}

func TestExecuteDeleteGating(t *testing.T) {
	provider := newFakeProvider()
	reg := testRegistry(provider)
	store := newTestStore()

	states := map[string]*ResourceState{
		"cdn": {
			ID: "cdn", Kind: KindCDNDistribution, ProviderID: "cdn-1",
			Status: ResourceStatusReady, Dependencies: []string{"origin"},
		},
		"origin": {
			ID: "origin", Kind: KindBucket, ProviderID: "origin-1",
			Status: ResourceStatusReady,
		},
	}
	for _, st := range states {
		if err := store.Save(context.Background(), st); err != nil {
			t.Fatal(err)
		}
	}

	g := mustGraph(t, nil)
	plan := mustPlan(t, reg, g, states)

	report, err := testExecutor(reg, store).Execute(context.Background(), g, plan, states)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Summary.Applied != 2 {
		t.Fatalf("applied = %d, want 2 deletes", report.Summary.Applied)
	}

	cdnAt := provider.opIndex("delete:cdn-1")
	originAt := provider.opIndex("delete:origin-1")
	if cdnAt < 0 || originAt < 0 {
		t.Fatalf("missing deletes, got %v", provider.opList())
	}
	if originAt < cdnAt {
		t.Errorf("dependency deleted before its dependent: %v", provider.opList())
	}

	if list, _ := store.List(context.Background()); len(list) != 0 {
		t.Errorf("store still holds %d states after teardown", len(list))
	}
}

func TestExecuteApplySlotLimit(t *testing.T) {
	provider := newFakeProvider()
	provider.applyDelay = 10 * time.Millisecond
	reg := testRegistry(provider)
	store := newTestStore()

	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "a", Attributes: Attributes{"name": "a"}},
		{Kind: KindBucket, ID: "b", Attributes: Attributes{"name": "b"}},
		{Kind: KindBucket, ID: "c", Attributes: Attributes{"name": "c"}},
	}
	g := mustGraph(t, specs)
	plan := mustPlan(t, reg, g, nil)

	_, err := testExecutor(reg, store, WithConcurrency(1)).Execute(context.Background(), g, plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if provider.maxInflight > 1 {
		t.Errorf("max concurrent applies = %d, want 1", provider.maxInflight)
	}
}

func TestExecutePollDoesNotHoldSlot(t *testing.T) {
	provider := newFakeProvider()
	provider.pollsNeeded["cert"] = 5
	reg := testRegistry(provider)
	store := newTestStore()

	specs := []ResourceSpec{
		{
			Kind: KindCertificate, ID: "cert",
			Attributes: Attributes{"domain": "example.com"},
			Wait:       &WaitSpec{Timeout: 2 * time.Second, PollInterval: 10 * time.Millisecond},
		},
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "b"}},
	}
	g := mustGraph(t, specs)
	plan := mustPlan(t, reg, g, nil)

	report, err := testExecutor(reg, store, WithConcurrency(1)).Execute(context.Background(), g, plan, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// The bucket must not have waited out the certificate's readiness polls.
	cert := report.Node("cert")
	origin := report.Node("origin")
	if !origin.DoneAt.Before(cert.ReadyAt) {
		t.Errorf("unrelated node blocked behind readiness wait: origin done %s, cert ready %s",
			origin.DoneAt.Format(time.RFC3339Nano), cert.ReadyAt.Format(time.RFC3339Nano))
	}
}

func TestExecuteCancelSkipsPending(t *testing.T) {
	provider := newFakeProvider()
	provider.pollsNeeded["cert"] = 1 << 30
	reg := testRegistry(provider)
	store := newTestStore()

	specs := []ResourceSpec{
		{
			Kind: KindCertificate, ID: "cert",
			Attributes: Attributes{"domain": "example.com"},
			Wait:       &WaitSpec{Timeout: 10 * time.Second, PollInterval: 5 * time.Millisecond},
		},
		{Kind: KindCDNDistribution, ID: "cdn", Attributes: Attributes{"cert": "${cert.domain}"}},
	}
	g := mustGraph(t, specs)
	plan := mustPlan(t, reg, g, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	report, err := testExecutor(reg, store).Execute(ctx, g, plan, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	cert := report.Node("cert")
	if cert.Outcome != OutcomeFailed {
		t.Errorf("cert outcome = %s, want failed after canceled wait", cert.Outcome)
	}
	cdn := report.Node("cdn")
	if cdn.Outcome != OutcomeSkipped {
		t.Errorf("cdn outcome = %s, want skipped", cdn.Outcome)
	}
}

func TestExecuteNoOpKeepsOutputsFlowing(t *testing.T) {
	provider := newFakeProvider()
	reg := testRegistry(provider)
	store := newTestStore()

	bucketSpec := ResourceSpec{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "site-origin"}}
	specs := []ResourceSpec{
		bucketSpec,
		{Kind: KindCDNDistribution, ID: "cdn", Attributes: Attributes{"origin": "${origin.name}"}},
	}
	g := mustGraph(t, specs)

	// The bucket is already converged; only the distribution needs creating.
	provider.live["origin-1"] = Attributes{"name": "site-origin"}
	states := map[string]*ResourceState{
		"origin": {
			ID: "origin", Kind: KindBucket, ProviderID: "origin-1",
			Observed:        Attributes{"name": "site-origin"},
			LastAppliedHash: bucketSpec.Fingerprint(),
			Status:          ResourceStatusReady,
		},
	}
	plan := mustPlan(t, reg, g, states)
	if got := plan.Change("origin").Action; got != ActionNoOp {
		t.Fatalf("origin action = %s, want no-op", got)
	}

	report, err := testExecutor(reg, store).Execute(context.Background(), g, plan, states)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Summary.NoOp != 1 || report.Summary.Applied != 1 {
		t.Errorf("summary = %+v, want one no-op and one apply", report.Summary)
	}

	st, err := store.Get(context.Background(), "cdn")
	if err != nil {
		t.Fatalf("Get(cdn) error = %v", err)
	}
	if st.Observed["origin"] != "site-origin" {
		t.Errorf("cdn resolved origin = %v, want value from stored observed attributes", st.Observed["origin"])
	}
}
