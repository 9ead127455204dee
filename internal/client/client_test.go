package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/db3-network/db3-go/internal/account"
	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/errs"
	"github.com/db3-network/db3-go/internal/journal"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/db3-network/db3-go/internal/transport"
)

const testDatabase = "0x00112233445566778899aabbccddeeff00112233"

// stubNode accepts a submission only when it carries the expected nonce,
// unless a fixed verdict or error is configured.
type stubNode struct {
	mu         sync.Mutex
	nextNonce  uint64
	remote     string
	verdict    *transport.Response
	sendErr    error
	submitted  []transport.Submission
	items      []transport.Item
	verifier   *account.Verifier
	sigFailure error
}

func (n *stubNode) SendMutation(_ context.Context, submission transport.Submission) (transport.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, submission)
	if n.sendErr != nil {
		return transport.Response{}, n.sendErr
	}
	if n.verifier != nil {
		if _, _, err := n.verifier.Verify(submission.Signature); err != nil {
			n.sigFailure = err
			return transport.Response{Code: transport.CodeBadSignature, Message: err.Error()}, nil
		}
	}
	if n.verdict != nil {
		return *n.verdict, nil
	}
	if submission.Nonce != fmt.Sprint(n.nextNonce) {
		return transport.Response{Code: transport.CodeNonceMismatch, Message: "expected " + fmt.Sprint(n.nextNonce)}, nil
	}
	n.nextNonce++
	return transport.Response{Code: transport.CodeAccepted, ID: fmt.Sprintf("m%d", n.nextNonce), Items: n.items}, nil
}

func (n *stubNode) GetNonce(context.Context, string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.remote != "" {
		return n.remote, nil
	}
	return fmt.Sprint(n.nextNonce), nil
}

func (n *stubNode) GetMutationHeader(_ context.Context, id string) (transport.MutationHeader, error) {
	return transport.MutationHeader{ID: id}, nil
}

func (n *stubNode) ScanMutationHeaders(context.Context, int, int) ([]transport.MutationHeader, error) {
	return []transport.MutationHeader{{ID: "m1"}}, nil
}

func (n *stubNode) GetStatus(context.Context) (transport.NodeStatus, error) {
	return transport.NodeStatus{Version: "stub"}, nil
}

func (n *stubNode) sendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.submitted)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records map[string]journal.Record
	results map[string]journal.Outcome
	order   []string
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{records: map[string]journal.Record{}, results: map[string]journal.Outcome{}}
}

func (r *memoryRecorder) Begin(_ context.Context, record journal.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("entry-%d", len(r.order)+1)
	r.records[id] = record
	r.order = append(r.order, id)
	return id, nil
}

func (r *memoryRecorder) Resolve(_ context.Context, entryID string, outcome journal.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[entryID] = outcome
	return nil
}

func newSyncedClient(t *testing.T, node *stubNode, recorder Recorder) *Client {
	t.Helper()
	signer, err := account.Generate(account.Config{})
	if err != nil {
		t.Fatalf("failed to generate account: %v", err)
	}
	cfg := Config{Signer: signer, Transport: node}
	if recorder != nil {
		cfg.Journal = recorder
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if err := c.SyncNonce(context.Background()); err != nil {
		t.Fatalf("failed to sync nonce: %v", err)
	}
	return c
}

func todo() document.Object {
	return document.NewObject(document.F("text", document.String("buy milk")))
}

func TestCreateDocumentAcceptedAdvancesNonce(t *testing.T) {
	node := &stubNode{verifier: account.NewVerifier(nil)}
	c := newSyncedClient(t, node, nil)

	id, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "m1" {
		t.Fatalf("expected m1, got %s", id)
	}
	if current, _ := c.Nonce(); current != 1 {
		t.Fatalf("expected nonce 1, got %d", current)
	}
	if node.sigFailure != nil {
		t.Fatalf("signature did not verify: %v", node.sigFailure)
	}

	sent := node.submitted[0]
	if sent.Nonce != "0" || sent.Address != c.Address().String() || sent.PublicKey == "" {
		t.Fatalf("unexpected submission %+v", sent)
	}
	decoded, err := mutation.Decode(sent.Payload)
	if err != nil || decoded.Action != mutation.ActionAddDocument {
		t.Fatalf("unexpected payload %+v: %v", decoded, err)
	}
}

func TestRejectedSubmissionKeepsNonce(t *testing.T) {
	node := &stubNode{remote: "5", verdict: &transport.Response{Code: transport.CodeRejected, Message: "collection missing"}}
	c := newSyncedClient(t, node, nil)

	_, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo())
	if !errors.Is(err, errs.ErrMutationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	var rejected *errs.RejectedError
	if !errors.As(err, &rejected) || rejected.Code != transport.CodeRejected || rejected.Message != "collection missing" {
		t.Fatalf("unexpected rejection detail %v", err)
	}
	if current, _ := c.Nonce(); current != 5 {
		t.Fatalf("expected nonce 5, got %d", current)
	}

	if _, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo()); !errors.Is(err, errs.ErrMutationRejected) {
		t.Fatalf("expected second rejection, got %v", err)
	}
	if node.sendCount() != 2 {
		t.Fatalf("expected two submissions, got %d", node.sendCount())
	}
	if node.submitted[0].Nonce != "5" || node.submitted[1].Nonce != node.submitted[0].Nonce {
		t.Fatalf("expected both submissions to carry nonce 5, got %q and %q", node.submitted[0].Nonce, node.submitted[1].Nonce)
	}
	if current, _ := c.Nonce(); current != 5 {
		t.Fatalf("expected nonce to stay 5, got %d", current)
	}
}

func TestDeleteWithoutIDsSendsNothing(t *testing.T) {
	node := &stubNode{}
	c := newSyncedClient(t, node, nil)

	if _, err := c.DeleteDocument(context.Background(), testDatabase, "todos", nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if node.sendCount() != 0 {
		t.Fatalf("expected no transport calls, got %d", node.sendCount())
	}
}

func TestInvalidArgumentsSendNothing(t *testing.T) {
	node := &stubNode{}
	c := newSyncedClient(t, node, nil)
	ctx := context.Background()

	if _, err := c.CreateCollection(ctx, testDatabase, "", nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty name, got %v", err)
	}
	if _, err := c.CreateCollection(ctx, "not-hex", "todos", nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad address, got %v", err)
	}
	if _, err := c.UpdateDocument(ctx, testDatabase, "todos", todo(), "", nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty id, got %v", err)
	}
	if _, err := c.Submit(ctx, mutation.Mutation{Action: mutation.Action(42)}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown action, got %v", err)
	}
	if node.sendCount() != 0 {
		t.Fatalf("expected no transport calls, got %d", node.sendCount())
	}
}

func TestNonceMismatchSurfacesConflict(t *testing.T) {
	node := &stubNode{}
	c := newSyncedClient(t, node, nil)
	node.nextNonce = 5

	_, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo())
	var conflict *errs.NonceConflictError
	if !errors.As(err, &conflict) || conflict.Sent != 0 {
		t.Fatalf("expected nonce conflict for sent nonce 0, got %v", err)
	}
	if !errors.Is(err, errs.ErrNonceConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}

	if err := c.SyncNonce(context.Background()); err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	if _, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo()); err != nil {
		t.Fatalf("expected success after resync, got %v", err)
	}
	if current, _ := c.Nonce(); current != 6 {
		t.Fatalf("expected nonce 6, got %d", current)
	}
}

func TestTransportFailureKeepsNonce(t *testing.T) {
	node := &stubNode{}
	c := newSyncedClient(t, node, nil)
	node.sendErr = errors.New("connection reset")

	_, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo())
	if !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if current, _ := c.Nonce(); current != 0 {
		t.Fatalf("expected nonce 0, got %d", current)
	}

	node.sendErr = nil
	if _, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo()); err != nil {
		t.Fatalf("expected the lease to be released after failure, got %v", err)
	}
}

func TestSubmitBeforeSyncFails(t *testing.T) {
	signer, err := account.Generate(account.Config{})
	if err != nil {
		t.Fatalf("failed to generate account: %v", err)
	}
	node := &stubNode{}
	c, err := New(Config{Signer: signer, Transport: node})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if _, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo()); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := c.Nonce(); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if node.sendCount() != 0 {
		t.Fatalf("expected no transport calls")
	}
}

func TestSyncNonceRejectsGarbage(t *testing.T) {
	node := &stubNode{remote: "twelve"}
	signer, _ := account.Generate(account.Config{})
	c, err := New(Config{Signer: signer, Transport: node})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if err := c.SyncNonce(context.Background()); !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestConcurrentSubmitsNeverReuseANonce(t *testing.T) {
	node := &stubNode{}
	c := newSyncedClient(t, node, nil)

	const workers = 24
	var wg sync.WaitGroup
	failures := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := document.NewObject(document.F("n", document.Int(int64(i))))
			if _, err := c.CreateDocument(context.Background(), testDatabase, "todos", doc); err != nil {
				failures <- err
			}
		}(i)
	}
	wg.Wait()
	close(failures)
	for err := range failures {
		t.Fatalf("unexpected submit error: %v", err)
	}

	seen := map[string]bool{}
	for _, submission := range node.submitted {
		if seen[submission.Nonce] {
			t.Fatalf("nonce %s sent twice", submission.Nonce)
		}
		seen[submission.Nonce] = true
	}
	if current, _ := c.Nonce(); current != workers {
		t.Fatalf("expected nonce %d, got %d", workers, current)
	}
}

func TestCreateDatabaseReturnsFirstItem(t *testing.T) {
	node := &stubNode{items: []transport.Item{{Key: "database", Value: testDatabase}}}
	c := newSyncedClient(t, node, nil)

	id, databaseAddress, err := c.CreateDatabase(context.Background(), "todo list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "m1" || databaseAddress != testDatabase {
		t.Fatalf("unexpected result %s %s", id, databaseAddress)
	}

	node.items = nil
	id, _, err = c.CreateDatabase(context.Background(), "second")
	if !errors.Is(err, errs.ErrTransport) || id != "m2" {
		t.Fatalf("expected transport error with id m2, got %s %v", id, err)
	}
}

func TestJournalRecordsEveryOutcome(t *testing.T) {
	node := &stubNode{}
	recorder := newMemoryRecorder()
	c := newSyncedClient(t, node, recorder)
	ctx := context.Background()

	if _, err := c.CreateDocument(ctx, testDatabase, "todos", todo()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node.verdict = &transport.Response{Code: transport.CodeInvalidMutation, Message: "bad"}
	_, _ = c.CreateDocument(ctx, testDatabase, "todos", todo())
	node.verdict = &transport.Response{Code: transport.CodeNonceMismatch}
	_, _ = c.CreateDocument(ctx, testDatabase, "todos", todo())
	node.verdict = nil
	node.sendErr = errors.New("timeout")
	_, _ = c.CreateDocument(ctx, testDatabase, "todos", todo())

	expected := []journal.Status{journal.StatusAccepted, journal.StatusRejected, journal.StatusConflict, journal.StatusUnknown}
	if len(recorder.order) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(recorder.order))
	}
	for i, entryID := range recorder.order {
		if recorder.results[entryID].Status != expected[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, expected[i], recorder.results[entryID].Status)
		}
	}
	first := recorder.records[recorder.order[0]]
	if first.Nonce != "0" || first.Action != "add_document" || first.DatabaseAddress != testDatabase {
		t.Fatalf("unexpected record %+v", first)
	}
	if recorder.results[recorder.order[0]].MutationID != "m1" {
		t.Fatalf("expected accepted entry to carry m1")
	}
}

func TestUnsignedClientUsesConfiguredAddress(t *testing.T) {
	owner, _ := address.FromHex(testDatabase)
	node := &stubNode{}
	c, err := New(Config{Address: owner, Transport: node})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if err := c.SyncNonce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if _, err := c.CreateDocument(context.Background(), testDatabase, "todos", todo()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.submitted[0].Signature != "" || node.submitted[0].Address != testDatabase {
		t.Fatalf("unexpected unsigned submission %+v", node.submitted[0])
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, errMissingTransport) {
		t.Fatalf("expected missing transport, got %v", err)
	}
	if _, err := New(Config{Transport: &stubNode{}}); !errors.Is(err, errMissingIdentity) {
		t.Fatalf("expected missing identity, got %v", err)
	}
}

func TestReadOperationsPassThrough(t *testing.T) {
	c := newSyncedClient(t, &stubNode{}, nil)
	ctx := context.Background()

	if header, err := c.MutationHeader(ctx, "m1"); err != nil || header.ID != "m1" {
		t.Fatalf("unexpected header %+v: %v", header, err)
	}
	if _, err := c.MutationHeader(ctx, ""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if headers, err := c.ScanMutationHeaders(ctx, 0, 10); err != nil || len(headers) != 1 {
		t.Fatalf("unexpected headers %+v: %v", headers, err)
	}
	if _, err := c.ScanMutationHeaders(ctx, -1, 10); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if status, err := c.NodeStatus(ctx); err != nil || status.Version != "stub" {
		t.Fatalf("unexpected status %+v: %v", status, err)
	}
}
