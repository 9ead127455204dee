package devnode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/db3-network/db3-go/internal/account"
	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/db3-network/db3-go/internal/nonce"
	"github.com/db3-network/db3-go/internal/transport"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%03d", p.next), nil
}

type nodeHarness struct {
	service *Service
	signer  *account.Account
}

func newNodeHarness(testContext *testing.T) *nodeHarness {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "node.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: database, IDProvider: &sequenceIDProvider{}})
	if err != nil {
		testContext.Fatalf("failed to construct service: %v", err)
	}
	signer, err := account.Generate(account.Config{})
	if err != nil {
		testContext.Fatalf("failed to generate account: %v", err)
	}
	return &nodeHarness{service: service, signer: signer}
}

func (h *nodeHarness) submission(testContext *testing.T, signer *account.Account, m mutation.Mutation, n uint64) transport.Submission {
	testContext.Helper()
	payload, err := mutation.Encode(m)
	if err != nil {
		testContext.Fatalf("failed to encode mutation: %v", err)
	}
	nonceText := nonce.FormatNonce(n)
	signature, err := signer.Sign(context.Background(), account.MutationPayload(payload, nonceText))
	if err != nil {
		testContext.Fatalf("failed to sign: %v", err)
	}
	return transport.Submission{
		Payload:   payload,
		Nonce:     nonceText,
		Address:   signer.Address().String(),
		PublicKey: signer.PublicKeyHex(),
		Signature: signature,
	}
}

func (h *nodeHarness) submit(testContext *testing.T, m mutation.Mutation, n uint64) transport.Response {
	testContext.Helper()
	response, err := h.service.Submit(context.Background(), h.submission(testContext, h.signer, m, n))
	if err != nil {
		testContext.Fatalf("submit failed: %v", err)
	}
	return response
}

func (h *nodeHarness) createDatabaseWithCollection(testContext *testing.T) string {
	testContext.Helper()
	created := h.submit(testContext, mutation.BuildCreateDatabase("todos"), 0)
	if !created.Accepted() {
		testContext.Fatalf("create database rejected: %+v", created)
	}
	databaseAddress, _ := created.ItemValue(ItemDatabase)
	collection, err := mutation.BuildAddCollection(databaseAddress, "todos", nil)
	if err != nil {
		testContext.Fatalf("failed to build collection: %v", err)
	}
	if response := h.submit(testContext, collection, 1); !response.Accepted() {
		testContext.Fatalf("add collection rejected: %+v", response)
	}
	return databaseAddress
}

func TestSubmitCreateDatabaseDerivesAddressAndAdvancesNonce(testContext *testing.T) {
	harness := newNodeHarness(testContext)
	ctx := context.Background()

	response := harness.submit(testContext, mutation.BuildCreateDatabase("todos"), 0)
	if !response.Accepted() || response.ID == "" {
		testContext.Fatalf("expected acceptance, got %+v", response)
	}
	databaseAddress, ok := response.ItemValue(ItemDatabase)
	if !ok {
		testContext.Fatalf("expected database item, got %+v", response.Items)
	}
	if databaseAddress != DatabaseAddressFor(harness.signer.Address(), 0).String() {
		testContext.Fatalf("unexpected database address %s", databaseAddress)
	}

	next, err := harness.service.Nonce(ctx, harness.signer.Address())
	if err != nil || next != 1 {
		testContext.Fatalf("expected nonce 1, got %d: %v", next, err)
	}

	header, err := harness.service.MutationHeader(ctx, response.ID)
	if err != nil {
		testContext.Fatalf("header lookup failed: %v", err)
	}
	if header.Action != "create_document_db" || header.Nonce != "0" || header.Block != 1 || header.DatabaseAddress != databaseAddress {
		testContext.Fatalf("unexpected header %+v", header)
	}
}

func TestSubmitRejectsWrongNonceWithoutAdvancing(testContext *testing.T) {
	harness := newNodeHarness(testContext)

	response := harness.submit(testContext, mutation.BuildCreateDatabase("todos"), 3)
	if response.Code != transport.CodeNonceMismatch {
		testContext.Fatalf("expected nonce mismatch, got %+v", response)
	}
	next, _ := harness.service.Nonce(context.Background(), harness.signer.Address())
	if next != 0 {
		testContext.Fatalf("expected nonce to stay 0, got %d", next)
	}

	replayed := harness.submit(testContext, mutation.BuildCreateDatabase("todos"), 0)
	if !replayed.Accepted() {
		testContext.Fatalf("expected acceptance at the right nonce, got %+v", replayed)
	}
	again := harness.submit(testContext, mutation.BuildCreateDatabase("todos"), 0)
	if again.Code != transport.CodeNonceMismatch {
		testContext.Fatalf("expected replay to be refused, got %+v", again)
	}
}

func TestSubmitRejectsBadSignatures(testContext *testing.T) {
	harness := newNodeHarness(testContext)
	ctx := context.Background()
	other, err := account.Generate(account.Config{})
	if err != nil {
		testContext.Fatalf("failed to generate account: %v", err)
	}

	stolen := harness.submission(testContext, other, mutation.BuildCreateDatabase("x"), 0)
	stolen.Address = harness.signer.Address().String()
	stolen.PublicKey = ""
	if response, _ := harness.service.Submit(ctx, stolen); response.Code != transport.CodeBadSignature {
		testContext.Fatalf("expected bad signature for foreign signer, got %+v", response)
	}

	tampered := harness.submission(testContext, harness.signer, mutation.BuildCreateDatabase("x"), 0)
	tampered.Payload = append([]byte(nil), tampered.Payload...)
	tampered.Payload[len(tampered.Payload)-1] ^= 0xff
	if response, _ := harness.service.Submit(ctx, tampered); response.Code != transport.CodeBadSignature {
		testContext.Fatalf("expected bad signature for tampered payload, got %+v", response)
	}

	renonced := harness.submission(testContext, harness.signer, mutation.BuildCreateDatabase("x"), 0)
	renonced.Nonce = "1"
	if response, _ := harness.service.Submit(ctx, renonced); response.Code != transport.CodeBadSignature {
		testContext.Fatalf("expected bad signature for changed nonce, got %+v", response)
	}

	unsigned := harness.submission(testContext, harness.signer, mutation.BuildCreateDatabase("x"), 0)
	unsigned.Signature = ""
	if response, _ := harness.service.Submit(ctx, unsigned); response.Code != transport.CodeBadSignature {
		testContext.Fatalf("expected bad signature for unsigned submission, got %+v", response)
	}
}

func TestSubmitAcceptsUnsignedWhenAllowed(testContext *testing.T) {
	harness := newNodeHarness(testContext)
	harness.service.allowUnsigned = true

	unsigned := harness.submission(testContext, harness.signer, mutation.BuildCreateDatabase("x"), 0)
	unsigned.Signature = ""
	response, err := harness.service.Submit(context.Background(), unsigned)
	if err != nil || !response.Accepted() {
		testContext.Fatalf("expected acceptance, got %+v: %v", response, err)
	}
}

func TestSubmitRejectsMalformedPayload(testContext *testing.T) {
	harness := newNodeHarness(testContext)
	payload := []byte{0x10, 0x63}
	nonceText := "0"
	signature, err := harness.signer.Sign(context.Background(), account.MutationPayload(payload, nonceText))
	if err != nil {
		testContext.Fatalf("failed to sign: %v", err)
	}

	response, err := harness.service.Submit(context.Background(), transport.Submission{
		Payload:   payload,
		Nonce:     nonceText,
		Address:   harness.signer.Address().String(),
		Signature: signature,
	})
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if response.Code != transport.CodeInvalidMutation {
		testContext.Fatalf("expected invalid mutation, got %+v", response)
	}

	badAddress, _ := harness.service.Submit(context.Background(), transport.Submission{Address: "nope", Nonce: "0"})
	if badAddress.Code != transport.CodeInvalidMutation {
		testContext.Fatalf("expected invalid mutation for bad address, got %+v", badAddress)
	}
}

func TestDocumentLifecycle(testContext *testing.T) {
	harness := newNodeHarness(testContext)
	ctx := context.Background()
	databaseAddress := harness.createDatabaseWithCollection(testContext)
	target, _ := address.FromHex(databaseAddress)

	original := document.NewObject(
		document.F("text", document.String("buy milk")),
		document.F("done", document.Bool(false)),
		document.F("tags", document.Array{document.String("home")}),
	)
	add, err := mutation.BuildAddDocument(databaseAddress, "todos", original)
	if err != nil {
		testContext.Fatalf("failed to build add: %v", err)
	}
	added := harness.submit(testContext, add, 2)
	if !added.Accepted() {
		testContext.Fatalf("add rejected: %+v", added)
	}
	documentID, ok := added.ItemValue(ItemDocument)
	if !ok {
		testContext.Fatalf("expected document item, got %+v", added.Items)
	}

	stored, err := harness.service.Document(ctx, target, "todos", documentID)
	if err != nil || !document.Equal(original, stored) {
		testContext.Fatalf("unexpected stored document %v: %v", stored, err)
	}

	patch := document.NewObject(document.F("done", document.Bool(true)))
	masked, err := mutation.BuildUpdateDocument(databaseAddress, "todos", patch, documentID, []string{"done", "tags"})
	if err != nil {
		testContext.Fatalf("failed to build update: %v", err)
	}
	if response := harness.submit(testContext, masked, 3); !response.Accepted() {
		testContext.Fatalf("masked update rejected: %+v", response)
	}
	afterMask, _ := harness.service.Document(ctx, target, "todos", documentID)
	expectedAfterMask := document.NewObject(
		document.F("text", document.String("buy milk")),
		document.F("done", document.Bool(true)),
	)
	if !document.Equal(expectedAfterMask, afterMask) {
		testContext.Fatalf("unexpected masked result %v", afterMask)
	}

	replace, err := mutation.BuildUpdateDocument(databaseAddress, "todos", patch, documentID, nil)
	if err != nil {
		testContext.Fatalf("failed to build replace: %v", err)
	}
	if response := harness.submit(testContext, replace, 4); !response.Accepted() {
		testContext.Fatalf("replace rejected: %+v", response)
	}
	afterReplace, _ := harness.service.Document(ctx, target, "todos", documentID)
	if !document.Equal(patch, afterReplace) {
		testContext.Fatalf("unexpected replaced result %v", afterReplace)
	}

	remove, err := mutation.BuildDeleteDocument(databaseAddress, "todos", []string{documentID})
	if err != nil {
		testContext.Fatalf("failed to build delete: %v", err)
	}
	if response := harness.submit(testContext, remove, 5); !response.Accepted() {
		testContext.Fatalf("delete rejected: %+v", response)
	}
	if _, err := harness.service.Document(ctx, target, "todos", documentID); !errors.Is(err, ErrDocumentNotFound) {
		testContext.Fatalf("expected document to be gone, got %v", err)
	}

	again := harness.submit(testContext, remove, 6)
	if again.Code != transport.CodeRejected {
		testContext.Fatalf("expected rejection for missing document, got %+v", again)
	}
	next, _ := harness.service.Nonce(ctx, harness.signer.Address())
	if next != 6 {
		testContext.Fatalf("expected rejected delete to leave nonce at 6, got %d", next)
	}
}

func TestSubmitRejectsSemanticConflicts(testContext *testing.T) {
	harness := newNodeHarness(testContext)
	databaseAddress := harness.createDatabaseWithCollection(testContext)

	duplicate, _ := mutation.BuildAddCollection(databaseAddress, "todos", nil)
	if response := harness.submit(testContext, duplicate, 2); response.Code != transport.CodeRejected {
		testContext.Fatalf("expected duplicate collection rejection, got %+v", response)
	}

	missingCollection, _ := mutation.BuildAddDocument(databaseAddress, "notes", document.NewObject())
	if response := harness.submit(testContext, missingCollection, 2); response.Code != transport.CodeRejected {
		testContext.Fatalf("expected missing collection rejection, got %+v", response)
	}

	missingDatabase, _ := mutation.BuildAddCollection("0x1111111111111111111111111111111111111111", "todos", nil)
	if response := harness.submit(testContext, missingDatabase, 2); response.Code != transport.CodeRejected {
		testContext.Fatalf("expected missing database rejection, got %+v", response)
	}

	intruder, err := account.Generate(account.Config{})
	if err != nil {
		testContext.Fatalf("failed to generate account: %v", err)
	}
	foreign, _ := mutation.BuildAddCollection(databaseAddress, "other", nil)
	response, err := harness.service.Submit(context.Background(), harness.submission(testContext, intruder, foreign, 0))
	if err != nil || response.Code != transport.CodeRejected {
		testContext.Fatalf("expected owner check rejection, got %+v: %v", response, err)
	}
}

func TestScanAndStatus(testContext *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	harness := newNodeHarness(testContext)
	harness.service.startedAt = started
	harness.createDatabaseWithCollection(testContext)
	ctx := context.Background()

	headers, err := harness.service.ScanMutationHeaders(ctx, 0, 10)
	if err != nil {
		testContext.Fatalf("scan failed: %v", err)
	}
	if len(headers) != 2 || headers[0].Block != 1 || headers[1].Action != "add_collection" {
		testContext.Fatalf("unexpected headers %+v", headers)
	}
	tail, err := harness.service.ScanMutationHeaders(ctx, 1, 10)
	if err != nil || len(tail) != 1 {
		testContext.Fatalf("unexpected tail %+v: %v", tail, err)
	}

	if _, err := harness.service.MutationHeader(ctx, "missing"); !errors.Is(err, ErrMutationNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}

	status, err := harness.service.Status(ctx)
	if err != nil {
		testContext.Fatalf("status failed: %v", err)
	}
	if status.MutationCount != 2 || status.DatabaseCount != 1 || status.AccountCount != 1 || !status.StartedAt.Equal(started) {
		testContext.Fatalf("unexpected status %+v", status)
	}
}

func TestApplyMask(testContext *testing.T) {
	current := document.NewObject(document.F("a", document.Int(1)), document.F("b", document.Int(2)))
	incoming := document.NewObject(document.F("a", document.Int(9)), document.F("c", document.Int(3)))

	merged := applyMask(current, incoming, []string{"a", "b"})
	expected := document.NewObject(document.F("a", document.Int(9)))
	if !document.Equal(expected, merged) {
		testContext.Fatalf("unexpected merge %v", merged)
	}
	if !document.Equal(current, document.NewObject(document.F("a", document.Int(1)), document.F("b", document.Int(2)))) {
		testContext.Fatalf("current document was mutated")
	}
	if !document.Equal(incoming, applyMask(current, incoming, nil)) {
		testContext.Fatalf("empty mask must replace")
	}
}
