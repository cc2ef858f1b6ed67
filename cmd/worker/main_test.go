package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"cim-backend/internal/bootstrap"
	"cim-backend/internal/documents"
	"cim-backend/internal/extractions"
	"cim-backend/internal/payload"
	"cim-backend/internal/providers"
	"cim-backend/internal/queue"
	"cim-backend/internal/resilience"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeAdapter struct {
	text string
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Invoke(ctx context.Context, req providers.Request) (providers.RawResponse, error) {
	return providers.RawResponse{Text: f.text, Model: "fake-1"}, nil
}

type memStore struct {
	objects map[string][]byte
}

func (s *memStore) Save(ctx context.Context, owner, fileName string, r io.Reader) (string, int64, string, error) {
	data, _ := io.ReadAll(r)
	key := owner + "/" + fileName
	s.objects[key] = data
	return key, int64(len(data)), "application/pdf", nil
}

func (s *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.objects[key])), nil
}

func testApp(t *testing.T) (*bootstrap.App, *extractions.MemoryRepo) {
	t.Helper()

	docRepo := documents.NewMemoryRepo()
	extractionRepo := extractions.NewMemoryRepo()
	store := &memStore{objects: map[string][]byte{"u1/deck.pdf": []byte("%PDF-1.4 fake")}}

	if err := docRepo.Create(context.Background(), documents.Document{
		ID:         "doc-1",
		FileName:   "deck.pdf",
		StorageKey: "u1/deck.pdf",
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	if err := extractionRepo.Create(context.Background(), extractions.Extraction{
		ID:         "extraction-1",
		DocumentID: "doc-1",
		FileName:   "deck.pdf",
		Status:     extractions.StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed extraction: %v", err)
	}

	orchestrator := &extractions.Orchestrator{
		Planner:   &extractions.Planner{},
		Breakers:  resilience.NewRegistry(nil),
		Adapters:  map[string]providers.Adapter{extractions.MethodText: &fakeAdapter{text: `{"businessName":"Acme Industrial","purchasePrice":2400000,"confidence":85}`}},
		Retry:     resilience.DefaultRetryPolicy(),
		Optimizer: payload.NewOptimizer(payload.DefaultConfig(), nil),
		Score:     extractions.DefaultScorer,
		Prompt:    "extract",
		ExtractText: func(ctx context.Context, fileBytes []byte, fileName string) (string, error) {
			return "Acme Industrial CIM text", nil
		},
	}

	svc := &extractions.Service{
		Repo:         extractionRepo,
		DocRepo:      docRepo,
		Store:        store,
		Orchestrator: orchestrator,
	}
	return &bootstrap.App{ExtractionsService: svc}, extractionRepo
}

func TestWorkerProcessesAndDeletesMessage(t *testing.T) {
	client := &fakeSQS{}
	app, repo := testApp(t)

	msgBody, _ := queue.EncodeMessage(queue.Message{ExtractionID: "extraction-1", RequestID: "req-1", Version: 1})
	msg := sqstypes.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(string(msgBody)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}

	handleMessage(context.Background(), app, client, "queue", msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
	extraction, err := repo.GetByID(context.Background(), "extraction-1")
	if err != nil {
		t.Fatalf("get extraction: %v", err)
	}
	if extraction.Status != extractions.StatusCompleted {
		t.Fatalf("status = %s error = %s", extraction.Status, extraction.ErrorMessage)
	}
	if extraction.Result == nil {
		t.Fatal("expected result payload")
	}
}

func TestWorkerDeletesMalformedMessage(t *testing.T) {
	client := &fakeSQS{}
	app, _ := testApp(t)

	msg := sqstypes.Message{
		MessageId:     aws.String("m2"),
		ReceiptHandle: aws.String("r2"),
		Body:          aws.String("not-json"),
	}

	handleMessage(context.Background(), app, client, "queue", msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected malformed message deleted, got %d", len(client.deleted))
	}
}

func TestWorkerLeavesMessageOnProcessFailure(t *testing.T) {
	client := &fakeSQS{}
	app, _ := testApp(t)

	msgBody, _ := queue.EncodeMessage(queue.Message{ExtractionID: "missing-extraction", RequestID: "req-2", Version: 1})
	msg := sqstypes.Message{
		MessageId:     aws.String("m3"),
		ReceiptHandle: aws.String("r3"),
		Body:          aws.String(string(msgBody)),
	}

	handleMessage(context.Background(), app, client, "queue", msg)

	if len(client.deleted) != 0 {
		t.Fatalf("expected failed message left on queue, got %d deletes", len(client.deleted))
	}
}
