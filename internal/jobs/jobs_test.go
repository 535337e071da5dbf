package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
)

type fakeCreator struct {
	err   error
	calls []LinkRetryPayload
}

func (f *fakeCreator) CreateFromToken(_ context.Context, token, ownerID string, _ pipeline.Overrides) (pipeline.CreateResult, error) {
	f.calls = append(f.calls, LinkRetryPayload{Token: token, OwnerID: ownerID})
	if f.err != nil {
		return pipeline.CreateResult{}, f.err
	}
	return pipeline.CreateResult{Token: token, Entry: &entity.LedgerEntry{ID: "entry-1"}}, nil
}

func TestLinkRetryTaskPayload(t *testing.T) {
	task, err := NewLinkRetryTask("tok", "owner-a")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != LinkRetryTask {
		t.Fatalf("unexpected type %q", task.Type())
	}
	var p LinkRetryPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.Token != "tok" || p.OwnerID != "owner-a" {
		t.Fatalf("unexpected payload %+v, %v", p, err)
	}
}

func TestHandleLinkRetry(t *testing.T) {
	task, _ := NewLinkRetryTask("tok", "owner-a")
	cases := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{"linked", nil, false, false},
		{"already linked", common.ErrAlreadyLinked, false, false},
		{"expired", common.ErrNotFoundOrExpired, true, true},
		{"invalid", common.NewAppError("VALIDATION_ERROR", "amount must be positive", common.ErrValidation), true, true},
		{"ledger down", common.ErrLedgerUnavailable, true, false},
	}
	for _, tc := range cases {
		creator := &fakeCreator{err: tc.err}
		err := NewProcessor(creator, nil).handleLinkRetry(context.Background(), task)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if errors.Is(err, asynq.SkipRetry) != tc.skipRetry {
			t.Fatalf("%s: skip retry = %v, want %v", tc.name, errors.Is(err, asynq.SkipRetry), tc.skipRetry)
		}
		if len(creator.calls) != 1 || creator.calls[0].Token != "tok" {
			t.Fatalf("%s: unexpected calls %+v", tc.name, creator.calls)
		}
	}

	bad := asynq.NewTask(LinkRetryTask, []byte("{"))
	if err := NewProcessor(&fakeCreator{}, nil).handleLinkRetry(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("undecodable payload must not be retried, got %v", err)
	}
}
