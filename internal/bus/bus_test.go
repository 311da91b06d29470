package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// waitCount polls until the counter reaches want or the deadline passes.
// Delivery is asynchronous, so tests settle instead of sleeping fixed
// amounts.
func waitCount(t *testing.T, c *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: counted %d, want %d", c.Load(), want)
}

// settle gives in-flight deliveries a moment to land before asserting
// that nothing more arrives.
func settle() { time.Sleep(50 * time.Millisecond) }

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	const tenant = "acct-firm-001"

	t.Run("DeliversToSubscriber", func(t *testing.T) {
		msgCh := make(chan *domain.Message, 1)

		if _, err := b.Subscribe(ctx, tenant, domain.TopicScoreUpdated, func(ctx context.Context, msg *domain.Message) error {
			msgCh <- msg
			return nil
		}); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, tenant, domain.TopicScoreUpdated, []byte(`{"score":42}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-msgCh:
			if string(msg.Payload) != `{"score":42}` {
				t.Errorf("unexpected payload %q", msg.Payload)
			}
			if msg.TenantID != tenant {
				t.Errorf("expected tenant %q, got %q", tenant, msg.TenantID)
			}
			if msg.Topic != domain.TopicScoreUpdated {
				t.Errorf("expected topic %q, got %q", domain.TopicScoreUpdated, msg.Topic)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantsDoNotCross", func(t *testing.T) {
		var gotA, gotB atomic.Int32

		b.Subscribe(ctx, "acct-firm-a", "isolation.check", func(ctx context.Context, msg *domain.Message) error {
			gotA.Add(1)
			return nil
		})
		b.Subscribe(ctx, "acct-firm-b", "isolation.check", func(ctx context.Context, msg *domain.Message) error {
			gotB.Add(1)
			return nil
		})

		b.Publish(ctx, "acct-firm-a", "isolation.check", []byte("only-a"))

		waitCount(t, &gotA, 1)
		settle()
		if gotB.Load() != 0 {
			t.Errorf("message leaked across tenants: %d deliveries", gotB.Load())
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if err := b.Publish(ctx, "", "topic", []byte("x")); err == nil {
			t.Error("publish without tenant should fail")
		}
		if _, err := b.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		}); err == nil {
			t.Error("subscribe without tenant should fail")
		}
	})

	t.Run("UnsubscribeStopsDeliveryAndDeregisters", func(t *testing.T) {
		var got atomic.Int32

		sub, err := b.Subscribe(ctx, tenant, "unsub.check", func(ctx context.Context, msg *domain.Message) error {
			got.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		b.Publish(ctx, tenant, "unsub.check", []byte("before"))
		waitCount(t, &got, 1)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		b.mu.RLock()
		remaining := len(b.subs[subKey(tenant, "unsub.check")])
		b.mu.RUnlock()
		if remaining != 0 {
			t.Errorf("expected subscription removed from registry, %d left", remaining)
		}

		b.Publish(ctx, tenant, "unsub.check", []byte("after"))
		settle()
		if got.Load() != 1 {
			t.Errorf("received %d messages after unsubscribe, want 1 total", got.Load())
		}
	})

	t.Run("BroadcastReachesAllSubscribers", func(t *testing.T) {
		var first, second atomic.Int32

		b.Subscribe(ctx, tenant, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			first.Add(1)
			return nil
		})
		b.Subscribe(ctx, tenant, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			second.Add(1)
			return nil
		})

		b.Publish(ctx, tenant, domain.TopicAlert, []byte("high severity"))

		waitCount(t, &first, 1)
		waitCount(t, &second, 1)
	})

	t.Run("SubscriptionReportsTopic", func(t *testing.T) {
		sub, _ := b.Subscribe(ctx, tenant, "topic.check", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != "topic.check" {
			t.Errorf("expected topic %q, got %q", "topic.check", sub.Topic())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	b.Subscribe(ctx, "acct-firm-001", "close.check", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := b.Publish(ctx, "acct-firm-001", "close.check", []byte("x")); err == nil {
		t.Error("publish on closed bus should fail")
	}
	if _, err := b.Subscribe(ctx, "acct-firm-001", "close.check", nil); err == nil {
		t.Error("subscribe on closed bus should fail")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("ping on closed bus should fail")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported bus type")
		}
	})
}

func TestEvaluationJobRoundTrip(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()
	jobCh := make(chan domain.EvaluationJob, 1)

	_, err := b.Subscribe(ctx, "acct-firm-001", domain.TopicDocumentEvaluate, func(ctx context.Context, msg *domain.Message) error {
		var job domain.EvaluationJob
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			return err
		}
		jobCh <- job
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	payload, _ := json.Marshal(domain.EvaluationJob{TenantID: "acct-firm-001", DocumentID: "doc-42"})
	if err := b.Publish(ctx, "acct-firm-001", domain.TopicDocumentEvaluate, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case job := <-jobCh:
		if job.TenantID != "acct-firm-001" || job.DocumentID != "doc-42" {
			t.Errorf("job round trip mangled payload: %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for evaluation job")
	}
}

func TestChannelBusBurst(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()

	ctx := context.Background()
	const burst = 200

	var got atomic.Int32
	b.Subscribe(ctx, "acct-firm-load", "burst.check", func(ctx context.Context, msg *domain.Message) error {
		got.Add(1)
		return nil
	})

	for i := 0; i < burst; i++ {
		if err := b.Publish(ctx, "acct-firm-load", "burst.check", []byte("tick")); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	waitCount(t, &got, burst)
}
