package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore(), "")
}

func TestMemoryStoreConcurrentUpsertKeepsOneDocument(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newMessage("wamid.race", "91000", time.Duration(i)*time.Second)
			if _, err := s.UpsertMessage(ctx, m); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, _ := s.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single document, got %d", len(all))
	}
}

func TestMemoryStoreTimestampTiesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.UpsertMessage(ctx, newMessage(id, "91000", 0)); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := s.ListByCounterparty(ctx, "91000", Ascending)
	if msgs[0].MsgID != "a" || msgs[2].MsgID != "c" {
		t.Errorf("unexpected order: %s %s %s", msgs[0].MsgID, msgs[1].MsgID, msgs[2].MsgID)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	stored, _ := s.UpsertMessage(ctx, newMessage("wamid.1", "91000", 0))
	stored.Status = models.MessageStatusRead

	msgs, _ := s.ListAll(ctx)
	if msgs[0].Status != models.MessageStatusSent {
		t.Error("caller mutation leaked into the store")
	}
}
