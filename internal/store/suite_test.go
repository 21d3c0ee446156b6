package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newMessage(id, waID string, offset time.Duration) *models.Message {
	return &models.Message{
		MsgID:     id,
		WaID:      waID,
		Name:      "Ravi Kumar",
		Text:      "hello " + id,
		Timestamp: baseTime.Add(offset),
		Status:    models.MessageStatusSent,
	}
}

// runStoreSuite exercises the MessageStore contract against any backend.
// prefix keeps ids unique when a shared database is reused between runs.
func runStoreSuite(t *testing.T, s MessageStore, prefix string) {
	t.Helper()
	ctx := context.Background()
	wa := prefix + "919937320320"

	t.Run("upsert is write-once", func(t *testing.T) {
		first := newMessage(prefix+"wamid.1", wa, 0)
		stored, err := s.UpsertMessage(ctx, first)
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if stored.Text != first.Text || stored.Status != models.MessageStatusSent {
			t.Fatalf("unexpected stored message: %+v", stored)
		}

		replay := newMessage(prefix+"wamid.1", wa, time.Hour)
		replay.Text = "changed"
		again, err := s.UpsertMessage(ctx, replay)
		if err != nil {
			t.Fatalf("replayed upsert: %v", err)
		}
		if again.Text != first.Text {
			t.Errorf("replay overwrote text: got %q", again.Text)
		}
		if !again.Timestamp.Equal(first.Timestamp) {
			t.Errorf("replay overwrote timestamp: got %v", again.Timestamp)
		}

		all, err := s.ListByCounterparty(ctx, wa, Ascending)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 message after replay, got %d", len(all))
		}
	})

	t.Run("status updates apply in arrival order", func(t *testing.T) {
		id := prefix + "wamid.1"
		for _, st := range []models.MessageStatus{models.MessageStatusRead, models.MessageStatusDelivered} {
			if _, err := s.UpdateStatus(ctx, id, st); err != nil {
				t.Fatalf("update %s: %v", st, err)
			}
		}
		msgs, err := s.ListByCounterparty(ctx, wa, Ascending)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if msgs[0].Status != models.MessageStatusDelivered {
			t.Errorf("status = %s, want delivered", msgs[0].Status)
		}
		if msgs[0].Text != "hello "+id {
			t.Errorf("status update touched text: %q", msgs[0].Text)
		}
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := s.UpdateStatus(ctx, prefix+"missing", models.MessageStatusRead)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		msgs, _ := s.ListByCounterparty(ctx, wa, Ascending)
		for _, m := range msgs {
			if m.MsgID == prefix+"missing" {
				t.Fatal("status update created a message")
			}
		}
	})

	t.Run("mark read counts and is idempotent", func(t *testing.T) {
		for i := 2; i <= 4; i++ {
			if _, err := s.UpsertMessage(ctx, newMessage(fmt.Sprintf("%swamid.%d", prefix, i), wa, time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		unread, err := s.CountUnread(ctx, wa)
		if err != nil {
			t.Fatalf("count unread: %v", err)
		}
		if unread != 4 {
			t.Fatalf("unread = %d, want 4", unread)
		}

		n, err := s.MarkAllRead(ctx, wa)
		if err != nil {
			t.Fatalf("mark read: %v", err)
		}
		if n != 4 {
			t.Errorf("first mark read modified %d, want 4", n)
		}
		n, err = s.MarkAllRead(ctx, wa)
		if err != nil {
			t.Fatalf("mark read again: %v", err)
		}
		if n != 0 {
			t.Errorf("second mark read modified %d, want 0", n)
		}
		if unread, _ := s.CountUnread(ctx, wa); unread != 0 {
			t.Errorf("unread after mark = %d", unread)
		}
	})

	t.Run("pages newest window first, oldest to newest inside", func(t *testing.T) {
		paged := prefix + "918000000000"
		for i := 0; i < 120; i++ {
			if _, err := s.UpsertMessage(ctx, newMessage(fmt.Sprintf("%sp.%03d", prefix, i), paged, time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("upsert %d: %v", i, err)
			}
		}

		first, total, err := s.Page(ctx, paged, 1, 50)
		if err != nil {
			t.Fatalf("page 1: %v", err)
		}
		if total != 120 {
			t.Fatalf("total = %d, want 120", total)
		}
		if len(first) != 50 {
			t.Fatalf("page 1 size = %d", len(first))
		}
		if first[0].MsgID != prefix+"p.070" || first[49].MsgID != prefix+"p.119" {
			t.Errorf("page 1 spans %s..%s", first[0].MsgID, first[49].MsgID)
		}

		last, _, err := s.Page(ctx, paged, 3, 50)
		if err != nil {
			t.Fatalf("page 3: %v", err)
		}
		if len(last) != 20 || last[0].MsgID != prefix+"p.000" || last[19].MsgID != prefix+"p.019" {
			t.Errorf("page 3 unexpected: len=%d", len(last))
		}

		beyond, _, err := s.Page(ctx, paged, 9, 50)
		if err != nil {
			t.Fatalf("page 9: %v", err)
		}
		if len(beyond) != 0 {
			t.Errorf("page past end returned %d messages", len(beyond))
		}

		huge, hugeTotal, err := s.Page(ctx, paged, 100000000000000000, 100)
		if err != nil {
			t.Fatalf("huge page: %v", err)
		}
		if len(huge) != 0 || hugeTotal != 120 {
			t.Errorf("huge page: len=%d total=%d", len(huge), hugeTotal)
		}
	})

	t.Run("list all is ascending", func(t *testing.T) {
		all, err := s.ListAll(ctx)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		for i := 1; i < len(all); i++ {
			if all[i].Timestamp.Before(all[i-1].Timestamp) {
				t.Fatalf("list all out of order at %d", i)
			}
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}
