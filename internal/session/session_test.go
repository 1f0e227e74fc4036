package session

import (
	"sync"
	"testing"

	"DeFAI-Gateway/internal/wallet"
	"DeFAI-Gateway/internal/web3"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore()

	sess := store.Create()
	if sess.ID() == "" {
		t.Fatalf("session id should not be empty")
	}

	found, err := store.Get(sess.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != sess {
		t.Fatalf("expected the same session instance")
	}

	if _, err := store.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestGetOrCreate(t *testing.T) {
	store := NewStore()

	first := store.GetOrCreate("")
	if first == nil {
		t.Fatalf("empty id should create a session")
	}

	same := store.GetOrCreate(first.ID())
	if same != first {
		t.Fatalf("existing id should return the same session")
	}

	fresh := store.GetOrCreate("does-not-exist")
	if fresh == first {
		t.Fatalf("unknown id should create a new session")
	}
}

func TestQueueFIFOAndAtomicAppend(t *testing.T) {
	store := NewStore()
	sess := store.Create()

	sess.Enqueue(
		QueuedTx{Tx: &web3.TxParams{Gas: 1}, Description: "wrap"},
		QueuedTx{Tx: &web3.TxParams{Gas: 2}, Description: "approve"},
		QueuedTx{Tx: &web3.TxParams{Gas: 3}, Description: "swap"},
	)
	if sess.PendingCount() != 3 {
		t.Fatalf("expected 3 queued txs, got %d", sess.PendingCount())
	}

	head, ok := sess.Peek()
	if !ok || head.Description != "wrap" {
		t.Fatalf("peek should return the first tx, got %+v", head)
	}

	for _, expected := range []string{"wrap", "approve", "swap"} {
		item, ok := sess.Dequeue()
		if !ok || item.Description != expected {
			t.Fatalf("expected %q, got %+v", expected, item)
		}
	}
	if _, ok := sess.Dequeue(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestResetKeepsIDDropsState(t *testing.T) {
	store := NewStore()
	sess := store.Create()

	account, err := wallet.Generate()
	if err != nil {
		t.Fatalf("failed to generate wallet: %v", err)
	}
	sess.BindAccount(account)
	sess.Enqueue(QueuedTx{Tx: &web3.TxParams{}, Description: "send"})

	fresh, err := store.Reset(sess.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh.ID() != sess.ID() {
		t.Fatalf("reset should keep the session id")
	}
	if fresh.Account() != nil {
		t.Fatalf("reset should drop the wallet")
	}
	if fresh.PendingCount() != 0 {
		t.Fatalf("reset should drop the queue")
	}

	if _, err := store.Reset("missing"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	store := NewStore()
	sess := store.Create()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Enqueue(QueuedTx{Tx: &web3.TxParams{}, Description: "tx"})
		}()
	}
	wg.Wait()

	if sess.PendingCount() != 50 {
		t.Fatalf("expected 50 queued txs, got %d", sess.PendingCount())
	}
}
