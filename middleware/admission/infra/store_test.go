package infra

import (
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func TestStore_SamePartitionReturnsSameLimiter(t *testing.T) {
	s := NewStore()
	p := fixedPolicy(5, time.Minute)

	l1 := s.GetOrCreate(p, domain.Key("ip:1.1.1.1"))
	l2 := s.GetOrCreate(p, domain.Key("ip:1.1.1.1"))
	if l1 != l2 {
		t.Fatalf("expected same limiter for same (policy, key)")
	}

	other := s.GetOrCreate(p, domain.Key("ip:2.2.2.2"))
	if other == l1 {
		t.Fatalf("expected distinct partition per key")
	}
}

func TestStore_PoliciesDoNotSharePartitions(t *testing.T) {
	s := NewStore()
	a := fixedPolicy(5, time.Minute)
	b := semPolicy(1, 0)
	b.Name = "other"

	la := s.GetOrCreate(a, domain.Key("ip:1.1.1.1"))
	lb := s.GetOrCreate(b, domain.Key("ip:1.1.1.1"))
	if la == lb {
		t.Fatalf("expected same key to be namespaced per policy")
	}
	if s.Size() != 2 {
		t.Fatalf("expected 2 partitions, got %d", s.Size())
	}
}

func TestStore_SweepEvictsIdleAndRecreatesFresh(t *testing.T) {
	s := NewStore(WithRetention(time.Minute))
	p := fixedPolicy(1, time.Hour)
	key := domain.Key("ip:1.1.1.1")

	before := s.GetOrCreate(p, key)
	if out := before.TryAcquire(time.Now()); out.Verdict != domain.VerdictAdmit {
		t.Fatalf("expected admit on fresh state")
	}

	s.Sweep(time.Now().Add(2 * time.Minute))
	if s.Size() != 0 {
		t.Fatalf("expected idle partition evicted")
	}

	// recriada zerada: a contagem anterior não sobrevive
	after := s.GetOrCreate(p, key)
	if after == before {
		t.Fatalf("expected a fresh limiter after eviction")
	}
	if out := after.TryAcquire(time.Now()); out.Verdict != domain.VerdictAdmit {
		t.Fatalf("expected zeroed state to admit")
	}
}

func TestStore_SweepSkipsPartitionWithLease(t *testing.T) {
	s := NewStore(WithRetention(time.Minute))
	p := semPolicy(1, 0)

	lim := s.GetOrCreate(p, domain.Key("ip:1.1.1.1"))
	out := lim.TryAcquire(time.Now())
	if out.Verdict != domain.VerdictAdmit {
		t.Fatalf("expected admit")
	}

	s.Sweep(time.Now().Add(time.Hour))
	if s.Size() != 1 {
		t.Fatalf("partition with outstanding lease must survive sweep")
	}

	out.Lease.Release()
	s.Sweep(time.Now().Add(time.Hour))
	if s.Size() != 0 {
		t.Fatalf("expected eviction once the lease was released")
	}
}

func TestStore_SweepSkipsPartitionWithQueuedWaiter(t *testing.T) {
	s := NewStore(WithRetention(time.Minute))
	p := slidingPolicy(1, 10*time.Second, 5, 2)
	now := time.Unix(1000, 0)

	lim := s.GetOrCreate(p, domain.Key("ip:1.1.1.1"))
	lim.TryAcquire(now)
	queued := lim.TryAcquire(now)
	if queued.Verdict != domain.VerdictQueue {
		t.Fatalf("expected queue")
	}

	s.Sweep(time.Now().Add(time.Hour))
	if s.Size() != 1 {
		t.Fatalf("partition with non-empty queue must survive sweep")
	}

	queued.Waiter.Cancel()
	s.Sweep(time.Now().Add(time.Hour))
	if s.Size() != 0 {
		t.Fatalf("expected eviction once the queue emptied")
	}
}

func TestStore_StopDrainsEveryPartition(t *testing.T) {
	s := NewStore()
	p := semPolicy(1, 5)

	lim := s.GetOrCreate(p, domain.Key("ip:1.1.1.1"))
	lim.TryAcquire(time.Now())
	queued := lim.TryAcquire(time.Now())

	s.Stop()
	select {
	case g := <-queued.Waiter.Ready():
		if !g.Stopped {
			t.Fatalf("expected stopped grant, got %+v", g)
		}
	default:
		t.Fatalf("expected queued waiter drained on store stop")
	}
}
