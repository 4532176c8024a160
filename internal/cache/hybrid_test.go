package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"runhub/internal/platform/metrics"
)

func newTestHybrid() *Hybrid {
	return NewHybrid(DefaultConfig(), metrics.NewCollector())
}

// TestGetOrComputeHitAfterMiss 首次计算，二次命中
func TestGetOrComputeHitAfterMiss(t *testing.T) {
	h := newTestHybrid()
	ctx := context.Background()

	compute := func(context.Context) ([]byte, error) { return []byte("result"), nil }

	val, hit, err := h.GetOrCompute(ctx, "k1", string(ContentRunbook), compute)
	if err != nil || hit {
		t.Fatalf("first call must miss: hit=%v err=%v", hit, err)
	}
	if string(val) != "result" {
		t.Fatalf("unexpected value %q", val)
	}

	val, hit, err = h.GetOrCompute(ctx, "k1", string(ContentRunbook), compute)
	if err != nil || !hit {
		t.Fatalf("second call must hit: hit=%v err=%v", hit, err)
	}
	if string(val) != "result" {
		t.Fatalf("unexpected cached value %q", val)
	}
}

// TestGetOrComputeSingleFlight 同 key 并发未命中只计算一次
func TestGetOrComputeSingleFlight(t *testing.T) {
	h := newTestHybrid()
	var calls atomic.Int64

	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, _, err := h.GetOrCompute(context.Background(), "hot-key", string(ContentKnowledge), compute)
			if err != nil {
				t.Errorf("concurrent get failed: %v", err)
				return
			}
			if string(val) != "shared" {
				t.Errorf("unexpected value %q", val)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 compute for 20 concurrent misses, got %d", n)
	}
	t.Logf("✅ Single-flight merged 20 concurrent misses into 1 compute")
}

// TestGetOrComputeCallerCancel 调用方取消不终止在途计算
func TestGetOrComputeCallerCancel(t *testing.T) {
	h := newTestHybrid()
	computeDone := make(chan struct{})

	compute := func(ctx context.Context) ([]byte, error) {
		defer close(computeDone)
		select {
		case <-time.After(100 * time.Millisecond):
			return []byte("late"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := h.GetOrCompute(ctx, "slow-key", string(ContentWeb), compute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("caller should observe its own deadline, got %v", err)
	}

	// 计算继续并成功完成（留给其他等待者）
	select {
	case <-computeDone:
	case <-time.After(time.Second):
		t.Fatal("compute should keep running after caller cancel")
	}
	// 等回填完成
	time.Sleep(100 * time.Millisecond)

	val, hit, err := h.GetOrCompute(context.Background(), "slow-key", string(ContentWeb), compute)
	if err != nil || !hit || string(val) != "late" {
		t.Fatalf("abandoned flight result should be cached: hit=%v val=%q err=%v", hit, val, err)
	}
	t.Logf("✅ Caller cancel left flight running, result cached")
}

// TestStatsCountCancelledCalls 调用方取消的操作也计入统计
func TestStatsCountCancelledCalls(t *testing.T) {
	h := newTestHybrid()
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := h.GetOrCompute(ctx, "cancel-key", string(ContentKnowledge), func(context.Context) ([]byte, error) {
		<-release
		return []byte("v"), nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	s := h.Stats()
	if s.TotalOperations != 1 {
		t.Fatalf("cancelled call must be counted, total_operations=%d", s.TotalOperations)
	}
	if ts := s.ByContentType[string(ContentKnowledge)]; ts.Misses != 1 {
		t.Fatalf("cancelled call must count as a miss, got %+v", ts)
	}
}

// TestEntryTTLNotExtendedByReads 命中不延长过期时间
func TestEntryTTLNotExtendedByReads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTLSeconds = map[string]int{string(ContentWeb): 1}
	h := NewHybrid(cfg, metrics.NewCollector())
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(fmt.Sprintf("v%d", calls.Load())), nil
	}

	h.GetOrCompute(ctx, "ttl-key", string(ContentWeb), compute)

	// 持续读取也不能把 1 秒 TTL 读成不过期
	deadline := time.Now().Add(1200 * time.Millisecond)
	for time.Now().Before(deadline) {
		h.GetOrCompute(ctx, "ttl-key", string(ContentWeb), compute)
		time.Sleep(100 * time.Millisecond)
	}

	if n := calls.Load(); n < 2 {
		t.Fatalf("entry must expire at fixed TTL despite reads, computes=%d", n)
	}
	t.Logf("✅ TTL fixed at write time, recomputed after expiry")
}

// TestGetOrComputeError 计算失败不写缓存
func TestGetOrComputeError(t *testing.T) {
	h := newTestHybrid()
	ctx := context.Background()

	boom := errors.New("upstream down")
	_, _, err := h.GetOrCompute(ctx, "err-key", string(ContentKnowledge), func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}

	// 下一次仍然计算（失败结果没有被缓存）
	val, hit, err := h.GetOrCompute(ctx, "err-key", string(ContentKnowledge), func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || hit || string(val) != "ok" {
		t.Fatalf("failed compute must not be cached: hit=%v val=%q err=%v", hit, val, err)
	}
}

// fakeRemote 进程内的 RemoteStore 假实现
type fakeRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	errs bool
	gets atomic.Int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.gets.Add(1)
	if f.errs {
		return nil, false, errors.New("remote unreachable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.errs {
		return errors.New("remote unreachable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeRemote) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

// TestRemoteTierHit 远端命中回填本地
func TestRemoteTierHit(t *testing.T) {
	h := newTestHybrid()
	remote := newFakeRemote()
	remote.data["warm"] = []byte("from-remote")
	h.SetRemote(remote)

	val, hit, err := h.GetOrCompute(context.Background(), "warm", string(ContentRunbook), func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run on remote hit")
		return nil, nil
	})
	if err != nil || !hit || string(val) != "from-remote" {
		t.Fatalf("expected remote hit: hit=%v val=%q err=%v", hit, val, err)
	}

	// 回填后本地直接命中，不再访问远端
	before := remote.gets.Load()
	_, hit, _ = h.GetOrCompute(context.Background(), "warm", string(ContentRunbook), nil)
	if !hit {
		t.Fatal("expected local hit after backfill")
	}
	if remote.gets.Load() != before {
		t.Fatal("local hit must not touch the remote tier")
	}
}

// TestRemoteTierDegradation 远端故障透明降级为仅内存
func TestRemoteTierDegradation(t *testing.T) {
	h := newTestHybrid()
	remote := newFakeRemote()
	remote.errs = true
	h.SetRemote(remote)

	val, hit, err := h.GetOrCompute(context.Background(), "k", string(ContentKnowledge), func(context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	if err != nil || hit || string(val) != "computed" {
		t.Fatalf("remote failure must not fail the request: hit=%v err=%v", hit, err)
	}

	// 本地层仍然工作
	_, hit, err = h.GetOrCompute(context.Background(), "k", string(ContentKnowledge), nil)
	if err != nil || !hit {
		t.Fatalf("local tier should serve after remote degradation: hit=%v err=%v", hit, err)
	}
	t.Logf("✅ Remote tier degradation is transparent")
}

// TestInvalidate 双层失效
func TestInvalidate(t *testing.T) {
	h := newTestHybrid()
	remote := newFakeRemote()
	h.SetRemote(remote)
	ctx := context.Background()

	h.GetOrCompute(ctx, "inv", string(ContentRunbook), func(context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	// 等异步远端回写落盘
	time.Sleep(50 * time.Millisecond)

	h.Invalidate(ctx, "inv")

	if _, ok := remote.data["inv"]; ok {
		t.Fatal("invalidate must remove the remote entry")
	}
	_, hit, _ := h.GetOrCompute(ctx, "inv", string(ContentRunbook), func(context.Context) ([]byte, error) {
		return []byte("v2"), nil
	})
	if hit {
		t.Fatal("invalidate must remove the local entry")
	}
}

// TestStats 统计命中率
func TestStats(t *testing.T) {
	h := newTestHybrid()
	ctx := context.Background()
	compute := func(context.Context) ([]byte, error) { return []byte("x"), nil }

	h.GetOrCompute(ctx, "s1", string(ContentRunbook), compute) // miss
	h.GetOrCompute(ctx, "s1", string(ContentRunbook), compute) // hit
	h.GetOrCompute(ctx, "s2", string(ContentWeb), compute)     // miss

	s := h.Stats()
	if s.TotalOperations != 3 {
		t.Fatalf("expected 3 operations, got %d", s.TotalOperations)
	}
	if s.HitRate < 0.33 || s.HitRate > 0.34 {
		t.Fatalf("expected hit rate ~1/3, got %f", s.HitRate)
	}
	if s.MemoryEntries != 2 {
		t.Fatalf("expected 2 memory entries, got %d", s.MemoryEntries)
	}
	rb := s.ByContentType[string(ContentRunbook)]
	if rb.Hits != 1 || rb.Misses != 1 {
		t.Fatalf("unexpected runbook stats: %+v", rb)
	}
}
