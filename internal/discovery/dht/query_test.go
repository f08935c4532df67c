package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/pkg/types"
)

var testQueryKey = []byte("/test/query-target")

// dispatchLog 记录查询函数的调用顺序
type dispatchLog struct {
	mu    sync.Mutex
	peers []types.PeerID
}

func (l *dispatchLog) add(p types.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers = append(l.peers, p)
}

func (l *dispatchLog) list() []types.PeerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.PeerID(nil), l.peers...)
}

// sortedSeeds 生成 n 个节点并按到查询目标的距离排序
func sortedSeeds(t *testing.T, n int) []types.PeerID {
	t.Helper()
	return SortByDistance(newTestPeerIDs(t, n), ConvertKey(testQueryKey))
}

// ============================================================================
// 提前结束
// ============================================================================

// TestQuery_SuccessStopsDispatch 测试成功后不再派发 frontier 中的节点
func TestQuery_SuccessStopsDispatch(t *testing.T) {
	seeds := sortedSeeds(t, 10)
	var log dispatchLog

	q := newQuery(newTestPeerID(t), testQueryKey, 3, func(ctx context.Context, p types.PeerID) (*QueryResult, error) {
		log.add(p)
		if p == seeds[1] {
			return &QueryResult{Success: true}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := q.Run(context.Background(), seeds)
	require.NoError(t, err)
	require.NotNil(t, res.Success)
	assert.True(t, res.Success.Success)

	for _, p := range log.list() {
		assert.Contains(t, seeds[:3], p)
	}
	t.Log("✅ 成功后立即结束，未派发其余节点")
}

// TestQuery_SuccessSequential 测试串行查询时第二个节点成功
func TestQuery_SuccessSequential(t *testing.T) {
	seeds := sortedSeeds(t, 10)
	var log dispatchLog

	q := newQuery(newTestPeerID(t), testQueryKey, 1, func(_ context.Context, p types.PeerID) (*QueryResult, error) {
		log.add(p)
		if len(log.list()) == 2 {
			return &QueryResult{Success: true}, nil
		}
		return &QueryResult{}, nil
	})

	res, err := q.Run(context.Background(), seeds)
	require.NoError(t, err)
	require.NotNil(t, res.Success)
	assert.Equal(t, seeds[:2], log.list())
}

// ============================================================================
// 失败聚合
// ============================================================================

// TestQuery_AllFailedReturnsFirstError 测试全部失败时返回第一个错误
func TestQuery_AllFailedReturnsFirstError(t *testing.T) {
	seeds := sortedSeeds(t, 5)
	errs := make(map[types.PeerID]error, len(seeds))
	for i, p := range seeds {
		errs[p] = fmt.Errorf("peer %d failed", i)
	}

	q := newQuery(newTestPeerID(t), testQueryKey, 1, func(_ context.Context, p types.PeerID) (*QueryResult, error) {
		return nil, errs[p]
	})

	res, err := q.Run(context.Background(), seeds)
	require.Error(t, err)
	assert.Same(t, errs[seeds[0]], err)
	assert.Equal(t, len(seeds), res.Errors)
}

// TestQuery_PartialFailureIsNotError 测试部分失败不视为错误
func TestQuery_PartialFailureIsNotError(t *testing.T) {
	seeds := sortedSeeds(t, 4)
	q := newQuery(newTestPeerID(t), testQueryKey, 2, func(_ context.Context, p types.PeerID) (*QueryResult, error) {
		if p == seeds[0] {
			return &QueryResult{}, nil
		}
		return nil, errors.New("unreachable")
	})

	res, err := q.Run(context.Background(), seeds)
	require.NoError(t, err)
	assert.Nil(t, res.Success)
	assert.Equal(t, 3, res.Errors)
	assert.Len(t, res.FinalSet, 4)
}

// ============================================================================
// 并发上限
// ============================================================================

// TestQuery_BoundedConcurrency 测试同时在途的调用不超过并发度
func TestQuery_BoundedConcurrency(t *testing.T) {
	seeds := sortedSeeds(t, 10)
	var inFlight, maxInFlight, calls atomic.Int32

	q := newQuery(newTestPeerID(t), testQueryKey, 3, func(ctx context.Context, _ types.PeerID) (*QueryResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		calls.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
		}
		return &QueryResult{}, nil
	})

	_, err := q.Run(context.Background(), seeds)
	require.NoError(t, err)
	assert.Equal(t, int32(10), calls.Load())
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))
	assert.Equal(t, int32(3), maxInFlight.Load())
}

// ============================================================================
// frontier
// ============================================================================

// TestQuery_DeduplicatesSeeds 测试种子去重并跳过本节点
func TestQuery_DeduplicatesSeeds(t *testing.T) {
	self := newTestPeerID(t)
	seeds := sortedSeeds(t, 3)
	var log dispatchLog

	q := newQuery(self, testQueryKey, 3, func(_ context.Context, p types.PeerID) (*QueryResult, error) {
		log.add(p)
		return &QueryResult{}, nil
	})

	input := append(append([]types.PeerID{self}, seeds...), seeds...)
	res, err := q.Run(context.Background(), input)
	require.NoError(t, err)
	assert.ElementsMatch(t, seeds, log.list())
	assert.Len(t, res.FinalSet, 3)
}

// TestQuery_FollowsCloserPeers 测试更近节点加入 frontier
func TestQuery_FollowsCloserPeers(t *testing.T) {
	self := newTestPeerID(t)
	seed := newTestPeerID(t)
	discovered := newTestPeerIDs(t, 4)
	var log dispatchLog
	var reported []types.PeerInfo

	q := newQuery(self, testQueryKey, 1, func(_ context.Context, p types.PeerID) (*QueryResult, error) {
		log.add(p)
		if p != seed {
			return &QueryResult{}, nil
		}
		closer := []types.PeerInfo{{ID: self}, {ID: seed}}
		for _, d := range discovered {
			closer = append(closer, types.PeerInfo{ID: d})
		}
		return &QueryResult{CloserPeers: closer}, nil
	})
	q.onPeers = func(infos []types.PeerInfo) { reported = append(reported, infos...) }

	res, err := q.Run(context.Background(), []types.PeerID{seed})
	require.NoError(t, err)

	// 本节点与已见节点不会再次派发
	calls := log.list()
	assert.Len(t, calls, 5)
	assert.Equal(t, seed, calls[0])
	assert.Equal(t, SortByDistance(append([]types.PeerID(nil), discovered...), ConvertKey(testQueryKey)), calls[1:])
	assert.Len(t, res.FinalSet, 5)
	assert.Len(t, reported, 6)
}

// TestQuery_Timeout 测试超时返回 ErrTimeout
func TestQuery_Timeout(t *testing.T) {
	seeds := sortedSeeds(t, 3)
	q := newQuery(newTestPeerID(t), testQueryKey, 3, func(ctx context.Context, _ types.PeerID) (*QueryResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := q.Run(ctx, seeds)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestQuery_NoSeeds 测试没有种子时立即结束
func TestQuery_NoSeeds(t *testing.T) {
	q := newQuery(newTestPeerID(t), testQueryKey, 3, func(context.Context, types.PeerID) (*QueryResult, error) {
		t.Fatal("unexpected dispatch")
		return nil, nil
	})
	res, err := q.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.FinalSet)
}
