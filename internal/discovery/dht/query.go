package dht

import (
	"container/heap"
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              查询函数
// ============================================================================

// QueryResult 单个节点的查询结果
type QueryResult struct {
	// Success 为 true 时整个查询立即结束
	Success bool

	// CloserPeers 对端返回的更近节点
	CloserPeers []types.PeerInfo

	// Peer 查找到的目标节点
	Peer *types.PeerInfo

	// ProviderPeers 对端返回的 Provider
	ProviderPeers []types.PeerInfo

	// Record 对端返回的记录
	Record *Record
}

// QueryFunc 对单个节点执行查询
type QueryFunc func(ctx context.Context, p types.PeerID) (*QueryResult, error)

// QueryRunResult 查询运行结果
type QueryRunResult struct {
	// FinalSet 本次运行见过的全部节点（按发现顺序）
	FinalSet []types.PeerID

	// Success 成功节点的结果，未成功时为 nil
	Success *QueryResult

	// Errors 查询失败的节点数
	Errors int
}

// ============================================================================
//                              查询
// ============================================================================

// query 有界并发的迭代查询
//
// 每次运行的状态独立：peersSeen 去重，frontier 按到目标的距离排序。
type query struct {
	id          uuid.UUID
	key         []byte
	target      Key
	self        types.PeerID
	concurrency int
	fn          QueryFunc
	clk         clock.Clock

	// onPeers 收到更近节点时回调（记录地址）
	onPeers func([]types.PeerInfo)
}

// newQuery 创建查询
func newQuery(self types.PeerID, key []byte, concurrency int, fn QueryFunc) *query {
	if concurrency <= 0 {
		concurrency = Alpha
	}
	return &query{
		id:          uuid.New(),
		key:         key,
		target:      ConvertKey(key),
		self:        self,
		concurrency: concurrency,
		fn:          fn,
		clk:         clock.New(),
	}
}

// runState 单次运行状态
type runState struct {
	seen     map[types.PeerID]struct{}
	order    []types.PeerID
	frontier *peerHeap
	errs     []error
}

func (st *runState) addPeer(self, p types.PeerID) {
	if p == self || p.IsEmpty() {
		return
	}
	if _, ok := st.seen[p]; ok {
		return
	}
	st.seen[p] = struct{}{}
	st.order = append(st.order, p)
	heap.Push(st.frontier, p)
}

func (st *runState) result(success *QueryResult) *QueryRunResult {
	return &QueryRunResult{FinalSet: st.order, Success: success, Errors: len(st.errs)}
}

// workerResult 单个节点的查询结果
type workerResult struct {
	peer types.PeerID
	res  *QueryResult
	err  error
}

// Run 从种子节点开始执行查询
//
// 任一节点返回 Success 即取消其余工作并返回；frontier 耗尽且无在途请求时结束。
// 所有见过的节点都失败时返回第一个错误；ctx 超时返回 ErrTimeout 与已有结果。
func (q *query) Run(ctx context.Context, seeds []types.PeerID) (res *QueryRunResult, err error) {
	ctx, span := startSpan(ctx, "query.run", trace.WithAttributes(
		attribute.String("query.id", q.id.String()),
		attribute.Int("query.seeds", len(seeds)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := q.clk.Now()
	st := &runState{
		seen:     make(map[types.PeerID]struct{}),
		frontier: &peerHeap{target: q.target},
	}
	for _, p := range seeds {
		st.addPeer(q.self, p)
	}

	logger.Debug("开始 DHT 查询", "query", q.id, "seeds", len(st.order), "concurrency", q.concurrency)

	results := make(chan workerResult)
	active := 0

	for {
		for active < q.concurrency && st.frontier.Len() > 0 {
			p := heap.Pop(st.frontier).(types.PeerID)
			active++
			go func(p types.PeerID) {
				res, err := q.fn(ctx, p)
				select {
				case results <- workerResult{peer: p, res: res, err: err}:
				case <-ctx.Done():
				}
			}(p)
		}
		if active == 0 {
			break
		}

		select {
		case r := <-results:
			active--
			if r.err != nil {
				st.errs = append(st.errs, r.err)
				logger.Debug("查询节点失败", "query", q.id, "peer", r.peer.ShortString(), "error", r.err)
				continue
			}
			if r.res == nil {
				continue
			}
			if r.res.Success {
				cancel()
				logger.Debug("DHT 查询成功", "query", q.id, "peer", r.peer.ShortString(),
					"seen", len(st.order), "duration", q.clk.Since(start))
				return st.result(r.res), nil
			}
			if len(r.res.CloserPeers) > 0 && q.onPeers != nil {
				q.onPeers(r.res.CloserPeers)
			}
			for _, pi := range r.res.CloserPeers {
				st.addPeer(q.self, pi.ID)
			}
		case <-ctx.Done():
			logger.Debug("DHT 查询中止", "query", q.id, "seen", len(st.order), "error", ctx.Err())
			return st.result(nil), timeoutError(ctx, ctx.Err())
		}
	}

	span.SetAttributes(attribute.Int("query.seen", len(st.order)), attribute.Int("query.errors", len(st.errs)))
	logger.Debug("DHT 查询结束", "query", q.id, "seen", len(st.order), "errors", len(st.errs),
		"duration", q.clk.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return st.result(nil), timeoutError(ctx, ctxErr)
	}
	if len(st.order) > 0 && len(st.errs) == len(st.order) {
		return st.result(nil), st.errs[0]
	}
	return st.result(nil), nil
}

// ============================================================================
//                              距离堆
// ============================================================================

// peerHeap 按到 target 的距离排序的最小堆
type peerHeap struct {
	target Key
	peers  []types.PeerID
	keys   []Key
}

func (h *peerHeap) Len() int { return len(h.peers) }

func (h *peerHeap) Less(i, j int) bool {
	return CompareDistance(h.keys[i], h.keys[j], h.target) < 0
}

func (h *peerHeap) Swap(i, j int) {
	h.peers[i], h.peers[j] = h.peers[j], h.peers[i]
	h.keys[i], h.keys[j] = h.keys[j], h.keys[i]
}

func (h *peerHeap) Push(x any) {
	p := x.(types.PeerID)
	h.peers = append(h.peers, p)
	h.keys = append(h.keys, ConvertPeerID(p))
}

func (h *peerHeap) Pop() any {
	n := len(h.peers)
	p := h.peers[n-1]
	h.peers = h.peers[:n-1]
	h.keys = h.keys[:n-1]
	return p
}
