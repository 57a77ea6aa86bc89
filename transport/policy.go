package transport

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	hostpool "github.com/hailocab/go-hostpool"

	"github.com/scylladb/go-cql-core/frame"
)

// QueryInfo is what a load-balancing policy needs to build a plan for one
// request: its keyspace, optional routing token, and whether it may be
// served by a remote DC under the active consistency level.
type QueryInfo struct {
	Keyspace    string
	Token       Token
	HasToken    bool
	Consistency frame.Consistency
}

// HostIter is the one-shot, non-restartable query plan described in §3/§4.9.
type HostIter interface {
	Next() *Host
}

// LoadBalancingPolicy is the pluggable policy surface of §4.9.
type LoadBalancingPolicy interface {
	Init(connectedHost *Host, allHosts []*Host, localDC string)
	Distance(h *Host) Distance
	OnHostAdded(h *Host)
	OnHostRemoved(h *Host)
	OnHostUp(h *Host)
	OnHostDown(h *Host)
	NewQueryPlan(info QueryInfo, tokenMap *TokenMap) HostIter
}

// --- Round-robin ---------------------------------------------------------

// RoundRobinPolicy rotates through all non-IGNORE hosts.
type RoundRobinPolicy struct {
	mu    sync.Mutex
	hosts []*Host
	next  int
}

func NewRoundRobinPolicy() *RoundRobinPolicy { return &RoundRobinPolicy{} }

func (p *RoundRobinPolicy) Init(_ *Host, all []*Host, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = append([]*Host{}, all...)
}

func (p *RoundRobinPolicy) Distance(*Host) Distance { return Local }

func (p *RoundRobinPolicy) OnHostAdded(h *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = append(p.hosts, h)
}

func (p *RoundRobinPolicy) OnHostRemoved(h *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.hosts {
		if x == h {
			p.hosts = append(p.hosts[:i], p.hosts[i+1:]...)
			return
		}
	}
}

func (p *RoundRobinPolicy) OnHostUp(*Host)   {}
func (p *RoundRobinPolicy) OnHostDown(*Host) {}

func (p *RoundRobinPolicy) NewQueryPlan(_ QueryInfo, _ *TokenMap) HostIter {
	p.mu.Lock()
	hosts := append([]*Host{}, p.hosts...)
	offset := p.next
	p.next = (p.next + 1) % max(1, len(hosts))
	p.mu.Unlock()

	return &sliceIter{hosts: hosts, offset: offset}
}

type sliceIter struct {
	hosts   []*Host
	offset  int
	fetched int
}

func (it *sliceIter) Next() *Host {
	for it.fetched < len(it.hosts) {
		h := it.hosts[(it.offset+it.fetched)%len(it.hosts)]
		it.fetched++
		if h.IsUp() {
			return h
		}
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- DC-aware --------------------------------------------------------------

// DCAwareRoundRobinPolicy emits LOCAL hosts first, then up to
// UsedHostsPerRemoteDC REMOTE hosts, IGNOREing the rest (§4.9).
type DCAwareRoundRobinPolicy struct {
	LocalDC               string
	UsedHostsPerRemoteDC  int

	mu     sync.Mutex
	local  []*Host
	remote []*Host
	next   int
}

func NewDCAwareRoundRobin(localDC string) *DCAwareRoundRobinPolicy {
	return &DCAwareRoundRobinPolicy{LocalDC: localDC, UsedHostsPerRemoteDC: 0}
}

func (p *DCAwareRoundRobinPolicy) Init(connected *Host, all []*Host, localDC string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LocalDC == "" {
		if localDC != "" {
			p.LocalDC = localDC
		} else if connected != nil {
			p.LocalDC = connected.Datacenter
		}
	}
	p.local, p.remote = nil, nil
	for _, h := range all {
		p.classify(h)
	}
}

func (p *DCAwareRoundRobinPolicy) classify(h *Host) {
	if h.Datacenter == p.LocalDC {
		p.local = append(p.local, h)
	} else {
		p.remote = append(p.remote, h)
	}
}

func (p *DCAwareRoundRobinPolicy) Distance(h *Host) Distance {
	if h.Datacenter == p.LocalDC {
		return Local
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, r := range p.remote {
		if r.Datacenter == h.Datacenter {
			count++
			if count > p.UsedHostsPerRemoteDC {
				return Ignore
			}
			if r == h {
				return Remote
			}
		}
	}
	return Remote
}

func (p *DCAwareRoundRobinPolicy) OnHostAdded(h *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classify(h)
}

func (p *DCAwareRoundRobinPolicy) OnHostRemoved(h *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = removeHost(p.local, h)
	p.remote = removeHost(p.remote, h)
}

func removeHost(hosts []*Host, h *Host) []*Host {
	for i, x := range hosts {
		if x == h {
			return append(hosts[:i], hosts[i+1:]...)
		}
	}
	return hosts
}

func (p *DCAwareRoundRobinPolicy) OnHostUp(*Host)   {}
func (p *DCAwareRoundRobinPolicy) OnHostDown(*Host) {}

func (p *DCAwareRoundRobinPolicy) NewQueryPlan(_ QueryInfo, _ *TokenMap) HostIter {
	p.mu.Lock()
	local := append([]*Host{}, p.local...)
	remote := make([]*Host, 0, p.UsedHostsPerRemoteDC)
	byDC := map[string]int{}
	for _, h := range p.remote {
		if byDC[h.Datacenter] < p.UsedHostsPerRemoteDC {
			remote = append(remote, h)
			byDC[h.Datacenter]++
		}
	}
	offset := p.next
	p.next++
	p.mu.Unlock()

	plan := append(rotate(local, offset), rotate(remote, offset)...)
	return &sliceIter{hosts: plan}
}

func rotate(hosts []*Host, offset int) []*Host {
	if len(hosts) == 0 {
		return hosts
	}
	offset %= len(hosts)
	return append(append([]*Host{}, hosts[offset:]...), hosts[:offset]...)
}

// --- Token-aware wrapper -----------------------------------------------

// TokenAwarePolicy wraps a child policy, prepending the routing key's
// replicas (per the current token map) ahead of the child's own plan
// (§4.9). ShuffleReplicas matches ConnConfig.TokenAwareShuffleReplicas.
type TokenAwarePolicy struct {
	Child           LoadBalancingPolicy
	ShuffleReplicas bool
}

func NewSimpleTokenAwarePolicy(child LoadBalancingPolicy, _ int) *TokenAwarePolicy {
	return &TokenAwarePolicy{Child: child}
}

func NewNetworkTopologyTokenAwarePolicy(child LoadBalancingPolicy, _ map[string]int) *TokenAwarePolicy {
	return &TokenAwarePolicy{Child: child}
}

func (p *TokenAwarePolicy) Init(c *Host, all []*Host, dc string) { p.Child.Init(c, all, dc) }
func (p *TokenAwarePolicy) Distance(h *Host) Distance            { return p.Child.Distance(h) }
func (p *TokenAwarePolicy) OnHostAdded(h *Host)                  { p.Child.OnHostAdded(h) }
func (p *TokenAwarePolicy) OnHostRemoved(h *Host)                { p.Child.OnHostRemoved(h) }
func (p *TokenAwarePolicy) OnHostUp(h *Host)                     { p.Child.OnHostUp(h) }
func (p *TokenAwarePolicy) OnHostDown(h *Host)                   { p.Child.OnHostDown(h) }

func (p *TokenAwarePolicy) NewQueryPlan(info QueryInfo, tm *TokenMap) HostIter {
	fallback := p.Child.NewQueryPlan(info, tm)
	if !info.HasToken || tm == nil {
		return fallback
	}
	replicas := tm.ReplicasFor(info.Keyspace, info.Token)
	if len(replicas) == 0 {
		return fallback
	}
	replicas = append([]*Host{}, replicas...)
	if p.ShuffleReplicas {
		rand.Shuffle(len(replicas), func(i, j int) { replicas[i], replicas[j] = replicas[j], replicas[i] })
	}
	return &chainedIter{primary: &sliceIter{hosts: replicas}, seen: toSet(replicas), fallback: fallback}
}

func toSet(hosts []*Host) map[*Host]bool {
	m := make(map[*Host]bool, len(hosts))
	for _, h := range hosts {
		m[h] = true
	}
	return m
}

// chainedIter yields primary's hosts first, then fallback's hosts that were
// not already yielded by primary.
type chainedIter struct {
	primary  HostIter
	seen     map[*Host]bool
	fallback HostIter
	inFallback bool
}

func (it *chainedIter) Next() *Host {
	if !it.inFallback {
		if h := it.primary.Next(); h != nil {
			return h
		}
		it.inFallback = true
	}
	for {
		h := it.fallback.Next()
		if h == nil {
			return nil
		}
		if !it.seen[h] {
			return h
		}
	}
}

// --- Latency-aware wrapper -----------------------------------------------

// latencyTracker holds a host's exponentially-weighted moving average
// latency, per §4.9.
type latencyTracker struct {
	mu       sync.Mutex
	avg      float64
	measured bool
}

func (t *latencyTracker) update(sample time.Duration, scale float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := float64(sample)
	if !t.measured {
		t.avg = v
		t.measured = true
		return
	}
	alpha := 1 - math.Exp(-v/scale)
	t.avg = alpha*v + (1-alpha)*t.avg
}

func (t *latencyTracker) average() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avg, t.measured
}

// LatencyAwarePolicy wraps a child policy, deferring hosts whose moving
// average latency exceeds ExclusionThreshold*clusterMinAverage to the tail
// of the plan, unless RetryPeriod has elapsed since they were last excluded
// (§4.9).
type LatencyAwarePolicy struct {
	Child             LoadBalancingPolicy
	ExclusionThreshold float64
	ScaleMs           int64
	MinMeasured       int
	RetryPeriod       time.Duration
	UpdateRate        time.Duration

	mu          sync.Mutex
	trackers    map[*Host]*latencyTracker
	excludedAt  map[*Host]time.Time
	clusterMin  float64
	stopCh      chan struct{}
}

// NewLatencyAwarePolicy starts the periodic cluster-minimum timer.
func NewLatencyAwarePolicy(child LoadBalancingPolicy) *LatencyAwarePolicy {
	p := &LatencyAwarePolicy{
		Child:              child,
		ExclusionThreshold: 2.0,
		ScaleMs:            100,
		MinMeasured:        50,
		RetryPeriod:        10 * time.Second,
		UpdateRate:         100 * time.Millisecond,
		trackers:           make(map[*Host]*latencyTracker),
		excludedAt:         make(map[*Host]time.Time),
		stopCh:             make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *LatencyAwarePolicy) Stop() { close(p.stopCh) }

func (p *LatencyAwarePolicy) loop() {
	t := time.NewTicker(p.UpdateRate)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.recomputeMin()
		case <-p.stopCh:
			return
		}
	}
}

func (p *LatencyAwarePolicy) recomputeMin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	min := 0.0
	first := true
	for _, tr := range p.trackers {
		avg, ok := tr.average()
		if !ok {
			continue
		}
		if first || avg < min {
			min, first = avg, false
		}
	}
	if !first {
		p.clusterMin = min
	}
}

// OnLatency records a completed request's latency against its host (called
// by the request processor on every successful response, §4.8).
func (p *LatencyAwarePolicy) OnLatency(h *Host, d time.Duration) {
	p.mu.Lock()
	tr, ok := p.trackers[h]
	if !ok {
		tr = &latencyTracker{}
		p.trackers[h] = tr
	}
	p.mu.Unlock()
	tr.update(d, float64(p.ScaleMs)*float64(time.Millisecond))
}

func (p *LatencyAwarePolicy) Init(c *Host, all []*Host, dc string) { p.Child.Init(c, all, dc) }
func (p *LatencyAwarePolicy) Distance(h *Host) Distance            { return p.Child.Distance(h) }
func (p *LatencyAwarePolicy) OnHostAdded(h *Host)                  { p.Child.OnHostAdded(h) }
func (p *LatencyAwarePolicy) OnHostRemoved(h *Host)                { p.Child.OnHostRemoved(h) }
func (p *LatencyAwarePolicy) OnHostUp(h *Host)                     { p.Child.OnHostUp(h) }
func (p *LatencyAwarePolicy) OnHostDown(h *Host)                   { p.Child.OnHostDown(h) }

func (p *LatencyAwarePolicy) isExcluded(h *Host) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.trackers[h]
	if !ok {
		return false
	}
	avg, measured := tr.average()
	if !measured {
		return false
	}
	if avg <= p.ExclusionThreshold*p.clusterMin {
		delete(p.excludedAt, h)
		return false
	}
	if at, ok := p.excludedAt[h]; ok {
		if time.Since(at) < p.RetryPeriod {
			return true
		}
		delete(p.excludedAt, h)
		return false
	}
	p.excludedAt[h] = time.Now()
	return true
}

func (p *LatencyAwarePolicy) NewQueryPlan(info QueryInfo, tm *TokenMap) HostIter {
	base := p.Child.NewQueryPlan(info, tm)
	var head, tail []*Host
	for {
		h := base.Next()
		if h == nil {
			break
		}
		if p.isExcluded(h) {
			tail = append(tail, h)
		} else {
			head = append(head, h)
		}
	}
	return &sliceIter{hosts: append(head, tail...)}
}

// --- List policies ---------------------------------------------------------

// filterPolicy implements whitelist/blacklist by address or by datacenter,
// wrapping a child policy (§4.9 "List policies").
type filterPolicy struct {
	Child  LoadBalancingPolicy
	allow  func(*Host) bool
}

func NewWhitelistPolicy(child LoadBalancingPolicy, addrs []string) LoadBalancingPolicy {
	set := toAddrSet(addrs)
	return &filterPolicy{Child: child, allow: func(h *Host) bool { return set[h.Address] }}
}

func NewBlacklistPolicy(child LoadBalancingPolicy, addrs []string) LoadBalancingPolicy {
	set := toAddrSet(addrs)
	return &filterPolicy{Child: child, allow: func(h *Host) bool { return !set[h.Address] }}
}

func NewWhitelistDCPolicy(child LoadBalancingPolicy, dcs []string) LoadBalancingPolicy {
	set := toStrSet(dcs)
	return &filterPolicy{Child: child, allow: func(h *Host) bool { return set[h.Datacenter] }}
}

func NewBlacklistDCPolicy(child LoadBalancingPolicy, dcs []string) LoadBalancingPolicy {
	set := toStrSet(dcs)
	return &filterPolicy{Child: child, allow: func(h *Host) bool { return !set[h.Datacenter] }}
}

func toAddrSet(addrs []string) map[string]bool {
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		m[strings.TrimSpace(a)] = true
	}
	return m
}

func toStrSet(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

func (p *filterPolicy) Init(c *Host, all []*Host, dc string) { p.Child.Init(c, all, dc) }

func (p *filterPolicy) Distance(h *Host) Distance {
	if !p.allow(h) {
		return Ignore
	}
	return p.Child.Distance(h)
}

func (p *filterPolicy) OnHostAdded(h *Host)   { p.Child.OnHostAdded(h) }
func (p *filterPolicy) OnHostRemoved(h *Host) { p.Child.OnHostRemoved(h) }
func (p *filterPolicy) OnHostUp(h *Host)      { p.Child.OnHostUp(h) }
func (p *filterPolicy) OnHostDown(h *Host)    { p.Child.OnHostDown(h) }

func (p *filterPolicy) NewQueryPlan(info QueryInfo, tm *TokenMap) HostIter {
	base := p.Child.NewQueryPlan(info, tm)
	var hosts []*Host
	for {
		h := base.Next()
		if h == nil {
			break
		}
		if p.allow(h) {
			hosts = append(hosts, h)
		}
	}
	return &sliceIter{hosts: hosts}
}

// --- Adaptive host-pool policy --------------------------------------------

// HostPoolPolicy selects hosts with github.com/hailocab/go-hostpool's
// adaptive epsilon-greedy selector, which biases towards hosts with lower
// observed response-time/error rate while still exploring the rest of the
// pool. It is offered as an additional concrete policy alongside the four
// named in §4.9, selectable per execution profile like any other policy.
type HostPoolPolicy struct {
	mu    sync.Mutex
	hosts []*Host
	byKey map[string]*Host
	pool  hostpool.HostPool
}

func NewHostPoolPolicy() *HostPoolPolicy {
	return &HostPoolPolicy{byKey: make(map[string]*Host)}
}

func (p *HostPoolPolicy) Init(_ *Host, all []*Host, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = append([]*Host{}, all...)
	keys := make([]string, len(all))
	for i, h := range all {
		keys[i] = h.Address
		p.byKey[h.Address] = h
	}
	p.pool = hostpool.NewEpsilonGreedy(keys, 0, &hostpool.LinearEpsilonValueCalculator{})
}

func (p *HostPoolPolicy) Distance(*Host) Distance { return Local }

func (p *HostPoolPolicy) OnHostAdded(h *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = append(p.hosts, h)
	p.byKey[h.Address] = h
	p.rebuildLocked()
}

func (p *HostPoolPolicy) OnHostRemoved(h *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = removeHost(p.hosts, h)
	delete(p.byKey, h.Address)
	p.rebuildLocked()
}

func (p *HostPoolPolicy) rebuildLocked() {
	keys := make([]string, len(p.hosts))
	for i, h := range p.hosts {
		keys[i] = h.Address
	}
	p.pool = hostpool.NewEpsilonGreedy(keys, 0, &hostpool.LinearEpsilonValueCalculator{})
}

func (p *HostPoolPolicy) OnHostUp(*Host)   {}
func (p *HostPoolPolicy) OnHostDown(*Host) {}

func (p *HostPoolPolicy) NewQueryPlan(_ QueryInfo, _ *TokenMap) HostIter {
	p.mu.Lock()
	pool, byKey := p.pool, p.byKey
	p.mu.Unlock()
	if pool == nil {
		return &sliceIter{}
	}
	resp := pool.Get()
	h := byKey[resp.Host()]
	if h == nil {
		return &sliceIter{}
	}
	return &hostPoolIter{host: h, resp: resp}
}

// hostPoolIter is a one-host plan that also carries the hostpool library's
// response handle, so the caller can feed the outcome back into the
// epsilon-greedy calculator once the attempt finishes. The processor
// recognizes this via the optional markable interface below; policies that
// don't need outcome feedback simply never implement it.
type hostPoolIter struct {
	host    *Host
	resp    hostpool.HostPoolResponse
	fetched bool
}

func (it *hostPoolIter) Next() *Host {
	if it.fetched {
		return nil
	}
	it.fetched = true
	return it.host
}

// Mark reports the attempt's outcome (nil error for success) to the
// epsilon-greedy calculator.
func (it *hostPoolIter) Mark(err error) { it.resp.Mark(err) }

// markableHostIter is implemented by query plans that want the outcome of
// the attempt reported back, e.g. hostPoolIter. The processor type-asserts
// for it after each attempt; plans that don't implement it are unaffected.
type markableHostIter interface {
	Mark(err error)
}
