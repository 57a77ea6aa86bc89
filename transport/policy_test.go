package transport

import "testing"

func drain(it HostIter) []*Host {
	var out []*Host
	for {
		h := it.Next()
		if h == nil {
			return out
		}
		out = append(out, h)
	}
}

func TestRoundRobinPolicyRotatesStartingHost(t *testing.T) {
	t.Parallel()
	a, b, c := NewHost("a"), NewHost("b"), NewHost("c")
	p := NewRoundRobinPolicy()
	p.Init(nil, []*Host{a, b, c}, "")

	first := drain(p.NewQueryPlan(QueryInfo{}, nil))
	second := drain(p.NewQueryPlan(QueryInfo{}, nil))

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 hosts per plan, got %d and %d", len(first), len(second))
	}
	if first[0] == second[0] {
		t.Fatalf("expected successive plans to start at a different host, both started at %v", first[0])
	}
}

func TestRoundRobinPolicySkipsDownHosts(t *testing.T) {
	t.Parallel()
	a, b := NewHost("a"), NewHost("b")
	b.SetUp(false)
	p := NewRoundRobinPolicy()
	p.Init(nil, []*Host{a, b}, "")

	plan := drain(p.NewQueryPlan(QueryInfo{}, nil))
	if len(plan) != 1 || plan[0] != a {
		t.Fatalf("expected only the up host in the plan, got %v", plan)
	}
}

func TestDCAwareRoundRobinOrdersLocalBeforeRemote(t *testing.T) {
	t.Parallel()
	local := NewHost("local")
	local.Datacenter = "dc1"
	remote := NewHost("remote")
	remote.Datacenter = "dc2"

	p := NewDCAwareRoundRobin("dc1")
	p.UsedHostsPerRemoteDC = 1
	p.Init(nil, []*Host{remote, local}, "")

	plan := drain(p.NewQueryPlan(QueryInfo{}, nil))
	if len(plan) != 2 || plan[0] != local || plan[1] != remote {
		t.Fatalf("expected [local, remote], got %v", plan)
	}
}

func TestDCAwareRoundRobinIgnoresRemoteBeyondUsedHostsPerRemoteDC(t *testing.T) {
	t.Parallel()
	local := NewHost("local")
	local.Datacenter = "dc1"
	r1 := NewHost("r1")
	r1.Datacenter = "dc2"
	r2 := NewHost("r2")
	r2.Datacenter = "dc2"

	p := NewDCAwareRoundRobin("dc1")
	p.Init(nil, []*Host{local, r1, r2}, "")

	if got := p.Distance(r1); got != Ignore {
		t.Fatalf("expected first remote host to be Ignore at UsedHostsPerRemoteDC=0, got %v", got)
	}
}

func TestWhitelistPolicyFiltersByAddress(t *testing.T) {
	t.Parallel()
	a, b := NewHost("a"), NewHost("b")
	child := NewRoundRobinPolicy()
	p := NewWhitelistPolicy(child, []string{"a"})
	p.Init(nil, []*Host{a, b}, "")

	plan := drain(p.NewQueryPlan(QueryInfo{}, nil))
	if len(plan) != 1 || plan[0] != a {
		t.Fatalf("expected only host a, got %v", plan)
	}
	if got := p.Distance(b); got != Ignore {
		t.Fatalf("expected blacklisted-by-omission host b to be Ignore, got %v", got)
	}
}

func TestBlacklistPolicyFiltersByAddress(t *testing.T) {
	t.Parallel()
	a, b := NewHost("a"), NewHost("b")
	child := NewRoundRobinPolicy()
	p := NewBlacklistPolicy(child, []string{"a"})
	p.Init(nil, []*Host{a, b}, "")

	plan := drain(p.NewQueryPlan(QueryInfo{}, nil))
	if len(plan) != 1 || plan[0] != b {
		t.Fatalf("expected only host b, got %v", plan)
	}
}

func TestTokenAwarePolicyPrependsReplicasAheadOfFallback(t *testing.T) {
	t.Parallel()
	replica := NewHost("replica")
	other := NewHost("other")

	tm := &TokenMap{
		Partitioner: "Murmur3Partitioner",
		Ring:        Ring{{Token: 0, Host: replica, LocalReplicas: []*Host{replica}}},
		Replication: map[string]ReplicationStrategy{"": SimpleStrategy{RF: 1}},
	}

	child := NewRoundRobinPolicy()
	p := NewSimpleTokenAwarePolicy(child, 1)
	p.Init(nil, []*Host{replica, other}, "")

	plan := drain(p.NewQueryPlan(QueryInfo{HasToken: true, Token: 0}, tm))
	if len(plan) == 0 || plan[0] != replica {
		t.Fatalf("expected the replica first in the plan, got %v", plan)
	}
}
