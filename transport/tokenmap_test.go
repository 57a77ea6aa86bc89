package transport

import "testing"

// Reference values for MurmurHash3_x64_128(seed=0), low 64 bits as a signed
// int64 — the same quantity Cassandra/Scylla's Murmur3Partitioner uses.
func TestMurmurTokenKnownVectors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		key  string
		want Token
	}{
		{"", 0},
		{"123", -7468325962851647638},
		{"test", -6017608668500074083},
	}
	for _, c := range cases {
		if got := MurmurToken([]byte(c.key)); got != c.want {
			t.Errorf("MurmurToken(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestMurmurTokenDeterministic(t *testing.T) {
	t.Parallel()
	a := MurmurToken([]byte("partition-key"))
	b := MurmurToken([]byte("partition-key"))
	if a != b {
		t.Fatalf("expected the same key to hash to the same token, got %d and %d", a, b)
	}
}

func TestRingLowerBoundWrapsToZero(t *testing.T) {
	t.Parallel()
	h := NewHost("h")
	r := Ring{{Token: -100, Host: h}, {Token: 0, Host: h}, {Token: 100, Host: h}}
	if i := r.lowerBound(1000); i != 0 {
		t.Fatalf("expected lookup past the last token to wrap to 0, got %d", i)
	}
	if i := r.lowerBound(50); i != 2 {
		t.Fatalf("expected lookup between entries to land on the next entry, got %d", i)
	}
}

func TestTokenMapReplicasForUnknownKeyspaceFallsBackToRingOwner(t *testing.T) {
	t.Parallel()
	owner := NewHost("owner")
	tm := &TokenMap{
		Ring: Ring{{Token: 0, Host: owner, LocalReplicas: []*Host{owner}}},
	}
	replicas := tm.ReplicasFor("unknown_ks", 0)
	if len(replicas) != 1 || replicas[0] != owner {
		t.Fatalf("expected fallback to the ring owner, got %v", replicas)
	}
}

func TestTokenMapReplicasForTruncatesToReplicationFactor(t *testing.T) {
	t.Parallel()
	a, b, c := NewHost("a"), NewHost("b"), NewHost("c")
	tm := &TokenMap{
		Ring:        Ring{{Token: 0, Host: a, LocalReplicas: []*Host{a, b, c}}},
		Replication: map[string]ReplicationStrategy{"ks": SimpleStrategy{RF: 2}},
	}
	replicas := tm.ReplicasFor("ks", 0)
	if len(replicas) != 2 {
		t.Fatalf("expected replicas truncated to RF=2, got %d: %v", len(replicas), replicas)
	}
}

func TestTokenMapHolderLoadStore(t *testing.T) {
	t.Parallel()
	var holder TokenMapHolder
	if holder.Load() != nil {
		t.Fatalf("expected nil before Store")
	}
	tm := &TokenMap{Partitioner: "Murmur3Partitioner"}
	holder.Store(tm)
	if holder.Load() != tm {
		t.Fatalf("expected Load to return the stored map")
	}
}
