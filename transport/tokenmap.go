package transport

import (
	"encoding/binary"
	"math/bits"
	"sort"
	"sync/atomic"
)

// Token is a position on the partitioner's ring (Murmur3Partitioner range).
type Token int64

// MurmurToken hashes a partition key the same way Cassandra/Scylla's
// Murmur3Partitioner does (MurmurHash3_x64_128, low 64 bits, signed).
// Grounded on the teacher's Query.token(), which calls a MurmurToken it
// does not itself define; this is the partitioner's actual algorithm.
func MurmurToken(data []byte) Token {
	h1, _ := murmur3Sum128(data, 0)
	return Token(h1)
}

func murmur3Sum128(data []byte, seed uint64) (uint64, uint64) {
	const c1 = 0x87c37b91114253d5
	const c2 = 0x4cf5ad432745937f

	h1, h2 := seed, seed
	nblocks := len(data) / 16

	for i := 0; i < nblocks; i++ {
		b := data[i*16 : i*16+16]
		k1 := binary.LittleEndian.Uint64(b[0:8])
		k2 := binary.LittleEndian.Uint64(b[8:16])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := data[nblocks*16:]
	var k1, k2 uint64
	switch len(tail) {
	case 15:
		k2 ^= uint64(tail[14]) << 48
		fallthrough
	case 14:
		k2 ^= uint64(tail[13]) << 40
		fallthrough
	case 13:
		k2 ^= uint64(tail[12]) << 32
		fallthrough
	case 12:
		k2 ^= uint64(tail[11]) << 24
		fallthrough
	case 11:
		k2 ^= uint64(tail[10]) << 16
		fallthrough
	case 10:
		k2 ^= uint64(tail[9]) << 8
		fallthrough
	case 9:
		k2 ^= uint64(tail[8])
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
		fallthrough
	case 8:
		k1 ^= uint64(tail[7]) << 56
		fallthrough
	case 7:
		k1 ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k1 ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k1 ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k1 ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k1 ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint64(tail[0])
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(len(data))
	h2 ^= uint64(len(data))
	h1 += h2
	h2 += h1
	h1 = fmix64(h1)
	h2 = fmix64(h2)
	h1 += h2
	h2 += h1
	return h1, h2
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// RingEntry is one token-ring position: the host that owns it and its
// precomputed local/remote replica lists for the simple and
// network-topology replication strategies.
type RingEntry struct {
	Token          Token
	Host           *Host
	LocalReplicas  []*Host
	RemoteReplicas []*Host
}

// Ring is a token-sorted slice of RingEntry, supporting binary-search
// lookup of the first entry at or after a given token.
type Ring []RingEntry

func (r Ring) Len() int           { return len(r) }
func (r Ring) Less(i, j int) bool { return r[i].Token < r[j].Token }
func (r Ring) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }

// lowerBound returns the index of the first entry with Token >= token,
// wrapping to 0 if token is greater than every entry (the ring wraps).
func (r Ring) lowerBound(token Token) int {
	i := sort.Search(len(r), func(i int) bool { return r[i].Token >= token })
	if i >= len(r) {
		return 0
	}
	return i
}

// ReplicationStrategy is the minimal per-keyspace replication contract the
// token-aware policy needs: how many replicas, and which hosts own them
// given a ring position. Full replication-strategy semantics (NetworkTopology
// per-DC overrides, transient replication) live in the schema snapshot;
// this interface is what TokenMap.ReplicasFor consumes.
type ReplicationStrategy interface {
	ReplicationFactor() int
	// Name returns e.g. "SimpleStrategy" or "NetworkTopologyStrategy".
	Name() string
}

// SimpleStrategy replicates RF copies to the next RF distinct hosts walking
// the ring clockwise from the token's owner.
type SimpleStrategy struct{ RF int }

func (s SimpleStrategy) ReplicationFactor() int { return s.RF }
func (s SimpleStrategy) Name() string           { return "SimpleStrategy" }

// NetworkTopologyStrategy replicates a configurable RF per datacenter.
type NetworkTopologyStrategy struct{ PerDC map[string]int }

func (s NetworkTopologyStrategy) ReplicationFactor() int {
	total := 0
	for _, rf := range s.PerDC {
		total += rf
	}
	return total
}
func (s NetworkTopologyStrategy) Name() string { return "NetworkTopologyStrategy" }

// TokenMap is the immutable snapshot described in §3: partitioner + ring +
// per-keyspace replication strategy, replaced wholesale on schema changes
// and held by every processor via a shared pointer (here, a TokenMapHolder
// that swaps the pointer atomically; processors read the current value with
// TokenMapHolder.Load).
type TokenMap struct {
	Partitioner  string
	Ring         Ring
	Replication  map[string]ReplicationStrategy // keyspace -> strategy
}

// ReplicasFor returns the replicas of the first ring entry at or after
// token. For a keyspace with a known strategy these are the entry's
// LocalReplicas, cut to the strategy's replication factor; RemoteReplicas
// are not included. An unknown keyspace gets all of the entry's
// LocalReplicas followed by its RemoteReplicas.
func (tm *TokenMap) ReplicasFor(keyspace string, token Token) []*Host {
	if tm == nil || len(tm.Ring) == 0 {
		return nil
	}
	i := tm.Ring.lowerBound(token)
	entry := tm.Ring[i]

	strat, ok := tm.Replication[keyspace]
	if !ok {
		return append(append([]*Host{}, entry.LocalReplicas...), entry.RemoteReplicas...)
	}
	rf := strat.ReplicationFactor()
	out := append([]*Host{}, entry.LocalReplicas...)
	if len(out) > rf {
		out = out[:rf]
	}
	return out
}

// TokenMapHolder atomically swaps a *TokenMap so readers see a consistent
// snapshot without locking (§5 "copy-on-write swaps").
type TokenMapHolder struct {
	v atomic.Pointer[TokenMap]
}

func (h *TokenMapHolder) Load() *TokenMap    { return h.v.Load() }
func (h *TokenMapHolder) Store(tm *TokenMap) { h.v.Store(tm) }
