// Command cqlbench drives a concurrent insert/select workload through the
// core end to end, the way gocql/tests/main.go exercises the teacher's
// public API — adapted here to the session facade's CQL-text-only surface,
// since typed value binding belongs to the excluded wire codec (§1).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"

	scylla "github.com/scylladb/go-cql-core"
)

const samples = 20_000

type workload string

const (
	workloadInserts workload = "inserts"
	workloadSelects workload = "selects"
	workloadMixed   workload = "mixed"
)

type config struct {
	hosts       string
	concurrency int64
	tasks       int64
	batchSize   int64
	workload    workload
	dontPrepare bool
	profileCPU  bool
	profileMem  bool
}

func readConfig() config {
	var c config
	var w string
	flag.StringVar(&c.hosts, "hosts", "127.0.0.1", "comma-separated list of contact points")
	flag.Int64Var(&c.concurrency, "concurrency", 256, "number of concurrent workers")
	flag.Int64Var(&c.tasks, "tasks", 1_000_000, "total number of partition keys to process")
	flag.Int64Var(&c.batchSize, "batch-size", 256, "partition keys claimed per worker iteration")
	flag.StringVar(&w, "workload", "mixed", "inserts | selects | mixed")
	flag.BoolVar(&c.dontPrepare, "dont-prepare", false, "skip keyspace/table setup")
	flag.BoolVar(&c.profileCPU, "profile-cpu", false, "enable CPU profiling")
	flag.BoolVar(&c.profileMem, "profile-mem", false, "enable memory profiling")
	flag.Parse()
	c.workload = workload(w)
	return c
}

func main() {
	cfg := readConfig()
	log.Printf("benchmark configuration: %+v", cfg)

	if cfg.profileCPU && cfg.profileMem {
		log.Fatal("select one profile type")
	}
	if cfg.profileCPU {
		log.Println("running with CPU profiling")
		defer profile.Start(profile.CPUProfile).Stop()
	}
	if cfg.profileMem {
		log.Println("running with memory profiling")
		defer profile.Start(profile.MemProfile).Stop()
	}

	ctx := context.Background()
	hosts := strings.Split(cfg.hosts, ",")
	sessCfg := scylla.DefaultSessionConfig("benchks", hosts...)
	session, err := scylla.NewSession(ctx, sessCfg)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Close()

	if !cfg.dontPrepare {
		prepareKeyspaceAndTable(ctx, session)
	}

	var wg sync.WaitGroup
	var nextBatchStart int64

	selectCh := make(chan time.Duration, 2*samples)
	insertCh := make(chan time.Duration, 2*samples)

	log.Println("starting the benchmark")
	start := time.Now()

	for i := int64(0); i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, session, cfg, &nextBatchStart, insertCh, selectCh)
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("time %d\n", elapsed.Milliseconds())
	printLatencies("select", selectCh)
	printLatencies("insert", insertCh)
	log.Printf("finished, benchmark time: %d ms", elapsed.Milliseconds())
}

func runWorker(ctx context.Context, session *scylla.Session, cfg config, nextBatchStart *int64, insertCh, selectCh chan time.Duration) {
	for {
		batchStart := atomic.AddInt64(nextBatchStart, cfg.batchSize)
		if batchStart >= cfg.tasks {
			return
		}
		batchEnd := batchStart + cfg.batchSize
		if batchEnd > cfg.tasks {
			batchEnd = cfg.tasks
		}

		for pk := batchStart; pk < batchEnd; pk++ {
			sample := rand.Int63n(cfg.tasks) < samples

			if cfg.workload == workloadInserts || cfg.workload == workloadMixed {
				insertStmt := fmt.Sprintf(
					"INSERT INTO benchks.benchtab (pk, v1, v2) VALUES (%d, %d, %d)",
					pk, 2*pk, 3*pk)
				t0 := time.Now()
				if _, err := session.Query(insertStmt).Idempotent(true).Exec(ctx); err != nil {
					log.Fatalf("insert: %v", err)
				}
				if sample {
					insertCh <- time.Since(t0)
				}
			}

			if cfg.workload == workloadSelects || cfg.workload == workloadMixed {
				selectStmt := fmt.Sprintf("SELECT v1, v2 FROM benchks.benchtab WHERE pk = %d", pk)
				t0 := time.Now()
				if _, err := session.Query(selectStmt).Idempotent(true).Exec(ctx); err != nil {
					log.Fatalf("select: %v", err)
				}
				if sample {
					selectCh <- time.Since(t0)
				}
			}
		}
	}
}

func printLatencies(name string, ch chan time.Duration) {
	n := len(ch)
	for i := 0; i < n; i++ {
		fmt.Printf("%s %d\n", name, (<-ch).Nanoseconds())
	}
}

func prepareKeyspaceAndTable(ctx context.Context, session *scylla.Session) {
	mustExec(ctx, session, "DROP KEYSPACE IF EXISTS benchks")
	awaitSchemaAgreement(ctx, session)

	mustExec(ctx, session, "CREATE KEYSPACE IF NOT EXISTS benchks WITH REPLICATION = "+
		"{'class': 'SimpleStrategy', 'replication_factor': 1}")
	awaitSchemaAgreement(ctx, session)

	mustExec(ctx, session, "CREATE TABLE IF NOT EXISTS benchks.benchtab "+
		"(pk bigint PRIMARY KEY, v1 bigint, v2 bigint)")
	awaitSchemaAgreement(ctx, session)
}

func mustExec(ctx context.Context, session *scylla.Session, stmt string) {
	if _, err := session.Query(stmt).Exec(ctx); err != nil {
		log.Fatalf("exec %q: %v", stmt, err)
	}
}

func awaitSchemaAgreement(ctx context.Context, session *scylla.Session) {
	if _, err := session.WaitForSchemaAgreement(ctx); err != nil {
		log.Printf("schema agreement wait: %v", err)
	}
}
