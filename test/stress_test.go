package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"gigflow/chat"
	"gigflow/event"
	"gigflow/order"
	"gigflow/review"
	"gigflow/test/actors"
	"gigflow/test/chaos"
	"gigflow/test/infra"
	"gigflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestGigflowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("GIGFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("GIGFLOW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	// migrations
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	// seed minimal data
	seedData := mustSeed(t, ctx, pool)

	bus := event.NewBus()
	svc := actors.Services{
		Chat:    chat.NewService(pool, bus),
		Orders:  order.NewService(pool, bus),
		Reviews: review.NewService(pool, nil, bus),
	}

	// a live subscriber keeps the publish path honest under load
	sub := bus.Subscribe(event.JobScope(seedData.chatJobID), nil)
	defer sub.Unsubscribe()
	go func() {
		for range sub.C() {
		}
	}()

	// run actors
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// first-contact races on the chat job
	for i := 0; i < *flConcurrency; i++ {
		p := seedData.providers[i%len(seedData.providers)]
		g.Go(func() error {
			return actors.ThreadRacer(ctx2, svc, seedData.chatJobID, p, stop)
		})
	}

	// messaging both directions plus a reader per provider thread
	for _, p := range seedData.providers {
		p := p
		g.Go(func() error {
			return actors.Messenger(ctx2, svc, seedData.chatJobID, seedData.clientID, p, stop)
		})
		g.Go(func() error {
			return actors.Messenger(ctx2, svc, seedData.chatJobID, p, "", stop)
		})
		g.Go(func() error {
			return actors.Reader(ctx2, svc, seedData.chatJobID, p, stop)
		})
	}
	g.Go(func() error {
		return actors.Reader(ctx2, svc, seedData.chatJobID, seedData.clientID, stop)
	})

	// offers, accepts and lifecycle churn on the same job
	for _, p := range seedData.providers {
		p := p
		g.Go(func() error {
			return actors.OfferMaker(ctx2, svc, seedData.chatJobID, p, stop)
		})
	}
	g.Go(func() error {
		return actors.Acceptor(ctx2, svc, seedData.chatJobID, seedData.clientID, stop)
	})
	g.Go(func() error {
		return actors.EngagementDriver(ctx2, svc, seedData.chatJobID, seedData.clientID, stop)
	})

	// review race on a separate job: exactly one submission may win
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.Reviewer(ctx2, svc, seedData.reviewJobID, seedData.clientID, seedData.providers[0], stop)
		})
	}

	// chaos: kill random backend
	go chaos.KillConnections(ctx2, pool, stop)

	// schedule oracle checks until duration reached
	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	clientID    string
	providers   []string
	chatJobID   string
	reviewJobID string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, $2, 'client') RETURNING id`,
		fmt.Sprintf("client%d@example.com", rand.Int63()), "Stress Client").Scan(&s.clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	for i := 0; i < 2; i++ {
		var id string
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (email, full_name, role) VALUES ($1, $2, 'provider') RETURNING id`,
			fmt.Sprintf("provider%d_%d@example.com", i, rand.Int63()), fmt.Sprintf("Stress Provider %d", i)).Scan(&id); err != nil {
			t.Fatalf("seed provider %d: %v", i, err)
		}
		s.providers = append(s.providers, id)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO jobs (client_id, title, description, budget_min, budget_max, is_negotiable)
         VALUES ($1, 'Bathroom renovation', 'stress traffic', 100, 500, true) RETURNING id`,
		s.clientID).Scan(&s.chatJobID); err != nil {
		t.Fatalf("seed chat job: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO jobs (client_id, provider_id, status, title, description)
         VALUES ($1, $2, 'in_progress', 'Garden fence', 'review race target') RETURNING id`,
		s.clientID, s.providers[0]).Scan(&s.reviewJobID); err != nil {
		t.Fatalf("seed review job: %v", err)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"jobs", `SELECT id, status, provider_id, updated_at FROM jobs ORDER BY updated_at DESC LIMIT 20`},
		{"orders", `SELECT id, job_id, status, price_eur, payment_ref, updated_at FROM orders ORDER BY updated_at DESC LIMIT 50`},
		{"chat_threads", `SELECT id, job_id, provider_id, last_message_at FROM chat_threads ORDER BY last_message_at DESC NULLS LAST LIMIT 20`},
		{"messages", `SELECT id, thread_id, sender_id, is_read, created_at FROM messages ORDER BY created_at DESC LIMIT 50`},
		{"reviews", `SELECT id, job_id, client_id, rating, created_at FROM reviews ORDER BY created_at DESC LIMIT 20`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
