package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/logging"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	usersFile   string
	pin         string
)

var (
	totalRequests uint64
	success200    uint64 // idempotent replays
	success201    uint64 // created
	fail422       uint64 // insufficient funds
	fail503       uint64 // lock timeouts, retryable
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&concurrency, "workers", 10, "number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "test duration")
	flag.StringVar(&workload, "workload", "uniform", "workload type: uniform | hotspot | retry")
	flag.StringVar(&usersFile, "users", "seed_users.txt", "file of seeded user ids")
	flag.StringVar(&pin, "pin", "1234", "transaction PIN of the seeded users")
}

func main() {
	flag.Parse()
	log := logging.New("info", "text")

	users, err := loadUsers(usersFile)
	if err != nil {
		log.WithError(err).Fatal("unable to read seeded users")
	}
	if len(users) < 2 {
		log.Fatal("need at least two seeded users")
	}
	log.Infof("starting benchmark: %s | workers: %d | duration: %s | users: %d", workload, concurrency, duration, len(users))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, users, rand.New(rand.NewSource(int64(i))))
	}
	wg.Wait()

	if err := printResults(time.Since(start)); err != nil {
		log.WithError(err).Error("writing results failed")
	}
}

func loadUsers(path string) ([]uuid.UUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []uuid.UUID
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := uuid.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q: %w", line, err)
		}
		ids = append(ids, id)
	}
	return ids, sc.Err()
}

func worker(wg *sync.WaitGroup, start time.Time, users []uuid.UUID, r *rand.Rand) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey string
	var lastFrom, lastTo uuid.UUID
	for time.Since(start) < duration {
		from, to := pickPair(users, r)
		key := uuid.NewString()

		// The retry workload resends the previous request half the time, as a
		// client would after a timeout.
		if workload == "retry" && lastKey != "" && r.Float32() < 0.5 {
			from, to, key = lastFrom, lastTo, lastKey
		}
		lastFrom, lastTo, lastKey = from, to, key

		body, _ := json.Marshal(map[string]any{
			"beneficiaryId": to,
			"amount":        "1.00",
			"pin":           pin,
		})

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/donations", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		req.Header.Set("X-User-ID", from.String())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		case http.StatusServiceUnavailable:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickPair(users []uuid.UUID, r *rand.Rand) (uuid.UUID, uuid.UUID) {
	if workload == "hotspot" && r.Float32() < 0.90 {
		// 90% of traffic between the first two wallets.
		if r.Float32() < 0.5 {
			return users[0], users[1]
		}
		return users[1], users[0]
	}

	a := r.Intn(len(users))
	b := r.Intn(len(users))
	for a == b {
		b = r.Intn(len(users))
	}
	return users[a], users[b]
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f422 := atomic.LoadUint64(&fail422)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	var retryRate float64
	if total > 0 {
		retryRate = float64(f503) / float64(total) * 100
	}

	results := map[string]any{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     float64(total) / d.Seconds(),
		"success_created":    s201,
		"success_replay":     s200,
		"rejected_funds":     f422,
		"retryable":          f503,
		"retryable_rate_pct": retryRate,
		"errors":             fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
