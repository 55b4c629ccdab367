// Command submit-receiver is a local application target for the http
// gateway. It verifies X-ApplyBot-Signature and can simulate rate limits
// and rejections.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type submission struct {
	Timestamp string `json:"timestamp"`
	AttemptID string `json:"attempt_id"`
	JobID     string `json:"job_id"`
	ResumeRef string `json:"resume_ref"`
	Verified  bool   `json:"verified"`
	Status    int    `json:"status"`
}

type stats struct {
	Count       int64        `json:"count"`
	Accepted    int64        `json:"accepted"`
	Submissions []submission `json:"last_submissions"`
	Since       string       `json:"since"`
}

type receiver struct {
	secret        string
	rateLimitRate float64
	rejectRate    float64
	retryAfter    int

	mu          sync.Mutex
	count       int64
	accepted    int64
	submissions []submission
	since       time.Time
}

const maxStored = 50

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rv := &receiver{
		secret:        os.Getenv("GATEWAY_SECRET"),
		rateLimitRate: envFloat("RATE_LIMIT_RATE"),
		rejectRate:    envFloat("REJECT_RATE"),
		retryAfter:    60,
		since:         time.Now().UTC(),
	}
	if v, err := strconv.Atoi(os.Getenv("RETRY_AFTER")); err == nil && v >= 0 {
		rv.retryAfter = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/apply", rv.apply)
	mux.HandleFunc("/stats", rv.stats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", rv.reset)

	log.Printf("submit-receiver listening on %s (reject=%.2f rate_limit=%.2f)", addr, rv.rejectRate, rv.rateLimitRate)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (rv *receiver) apply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()

	var payload struct {
		JobID     string `json:"job_id"`
		ResumeRef string `json:"resume_ref"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.JobID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	verified := rv.secret == "" || verify(rv.secret, body, r.Header.Get("X-ApplyBot-Signature"))

	status := http.StatusCreated
	switch roll := rand.Float64(); {
	case !verified:
		status = http.StatusUnauthorized
	case roll < rv.rateLimitRate:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(rv.retryAfter))
	case roll < rv.rateLimitRate+rv.rejectRate:
		status = http.StatusUnprocessableEntity
	}

	sub := submission{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		AttemptID: r.Header.Get("X-ApplyBot-Attempt-ID"),
		JobID:     payload.JobID,
		ResumeRef: payload.ResumeRef,
		Verified:  verified,
		Status:    status,
	}

	rv.mu.Lock()
	rv.count++
	if status == http.StatusCreated {
		rv.accepted++
	}
	rv.submissions = append(rv.submissions, sub)
	if len(rv.submissions) > maxStored {
		rv.submissions = rv.submissions[len(rv.submissions)-maxStored:]
	}
	current := rv.count
	rv.mu.Unlock()

	log.Printf("submission #%d: job=%s attempt=%s status=%d", current, sub.JobID, sub.AttemptID, status)
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rv *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rv.mu.Lock()
	s := stats{
		Count:       rv.count,
		Accepted:    rv.accepted,
		Submissions: rv.submissions,
		Since:       rv.since.Format(time.RFC3339),
	}
	rv.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rv *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rv.mu.Lock()
	rv.count = 0
	rv.accepted = 0
	rv.submissions = nil
	rv.since = time.Now().UTC()
	rv.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}

func verify(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
