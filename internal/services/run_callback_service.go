package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/personaq/internal/backoff"
	"github.com/osvaldoandrade/personaq/internal/metrics"
	"github.com/osvaldoandrade/personaq/internal/ratelimit"
	"github.com/osvaldoandrade/personaq/internal/tracing"
	"github.com/osvaldoandrade/personaq/pkg/domain"
)

const (
	HeaderTimestamp = "X-Personaq-Timestamp"
	HeaderSignature = "X-Personaq-Signature"
)

// RunCallbackService notifies a run's webhook once it reaches a terminal status.
type RunCallbackService interface {
	Send(ctx context.Context, state domain.RunState)
}

type runCallbackService struct {
	logger      *slog.Logger
	secret      string
	maxAttempts int
	policy      backoff.Policy
	client      *http.Client

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewRunCallbackService(logger *slog.Logger, secret string, maxAttempts int, policy backoff.Policy, limiter ratelimit.Limiter, bucket ratelimit.Bucket) RunCallbackService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if policy.Base <= 0 {
		policy.Base = 2 * time.Second
	}
	if policy.Max <= 0 {
		policy.Max = 60 * time.Second
	}
	return &runCallbackService{
		logger:      logger,
		secret:      secret,
		maxAttempts: maxAttempts,
		policy:      policy,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     limiter,
		bucket:      bucket,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *runCallbackService) Send(ctx context.Context, state domain.RunState) {
	if strings.TrimSpace(state.Webhook) == "" {
		return
	}
	b, err := json.Marshal(state)
	if err != nil {
		s.logger.Warn("run callback marshal failed", "run_id", state.RunID, "err", err)
		return
	}
	go s.deliver(context.WithoutCancel(ctx), state.RunID, state.Webhook, b)
}

// deliver reports whether the webhook acknowledged with a 2xx.
func (s *runCallbackService) deliver(ctx context.Context, runID, url string, body []byte) bool {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil && s.bucket.Enabled() {
			for {
				dec, err := s.limiter.Allow(ctx, ratelimit.ScopeWebhook, ratelimit.WebhookSubject(url), s.bucket)
				if err != nil {
					// Fail open.
					break
				}
				if dec.Allowed {
					break
				}
				metrics.RateLimitHitsTotal.WithLabelValues(ratelimit.ScopeWebhook, "run_completed").Inc()
				if sleepOrDone(ctx, dec.RetryAfter) != nil {
					return false
				}
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("run callback request invalid", "run_id", runID, "err", err)
			break
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectHeaders(ctx, req.Header)
		s.addSignature(req, body)
		resp, err := s.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
			return true
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if attempt == s.maxAttempts {
			break
		}
		if sleepOrDone(ctx, s.delay(attempt-1)) != nil {
			break
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	s.logger.Warn("run callback failed", "run_id", runID, "url", url)
	return false
}

func (s *runCallbackService) delay(attempt int) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.policy.Delay(attempt, s.rng)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Signature is hex(HMAC-SHA256(secret, "<unix-ts>." + body)).
func (s *runCallbackService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := time.Now().UTC().Unix()
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderSignature, Sign(s.secret, ts, body))
}

func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
