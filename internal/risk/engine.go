package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/frahmantamala/purchase-core/internal/core/cache"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	weightVeryNewAccount   = 30
	weightNewAccount       = 20
	weightRecentAccount    = 10
	weightSuspiciousDomain = 25
	weightNoHistory        = 15
	weightLowConversion    = 15
	weightFraudReported    = 40
	weightRapidAttempts    = 20
	weightTransaction      = 15

	conversionMinAttempts = 5
	conversionMinPercent  = 30
	rapidAttemptsWindow   = time.Hour
	rapidAttemptsCount    = 3
	repeatPurchaseWindow  = 7 * 24 * time.Hour
	amountAverageFactor   = 3
)

type Engine struct {
	directory Directory
	cache     cache.Store
	policy    Policy
	clock     clock.Clock
	logger    *slog.Logger
	group     singleflight.Group
}

// NewEngine builds the scorer. store may be nil to disable caching.
func NewEngine(directory Directory, store cache.Store, policy Policy, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		directory: directory,
		cache:     store,
		policy:    policy,
		clock:     clk,
		logger:    logger,
	}
}

func cacheKey(userID string) string {
	return "risk:user:" + userID
}

// AssessUser never fails. Internal errors produce a degraded low-risk
// assessment and an error log tagged fail_open. Users the directory does not
// know are scored as brand new accounts with no history.
func (e *Engine) AssessUser(ctx context.Context, userID string) *Assessment {
	if cached, ok := e.cached(ctx, userID); ok {
		return cached
	}

	v, _, _ := e.group.Do(userID, func() (interface{}, error) {
		now := e.clock.Now()
		snap, err := e.load(ctx, userID, false)
		switch {
		case errors.Is(err, ErrUserNotFound):
			e.logger.Warn("risk assessment for unknown user", "user_id", userID)
			return e.scoreUser(userID, unknownUser(userID, now), now), nil
		case err != nil:
			return e.failOpen(userID, err), nil
		}
		a := e.scoreUser(userID, snap, now)
		e.store(ctx, a)
		return a, nil
	})

	return copyAssessment(v.(*Assessment))
}

// AssessTransaction scores one purchase attempt on top of the user's base
// assessment. A high base tier rejects outright; otherwise the combined
// score must stay below the high threshold.
func (e *Engine) AssessTransaction(ctx context.Context, attempt TransactionAttempt) *TransactionDecision {
	base := e.AssessUser(ctx, attempt.UserID)

	reasons := append([]string{}, base.Factors...)
	score := base.Score

	snap, err := e.load(ctx, attempt.UserID, true)
	if errors.Is(err, ErrUserNotFound) {
		snap, err = unknownUser(attempt.UserID, e.clock.Now()), nil
	}
	if err != nil {
		e.logger.Error("transaction risk factors unavailable, failing open",
			"user_id", attempt.UserID,
			"product_id", attempt.ProductID,
			"fail_open", true,
			"error", err)
	} else {
		factors := e.transactionFactors(attempt, snap, e.clock.Now())
		reasons = append(reasons, factors...)
		score += weightTransaction * len(factors)
	}
	score = capScore(score)

	approved := base.Tier != TierHigh && score < e.policy.HighThreshold

	e.logger.Info("transaction risk assessed",
		"user_id", attempt.UserID,
		"product_id", attempt.ProductID,
		"score", score,
		"approved", approved,
		"reasons", reasons)

	return &TransactionDecision{
		Approved:   approved,
		Score:      score,
		Reasons:    reasons,
		Assessment: base,
	}
}

// Invalidate drops any cached assessment for the user.
func (e *Engine) Invalidate(ctx context.Context, userID string) {
	e.group.Forget(userID)
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, cacheKey(userID)); err != nil {
		e.logger.Warn("risk cache invalidation failed", "user_id", userID, "error", err)
	}
}

// RegisterInvalidation subscribes cache eviction to events that change a
// user's history or standing.
func (e *Engine) RegisterInvalidation(bus *events.EventBus) {
	handler := func(ctx context.Context, event events.Event) error {
		if userID := events.StringField(event, "user_id"); userID != "" {
			e.Invalidate(ctx, userID)
		}
		return nil
	}
	bus.Subscribe(events.EventTypePaymentCompleted, handler)
	bus.Subscribe(events.EventTypePaymentRejected, handler)
	bus.Subscribe(events.EventTypeCustomerBlocked, handler)
}

type snapshot struct {
	profile   *UserProfile
	history   []Activity
	purchases []PurchaseRecord
}

// unknownUser is the snapshot of an account created just now with nothing
// on record.
func unknownUser(userID string, now time.Time) *snapshot {
	return &snapshot{profile: &UserProfile{UserID: userID, CreatedAt: now}}
}

func (e *Engine) load(ctx context.Context, userID string, withPurchases bool) (*snapshot, error) {
	profile, err := e.directory.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	history, err := e.directory.GetUserHistory(ctx, userID, e.policy.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	snap := &snapshot{profile: profile, history: history}
	if withPurchases {
		snap.purchases, err = e.directory.GetPurchaseHistory(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load purchases: %w", err)
		}
	}
	return snap, nil
}

func (e *Engine) scoreUser(userID string, snap *snapshot, now time.Time) *Assessment {
	var (
		score   int
		factors []string
	)
	add := func(factor string, weight int) {
		factors = append(factors, factor)
		score += weight
	}

	profile := snap.profile
	if profile.IsBlocked {
		factors = append(factors, FactorAccountBlocked)
	}

	age := now.Sub(profile.CreatedAt)
	switch {
	case age < 24*time.Hour:
		add(FactorVeryNewAccount, weightVeryNewAccount)
	case age < 7*24*time.Hour:
		add(FactorNewAccount, weightNewAccount)
	case age < 30*24*time.Hour:
		add(FactorRecentAccount, weightRecentAccount)
	}

	if e.suspiciousDomain(profile.Email) {
		add(FactorSuspiciousEmailDomain, weightSuspiciousDomain)
	}

	if len(snap.history) == 0 {
		add(FactorNoActivityHistory, weightNoHistory)
	}

	var attempts, completions, recentAttempts int
	for _, act := range snap.history {
		switch act.Action {
		case ActionPurchaseAttempt:
			attempts++
			if now.Sub(act.Timestamp) <= rapidAttemptsWindow {
				recentAttempts++
			}
		case ActionPurchaseCompleted:
			completions++
		}
	}
	if attempts > conversionMinAttempts && completions*100 < attempts*conversionMinPercent {
		add(FactorLowPurchaseConversion, weightLowConversion)
	}

	if profile.FraudReports > 0 {
		add(FactorFraudReported, weightFraudReported)
	}

	if recentAttempts >= rapidAttemptsCount {
		add(FactorRapidPurchaseAttempts, weightRapidAttempts)
	}

	if profile.IsBlocked {
		score = MaxScore
	}
	score = capScore(score)

	if factors == nil {
		factors = []string{}
	}
	return &Assessment{
		UserID:     userID,
		Tier:       e.policy.TierFor(score),
		Score:      score,
		Factors:    factors,
		AssessedAt: now,
	}
}

func (e *Engine) transactionFactors(attempt TransactionAttempt, snap *snapshot, now time.Time) []string {
	var factors []string

	if len(snap.purchases) > 0 {
		total := decimal.Zero
		for _, p := range snap.purchases {
			total = total.Add(p.Amount)
		}
		avg := total.Div(decimal.NewFromInt(int64(len(snap.purchases))))
		if attempt.Amount.GreaterThan(avg.Mul(decimal.NewFromInt(amountAverageFactor))) {
			factors = append(factors, FactorAmountAboveAverage)
		}
	}

	for _, p := range snap.purchases {
		if p.ProductID == attempt.ProductID && now.Sub(p.Date) <= repeatPurchaseWindow {
			factors = append(factors, FactorRepeatedProduct)
			break
		}
	}

	if established := establishedMethod(snap.purchases); established != "" &&
		attempt.PaymentMethod != "" && attempt.PaymentMethod != established {
		factors = append(factors, FactorPaymentMethodChange)
	}

	if attempt.IPAddress != "" {
		known := knownIPs(snap.history)
		if len(known) > 0 {
			if _, seen := known[attempt.IPAddress]; !seen {
				factors = append(factors, FactorNewIPAddress)
			}
		}
	}

	return factors
}

// establishedMethod is the most used payment method, ties broken by name.
func establishedMethod(purchases []PurchaseRecord) string {
	counts := make(map[string]int)
	for _, p := range purchases {
		if p.Method != "" {
			counts[p.Method]++
		}
	}
	methods := make([]string, 0, len(counts))
	for m := range counts {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	best, bestCount := "", 0
	for _, m := range methods {
		if counts[m] > bestCount {
			best, bestCount = m, counts[m]
		}
	}
	return best
}

func knownIPs(history []Activity) map[string]struct{} {
	ips := make(map[string]struct{})
	for _, act := range history {
		if ip, ok := act.Data["ip_address"].(string); ok && ip != "" {
			ips[ip] = struct{}{}
		}
	}
	return ips
}

func (e *Engine) suspiciousDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	for _, d := range e.policy.SuspiciousDomains {
		d = strings.ToLower(d)
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func (e *Engine) failOpen(userID string, err error) *Assessment {
	e.logger.Error("risk assessment failed, failing open",
		"user_id", userID,
		"fail_open", true,
		"error", err)
	return &Assessment{
		UserID:     userID,
		Tier:       TierLow,
		Score:      0,
		Factors:    []string{},
		AssessedAt: e.clock.Now(),
		Degraded:   true,
	}
}

func (e *Engine) cached(ctx context.Context, userID string) (*Assessment, bool) {
	if e.cache == nil {
		return nil, false
	}
	var a Assessment
	found, err := cache.GetJSON(ctx, e.cache, cacheKey(userID), &a)
	if err != nil {
		e.logger.Warn("risk cache read failed", "user_id", userID, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	if a.Factors == nil {
		a.Factors = []string{}
	}
	return &a, true
}

func (e *Engine) store(ctx context.Context, a *Assessment) {
	if e.cache == nil || a.Degraded {
		return
	}
	if err := cache.SetJSON(ctx, e.cache, cacheKey(a.UserID), a, e.policy.CacheTTL); err != nil {
		e.logger.Warn("risk cache write failed", "user_id", a.UserID, "error", err)
	}
}

func copyAssessment(a *Assessment) *Assessment {
	cp := *a
	cp.Factors = append([]string{}, a.Factors...)
	return &cp
}
