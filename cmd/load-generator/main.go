package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nuid"
	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/app/bootstrap"
	"github.com/todo-1m/analytics/internal/contracts"
	"github.com/todo-1m/analytics/internal/platform/config"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/platform/metrics"
	"github.com/todo-1m/analytics/internal/platform/natsutil"
	"github.com/todo-1m/analytics/internal/sharding"
)

type loadConfig struct {
	Users                   int           `env:"LOADGEN_USERS" envDefault:"200"`
	Duration                time.Duration `env:"LOADGEN_DURATION" envDefault:"10m"`
	RampUp                  time.Duration `env:"LOADGEN_RAMP_UP" envDefault:"30s"`
	ActionsPerUserPerSecond float64       `env:"LOADGEN_ACTIONS_PER_USER_PER_SECOND" envDefault:"0.3"`
	FailedLoginRatio        float64       `env:"LOADGEN_FAILED_LOGIN_RATIO" envDefault:"0.1"`
	DuplicateRatio          float64       `env:"LOADGEN_DUPLICATE_RATIO" envDefault:"0.02"`
	MetricsAddr             string        `env:"LOADGEN_METRICS_ADDR" envDefault:":9099"`
}

type simulatedUser struct {
	Index    int
	UserID   string
	Username string

	mu    sync.Mutex
	tasks []string
}

type runner struct {
	cfg       loadConfig
	runID     string
	publisher natsutil.JetStreamPublisher
	log       *logger.Logger
	users     []*simulatedUser

	published atomic.Int64
	failed    atomic.Int64
	activeVUs atomic.Int64
}

var (
	eventsPublished = metrics.NewCounterVec(metrics.Opts{
		Name: "analytics_loadgen_events_total",
		Help: "Events published by the load generator.",
	}, []string{"type", "outcome"})

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "analytics_loadgen_virtual_users",
		Help: "Current number of active virtual users publishing events.",
	})
)

func init() {
	metrics.Default.MustRegister(eventsPublished, virtualUsersGauge)
}

var (
	titles      = []string{"Fix checkout bug", "Add SSO feature", "Refactor search", "Write e2e tests", "Update runbook docs", "Quarterly planning", "Исправить ошибку отчёта"}
	priorities  = []string{"LOW", "MEDIUM", "HIGH"}
	departments = []string{"IT", "HR", "FINANCE", "MARKETING", "SALES"}
	statuses    = []string{"AVAILABLE", "IN_PROGRESS", "BLOCKED"}
)

func main() {
	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Default().Fatal("load config", zap.Error(err))
	}
	var lc loadConfig
	if err := config.ParseEnv(&lc); err != nil {
		logger.Default().Fatal("load generator config", zap.Error(err))
	}
	if lc.Users <= 0 {
		logger.Default().Fatal("LOADGEN_USERS must be > 0")
	}
	log, err := bootstrap.Logger(cfg.Logging)
	if err != nil {
		logger.Default().Fatal("init logger", zap.Error(err))
	}
	log = log.WithComponent("load-generator")

	ctx := baseCtx
	if lc.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, lc.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		log.Fatal("connect jetstream", zap.Error(err))
	}
	defer client.Close()

	metricsServer := bootstrap.MetricsServer(lc.MetricsAddr, nil)
	go func() {
		if err := bootstrap.Serve(ctx, metricsServer, 5*time.Second, log); err != nil {
			log.Warn("metrics server failed", zap.Error(err))
		}
	}()

	r := &runner{
		cfg:       lc,
		runID:     strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		publisher: natsutil.JetStreamPublisher{JS: client.JS},
		log:       log,
	}
	r.setupUsers()
	log.Info("load generator initialized",
		zap.Int("users", len(r.users)),
		zap.Duration("duration", lc.Duration),
		zap.Float64("rate_per_user", lc.ActionsPerUserPerSecond),
	)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, user := range r.users {
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()

	log.Info("load test complete",
		zap.Int64("published", r.published.Load()),
		zap.Int64("failed", r.failed.Load()),
	)
}

func (r *runner) setupUsers() {
	r.users = make([]*simulatedUser, 0, r.cfg.Users)
	for i := 0; i < r.cfg.Users; i++ {
		r.users = append(r.users, &simulatedUser{
			Index:    i,
			UserID:   nuid.Next(),
			Username: fmt.Sprintf("load-%s-%04d", r.runID, i),
		})
	}
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1))) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.publish(contracts.UserRegistered{
		Meta:     r.meta(user.UserID),
		Username: user.Username,
		Email:    user.Username + "@example.test",
	})

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerUserPerSecond), 25*time.Millisecond)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(interval)))):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(user, rng)
		}
	}
}

func (r *runner) runAction(user *simulatedUser, rng *rand.Rand) {
	taskID, hasTask := user.randomTask(rng)

	choice := rng.Float64()
	switch {
	case choice < 0.15:
		r.login(user, rng)
	case !hasTask || choice < 0.45:
		r.createTask(user, rng)
	case choice < 0.65:
		r.publish(contracts.TaskStatusUpdated{
			Meta:      r.meta(taskID),
			Status:    statuses[rng.Intn(len(statuses))],
			UserID:    user.UserID,
			UpdatedAt: time.Now().UTC(),
		})
	case choice < 0.75:
		r.publish(contracts.TaskUpdated{
			Meta:     r.meta(taskID),
			Title:    pick(rng, titles),
			Priority: pick(rng, priorities),
		})
	case choice < 0.82:
		r.publish(contracts.TaskAssigneesUpdated{
			Meta:        r.meta(taskID),
			AssigneeIDs: r.randomAssignees(user, rng),
			UpdatedAt:   time.Now().UTC(),
		})
	case choice < 0.93:
		r.publish(contracts.TaskCompleted{
			Meta:        r.meta(taskID),
			CompletedAt: time.Now().UTC(),
		})
		user.removeTask(taskID)
	default:
		r.publish(contracts.TaskDeleted{Meta: r.meta(taskID)})
		user.removeTask(taskID)
	}
}

func (r *runner) login(user *simulatedUser, rng *rand.Rand) {
	if rng.Float64() < r.cfg.FailedLoginRatio {
		r.publish(contracts.UserLoginFailed{
			Meta:          r.meta(user.UserID),
			Username:      user.Username,
			FailureReason: "invalid_credentials",
		})
		return
	}
	r.publish(contracts.UserLoginSucceeded{
		Meta:      r.meta(user.UserID),
		Username:  user.Username,
		UserAgent: "load-generator",
	})
}

func (r *runner) createTask(user *simulatedUser, rng *rand.Rand) {
	taskID := nuid.Next()
	now := time.Now().UTC()
	due := now.Add(time.Duration(1+rng.Intn(14)) * 24 * time.Hour)
	r.publish(contracts.TaskCreated{
		Meta:        r.meta(taskID),
		Title:       pick(rng, titles),
		Priority:    pick(rng, priorities),
		Department:  pick(rng, departments),
		CreatorID:   user.UserID,
		AssigneeIDs: r.randomAssignees(user, rng),
		CreatedAt:   now,
		DueDate:     &due,
	})
	user.addTask(taskID)
}

func (r *runner) randomAssignees(user *simulatedUser, rng *rand.Rand) []string {
	out := []string{user.UserID}
	if len(r.users) > 1 && rng.Intn(3) == 0 {
		if other := r.users[rng.Intn(len(r.users))]; other.UserID != user.UserID {
			out = append(out, other.UserID)
		}
	}
	return out
}

func (r *runner) meta(entityID string) contracts.Meta {
	return contracts.Meta{EventID: nuid.Next(), EntityID: entityID, OccurredAt: time.Now().UTC()}
}

// publish sends ev on its entity subject. A small share is published twice
// under the same message id to exercise stream-side dedup.
func (r *runner) publish(ev contracts.DomainEvent) {
	eventType := ev.EventType()
	meta := ev.EventMeta()
	env, err := contracts.Wrap(ev, sharding.GetShardID(meta.EntityID))
	if err != nil {
		r.fail(eventType, err)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		r.fail(eventType, err)
		return
	}
	subject := sharding.GetSubject(contracts.EntityKind(eventType), meta.EntityID)
	if err := r.publisher.PublishWithID(subject, meta.EventID, payload); err != nil {
		r.fail(eventType, err)
		return
	}
	if rand.Float64() < r.cfg.DuplicateRatio {
		_ = r.publisher.PublishWithID(subject, meta.EventID, payload)
	}
	eventsPublished.WithLabelValues(eventType, "success").Inc()
	r.published.Add(1)
}

func (r *runner) fail(eventType string, err error) {
	eventsPublished.WithLabelValues(eventType, "error").Inc()
	r.failed.Add(1)
	r.log.Debug("publish failed", zap.String("event_type", eventType), zap.Error(err))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.Info("progress",
				zap.Int64("published", r.published.Load()),
				zap.Int64("failed", r.failed.Load()),
				zap.Int64("active_vus", r.activeVUs.Load()),
			)
		}
	}
}

func (u *simulatedUser) addTask(taskID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tasks = append(u.tasks, taskID)
}

func (u *simulatedUser) randomTask(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.tasks) == 0 {
		return "", false
	}
	return u.tasks[rng.Intn(len(u.tasks))], true
}

func (u *simulatedUser) removeTask(taskID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for idx, existing := range u.tasks {
		if existing != taskID {
			continue
		}
		u.tasks[idx] = u.tasks[len(u.tasks)-1]
		u.tasks = u.tasks[:len(u.tasks)-1]
		return
	}
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}
