package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultTickInterval  = time.Second
	DefaultFailTimeout   = 5 * DefaultTickInterval
	DefaultRemoveTimeout = 20 * DefaultTickInterval
	DefaultGossipFanout  = 3
)

var (
	ErrInvalidConfig  = errors.New("gossip: invalid config")
	ErrAlreadyStarted = errors.New("gossip: engine already started")
)

// State is the engine's position in the join handshake.
type State int

const (
	NotStarted State = iota
	Joining
	InGroup
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Joining:
		return "JOINING"
	case InGroup:
		return "IN_GROUP"
	default:
		return "UNKNOWN"
	}
}

// Config tunes one Engine.
type Config struct {
	Self       NodeID
	Introducer NodeID

	TickInterval  time.Duration // how often Run calls Step
	FailTimeout   time.Duration // stop vouching for a silent peer after this long
	RemoveTimeout time.Duration // tombstone it this long after FailTimeout
	GossipFanout  int           // peers contacted per tick

	// JoinRetry enables resending JoinRequest while Joining. When nil a node
	// whose request is lost stays Joining forever.
	JoinRetry *JoinRetry

	Logger *zap.Logger
	Events EventLogger // defaults to a ZapEventLogger over Logger
	Rand   *rand.Rand  // peer sampling; time-seeded when nil
}

func (c *Config) setDefaults() error {
	if c.TickInterval < 0 || c.FailTimeout < 0 || c.RemoveTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.GossipFanout < 0 {
		return fmt.Errorf("%w: gossip fanout %d", ErrInvalidConfig, c.GossipFanout)
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.FailTimeout == 0 {
		c.FailTimeout = DefaultFailTimeout
	}
	if c.RemoveTimeout == 0 {
		c.RemoveTimeout = DefaultRemoveTimeout
	}
	if c.GossipFanout == 0 {
		c.GossipFanout = DefaultGossipFanout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Events == nil {
		c.Events = NewZapEventLogger(c.Logger)
	}
	if c.JoinRetry != nil {
		r := *c.JoinRetry
		if err := r.setDefaults(c.TickInterval); err != nil {
			return err
		}
		c.JoinRetry = &r
	}
	return nil
}

// Engine runs the membership protocol for one node. Every exported method is
// safe for concurrent use; all of them serialize on a single mutex.
type Engine struct {
	cfg    Config
	tr     Transport
	clock  Clock
	log    *zap.Logger
	events EventLogger
	label  string

	mu        sync.Mutex
	state     State
	failed    bool
	heartbeat int64
	table     *MemberTable
	join      joinTracker
}

// New builds an engine in the NotStarted state. A nil clock uses the system
// clock.
func New(cfg Config, tr Transport, clock Clock) (*Engine, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	detector := TimeoutDetector{Fail: cfg.FailTimeout, Remove: cfg.RemoveTimeout}
	e := &Engine{
		cfg:    cfg,
		tr:     tr,
		clock:  clock,
		log:    cfg.Logger.Named("gossip").With(zap.Stringer("self", cfg.Self)),
		events: cfg.Events,
		label:  cfg.Self.String(),
		table:  NewMemberTable(cfg.Self, detector, cfg.Rand),
	}
	telemetry.EngineState.WithLabelValues(e.label).Set(float64(NotStarted))
	return e, nil
}

// Start leaves NotStarted. The introducer registers itself and is in the
// group at once; everyone else sends a JoinRequest to the introducer.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != NotStarted {
		return ErrAlreadyStarted
	}
	now := e.clock.Now()
	if e.cfg.Self == e.cfg.Introducer {
		e.log.Info("starting up group")
		e.registerSelf(now)
		e.setState(InGroup)
		return nil
	}
	e.log.Info("trying to join", zap.Stringer("introducer", e.cfg.Introducer))
	e.sendJoinRequest(now)
	e.setState(Joining)
	return nil
}

// HandleMessage decodes and applies one inbound payload. Decode errors are
// returned for the caller's information only; the payload has already been
// discarded without touching the table.
func (e *Engine) HandleMessage(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed {
		return nil
	}
	msg, err := Decode(payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnrecognizedMessageKind):
			telemetry.DecodeErrors.WithLabelValues(e.label, "unrecognized").Inc()
			e.log.Debug("discarding message", zap.Error(err))
		default:
			telemetry.DecodeErrors.WithLabelValues(e.label, "malformed").Inc()
			e.log.Warn("discarding message", zap.Error(err), zap.Int("bytes", len(payload)))
		}
		return err
	}
	telemetry.MessagesReceived.WithLabelValues(e.label, msg.Type().String()).Inc()

	now := e.clock.Now()
	switch m := msg.(type) {
	case JoinRequest:
		e.handleJoinRequest(m, now)
	case JoinReply:
		e.handleJoinReply(m, now)
	case GossipDigest:
		e.merge(m.Members, now)
	}
	telemetry.LiveMembers.WithLabelValues(e.label).Set(float64(e.table.LiveCount()))
	return nil
}

func (e *Engine) handleJoinRequest(req JoinRequest, now time.Duration) {
	if req.From == e.cfg.Self {
		return
	}
	e.log.Debug("join request", zap.Stringer("from", req.From), zap.Int64("heartbeat", req.Heartbeat))
	if e.table.Readmit(req.From, req.Heartbeat, now) == Inserted {
		e.memberAdded(req.From)
	}
	e.send(req.From, JoinReply{Members: e.table.SnapshotForGossip(now)})
}

func (e *Engine) handleJoinReply(rep JoinReply, now time.Duration) {
	e.merge(rep.Members, now)
	if e.state != Joining {
		return
	}
	e.registerSelf(now)
	e.setState(InGroup)
	e.log.Info("joined group", zap.Int("members", e.table.LiveCount()))
}

// merge applies a peer's digest. The local record is ours alone.
func (e *Engine) merge(recs []MemberRecord, now time.Duration) {
	for _, r := range recs {
		if r.ID == e.cfg.Self {
			continue
		}
		if e.table.Upsert(r.ID, r.Heartbeat, now) == Inserted {
			e.memberAdded(r.ID)
		}
	}
}

func (e *Engine) registerSelf(now time.Duration) {
	if e.table.MarkSelf(e.cfg.Self, e.heartbeat, now) == Inserted {
		e.memberAdded(e.cfg.Self)
	}
}

// Tick runs one protocol period: bump and record our heartbeat, tombstone
// expired peers, then push a digest to a random sample of live peers. It does
// nothing unless the node is in the group, apart from join retries.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed {
		return
	}
	now := e.clock.Now()
	if e.state == Joining {
		e.maybeRetryJoin(now)
		return
	}
	if e.state != InGroup {
		return
	}

	e.heartbeat++
	e.table.MarkSelf(e.cfg.Self, e.heartbeat, now)

	for _, id := range e.table.ExpireStale(now) {
		e.memberRemoved(id)
	}

	if targets := e.table.RandomLiveSample(e.cfg.GossipFanout); len(targets) > 0 {
		digest := GossipDigest{Members: e.table.SnapshotForGossip(now)}
		for _, to := range targets {
			e.send(to, digest)
		}
	}
	telemetry.LiveMembers.WithLabelValues(e.label).Set(float64(e.table.LiveCount()))
}

// Step drains every payload already queued on the transport and then ticks,
// so a tick always sees the freshest merged state.
func (e *Engine) Step() {
	if e.Failed() {
		return
	}
	start := time.Now()
	for {
		b, ok := e.tr.Receive()
		if !ok {
			break
		}
		_ = e.HandleMessage(b)
	}
	e.Tick()
	telemetry.TickDuration.Observe(time.Since(start).Seconds())
}

// Run starts the engine if needed and calls Step every TickInterval until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.State() == NotStarted {
		if err := e.Start(); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Step()
		}
	}
}

// Fail simulates a crash: the node stops receiving, ticking and sending, and
// peers eventually time it out.
func (e *Engine) Fail() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.failed {
		e.failed = true
		e.log.Warn("node failed")
	}
}

func (e *Engine) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

func (e *Engine) Self() NodeID { return e.cfg.Self }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Heartbeat is the local heartbeat counter.
func (e *Engine) Heartbeat() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heartbeat
}

// Members returns every record in the table, tombstones included.
func (e *Engine) Members() []MemberRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Records()
}

// Member returns the record for id.
func (e *Engine) Member(id NodeID) (MemberRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Get(id)
}

// LiveMembers returns the identities of alive records in order, self included.
func (e *Engine) LiveMembers() []NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []NodeID
	for _, r := range e.table.Records() {
		if r.Alive {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (e *Engine) setState(s State) {
	e.state = s
	telemetry.EngineState.WithLabelValues(e.label).Set(float64(s))
}

func (e *Engine) memberAdded(id NodeID) {
	telemetry.MembershipEvents.WithLabelValues(e.label, "add").Inc()
	e.events.MemberAdded(e.cfg.Self, id)
}

func (e *Engine) memberRemoved(id NodeID) {
	telemetry.MembershipEvents.WithLabelValues(e.label, "remove").Inc()
	e.events.MemberRemoved(e.cfg.Self, id)
}

func (e *Engine) send(to NodeID, m Message) {
	b, err := Encode(m)
	if err != nil {
		e.log.Error("encode failed", zap.Stringer("type", m.Type()), zap.Error(err))
		return
	}
	if err := e.tr.Send(to, b); err != nil {
		telemetry.SendFailures.WithLabelValues(e.label).Inc()
		e.log.Debug("send failed", zap.Stringer("to", to), zap.Stringer("type", m.Type()), zap.Error(err))
		return
	}
	telemetry.MessagesSent.WithLabelValues(e.label, m.Type().String()).Inc()
}
