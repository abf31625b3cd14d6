package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/discovery"
	"github.com/ryandielhenn/zephyrgossip/internal/config"
	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/node"
)

// set with -ldflags "-X main.version=... -X main.gitSHA=..."
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		zap.NewExample().Fatal("bad configuration", zap.Error(err))
	}

	logger := newLogger(cfg.LogDev)
	defer logger.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Open the gossip endpoint
	tr, err := gossip.ListenUDP(cfg.Self(), cfg.QueueSize, logger)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	defer tr.Close()
	self := tr.LocalID()
	logger.Info("[Boot] gossip endpoint open", zap.Stringer("self", self), zap.Stringer("addr", self.AddrPort()))

	// 2. Find the introducer
	introducer, release, err := resolveIntroducer(ctx, &cfg, self, logger)
	if err != nil {
		logger.Fatal("resolve introducer", zap.Error(err))
	}
	defer release()
	logger.Info("[Boot] introducer resolved", zap.Stringer("introducer", introducer))

	// 3. Build the engine
	gc := cfg.GossipConfig(introducer)
	gc.Self = self
	gc.Logger = logger
	eng, err := gossip.New(gc, tr, gossip.NewSystemClock())
	if err != nil {
		logger.Fatal("engine", zap.Error(err))
	}

	// 4. Admin endpoints
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: node.NewNode(eng).Handler()}
	go func() {
		logger.Info("[Boot] admin listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server", zap.Error(err))
			stop()
		}
	}()

	go watchJoin(ctx, eng, cfg.FailTimeout, logger)

	// 5. Run until signalled
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("bye")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewExample()
	}
	return l
}

// resolveIntroducer picks the introducer: explicit config first, then an
// etcd claim, otherwise this node bootstraps a group of its own.
func resolveIntroducer(ctx context.Context, cfg *config.Config, self gossip.NodeID, logger *zap.Logger) (gossip.NodeID, func(), error) {
	if cfg.IntroducerAddr != "" {
		id, err := gossip.ParseNodeID(cfg.IntroducerAddr)
		return id, func() {}, err
	}
	if len(cfg.EtcdEndpoints) == 0 {
		logger.Warn("no introducer configured, starting a new group")
		return self, func() {}, nil
	}

	cli, err := discovery.NewClient(cfg.EtcdEndpoints)
	if err != nil {
		return gossip.NodeID{}, nil, err
	}
	logger.Info("[Boot] claiming introducer in etcd", zap.Strings("endpoints", cli.Endpoints()))
	claimCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	intro, release, err := discovery.Claim(claimCtx, cli, self, cfg.EtcdTTL)
	if err != nil {
		cli.Close()
		return gossip.NodeID{}, nil, err
	}
	return intro, func() {
		release()
		cli.Close()
	}, nil
}

// watchJoin keeps reminding the operator while the node is stuck joining.
func watchJoin(ctx context.Context, eng *gossip.Engine, every time.Duration, logger *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := eng.State()
			if st == gossip.InGroup {
				return
			}
			logger.Warn("node has not reached IN_GROUP",
				zap.Stringer("state", st), zap.Int("join_attempts", eng.JoinAttempts()))
		}
	}
}
