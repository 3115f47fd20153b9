// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/internal/autofill"
	"github.com/xkilldash9x/actuator/internal/config"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/element"
	"github.com/xkilldash9x/actuator/internal/frames"
	"github.com/xkilldash9x/actuator/internal/observability"
	"github.com/xkilldash9x/actuator/internal/semantic"
	"github.com/xkilldash9x/actuator/internal/store"
	"github.com/xkilldash9x/actuator/internal/webcontroller"
)

// session is one browser tab wired to a WebController.
type session struct {
	wc     *webcontroller.WebController
	logger *zap.Logger

	closers []func()
}

// openSession starts or attaches to a browser, opens a tab on url and builds
// the engine around it. The caller must call close.
func openSession(ctx context.Context, cfg *config.Config, url string) (s *session, err error) {
	logger := observability.Component("session")
	s = &session{logger: logger}
	defer func() {
		if err != nil {
			s.close()
			s = nil
		}
	}()

	shutdown, err := observability.InitializeTracing(ctx, cfg.Tracing, cfg.Logger.ServiceName, os.Stderr)
	if err != nil {
		return s, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.onClose(func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Failed to flush spans", zap.Error(err))
		}
	})

	allocCtx, cancelAlloc := newAllocator(ctx, cfg.Browser)
	s.onClose(cancelAlloc)

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
	s.onClose(cancelTab)

	actions := []chromedp.Action{}
	if url != "" {
		actions = append(actions, chromedp.Navigate(url))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return s, fmt.Errorf("browser failed to start or navigate: %w", err)
	}
	logger.Info("Browser tab ready", zap.String("url", url), zap.Bool("remote", cfg.Browser.RemoteURL != ""))

	client := devtools.NewCDPClient(tabCtx, logger, cfg.Browser.CallTimeout)
	s.onClose(client.Close)

	tree, err := frames.NewCDPTree(ctx, tabCtx, logger)
	if err != nil {
		return s, fmt.Errorf("failed to read frame tree: %w", err)
	}

	deps := element.Deps{
		Client:          client,
		Tree:            tree,
		Logger:          observability.GetLogger(),
		SemanticTimeout: cfg.Engine.SemanticTimeout,
	}

	if cfg.Semantic.Enabled {
		model, err := semantic.NewGeminiModel(ctx, cfg.Semantic, logger)
		if err != nil {
			return s, fmt.Errorf("failed to create semantic model: %w", err)
		}
		deps.Classifier = semantic.NewLLMClassifier(client, tree, model, cfg.Semantic.MaxCandidates, logger,
			semantic.OverridesFromConfig(cfg.Semantic.Overrides)...)
	}

	if cfg.Database.URL != "" {
		st, closePool, err := openStore(ctx, cfg.Database)
		if err != nil {
			return s, err
		}
		s.onClose(closePool)
		deps.Sink = st
	}

	registry := autofill.NewRegistry(logger)
	s.onClose(watchTeardown(tree, client, registry))

	s.wc = webcontroller.New(deps, registry, cfg.Engine)
	return s, nil
}

// sessionReleaser drops the cached devtools session of an iframe target.
type sessionReleaser interface {
	Release(frameID cdp.FrameID)
}

// watchTeardown drops per-frame state whenever the tree reports a frame gone:
// the session of an out-of-process iframe and the frame's autofill state.
func watchTeardown(tree frames.Tree, client sessionReleaser, registry *autofill.Registry) (unsubscribe func()) {
	return tree.Subscribe(func(id frames.GlobalFrameID) {
		registry.Forget(id)
		if id.Process != "" && id.Process == string(id.Frame) {
			// Cancelling a target context waits for its event loop.
			go client.Release(id.Frame)
		}
	})
}

// openStore connects the finder diagnostics store.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	st, err := store.New(ctx, pool, observability.GetLogger())
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

// newAllocator attaches to a running browser when a remote URL is set and
// launches a local one otherwise.
func newAllocator(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	if cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	}
	return chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+len(cfg.Args)+2)
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		name, value := parseBrowserArg(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseBrowserArg splits "--name=value" into a chromedp flag. A bare
// "--name" is a boolean switch.
func parseBrowserArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	name, value, found := strings.Cut(arg, "=")
	if !found {
		return name, true
	}
	return name, value
}

func (s *session) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// close releases everything in reverse order of acquisition.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
