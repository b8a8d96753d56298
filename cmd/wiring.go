// File: cmd/wiring.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/cdp"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/primitives"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/style"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/tab"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/dispatch"
	"github.com/xkilldash9x/scalpel-pilot/internal/pilot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotPage loads a live page. Tests replace it to avoid Chrome.
var snapshotPage = defaultSnapshotPage

func defaultSnapshotPage(ctx context.Context, cfg config.BrowserConfig, url string, logger *zap.Logger) (tab.Snapshot, error) {
	return cdp.NewSnapshotter(snapshotterOptions(cfg), logger).Snapshot(ctx, url)
}

func engineSettings(c config.EngineConfig) primitives.Settings {
	return primitives.Settings{
		SettleFallback:     c.SettleFallback,
		FrameSettle:        c.FrameSettle,
		WaitPollInterval:   c.WaitPollInterval,
		DefaultWaitTimeout: c.DefaultWaitTimeout,
		ListLimit:          c.ListLimit,
		ShadowDepth:        c.ShadowDepth,
		CandidateLimit:     c.CandidateLimit,
		MutationLimit:      c.MutationLimit,
	}
}

func dispatchSettings(c config.DispatchConfig) dispatch.Settings {
	return dispatch.Settings{DefaultWorld: c.DefaultWorld, ProbeWorld: c.ProbeWorld}
}

func serviceSettings(c config.PilotConfig) pilot.ServiceSettings {
	return pilot.ServiceSettings{
		MaxInFlight:    c.MaxInFlight,
		QueryTimeout:   c.QueryTimeout,
		ToastMinTrying: c.ToastMinTrying,
	}
}

func syncSettings(c config.PilotConfig) pilot.SyncSettings {
	return pilot.SyncSettings{
		ServerURL:        c.ServerURL,
		SessionID:        c.SessionID,
		ExtensionVersion: c.ExtensionVersion,
		PollInterval:     c.PollInterval,
		MinPollInterval:  c.MinPollInterval,
		FailureThreshold: c.FailureThreshold,
		BreakerCooldown:  c.BreakerCooldown,
	}
}

func snapshotterOptions(c config.BrowserConfig) cdp.Options {
	return cdp.Options{
		Headless:          c.Headless,
		ViewportWidth:     c.ViewportWidth,
		ViewportHeight:    c.ViewportHeight,
		NavigationTimeout: c.NavigationTimeout,
		Flags:             c.ChromeFlags,
	}
}

func isLiveURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// openTab builds tab id from source: an http(s) URL captured through
// Chrome, a saved snapshot (.json) with its frame tree, or a local HTML file.
func openTab(ctx context.Context, cfg *config.Config, id int, source string, logger *zap.Logger) (*tab.Tab, error) {
	opts := []tab.Option{
		tab.WithLogger(logger),
		tab.WithFrameConcurrency(cfg.Dispatch().FrameConcurrency),
	}
	if b := cfg.Browser(); b.ViewportWidth > 0 && b.ViewportHeight > 0 {
		opts = append(opts, tab.WithViewport(style.Viewport{Width: float64(b.ViewportWidth), Height: float64(b.ViewportHeight)}))
	}
	t := tab.New(id, opts...)

	if isLiveURL(source) {
		snap, err := snapshotPage(ctx, cfg.Browser(), source, logger)
		if err != nil {
			return nil, err
		}
		if err := t.Load(snap); err != nil {
			return nil, fmt.Errorf("failed to load snapshot of %s: %w", source, err)
		}
		return t, nil
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", source, err)
	}
	if strings.EqualFold(filepath.Ext(source), ".json") {
		var snap tab.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", source, err)
		}
		if err := t.Load(snap); err != nil {
			return nil, fmt.Errorf("failed to load snapshot %s: %w", source, err)
		}
		return t, nil
	}
	if err := t.LoadHTML("file://"+source, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to load page %s: %w", source, err)
	}
	return t, nil
}

// openRegistry opens every source as tabs 1..n. The first one is active.
func openRegistry(ctx context.Context, cfg *config.Config, sources []string, logger *zap.Logger) (*tab.Registry, error) {
	reg := tab.NewRegistry()
	for i, src := range sources {
		t, err := openTab(ctx, cfg, i+1, src, logger)
		if err != nil {
			reg.Close()
			return nil, err
		}
		reg.Add(t)
	}
	return reg, nil
}

func newDispatcher(cfg *config.Config, reg *tab.Registry, logger *zap.Logger) *dispatch.Dispatcher {
	engine := primitives.NewEngine(engineSettings(cfg.Engine()), logger)
	return dispatch.New(engine, reg, dispatchSettings(cfg.Dispatch()), logger)
}
