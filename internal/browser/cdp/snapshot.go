// internal/browser/cdp/snapshot.go
package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/tab"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configure the Chrome instance used for snapshots.
type Options struct {
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	// Flags are extra command-line switches, either "name" or "name=value",
	// with or without leading dashes.
	Flags []string
}

// snapshotScript serializes the page and every same-origin frame, open
// shadow roots included. Frames are listed in the same flat-tree order the
// tab model uses to pair them with their <iframe> elements.
const snapshotScript = `(() => {
  const walk = (root, fn) => {
    for (const el of root.querySelectorAll('*')) {
      fn(el);
      if (el.shadowRoot) walk(el.shadowRoot, fn);
    }
  };
  const serialize = (doc) => {
    const roots = [];
    const iframes = [];
    walk(doc, (el) => {
      if (el.shadowRoot) roots.push(el.shadowRoot);
      if (el.tagName === 'IFRAME') iframes.push(el);
    });
    const el = doc.documentElement;
    let html = el ? el.outerHTML : '';
    if (el && typeof el.getHTML === 'function') {
      html = '<html' + Array.from(el.attributes).map(a => ' ' + a.name + '="' + a.value.replace(/"/g, '&quot;') + '"').join('') + '>' +
        el.getHTML({ serializableShadowRoots: true, shadowRoots: roots }) + '</html>';
    }
    const frames = iframes.map((f) => {
      try {
        const d = f.contentDocument;
        if (d) return serialize(d);
      } catch (e) {}
      return { url: f.src || 'about:blank', title: '', html: '', frames: [] };
    });
    return { url: doc.URL, title: doc.title, html: '<!DOCTYPE html>' + html, frames };
  };
  return serialize(document);
})()`

// Snapshotter loads live pages in Chrome and captures them as tab snapshots.
type Snapshotter struct {
	opts   Options
	logger *zap.Logger
}

// NewSnapshotter creates a snapshotter. Chrome is started per call.
func NewSnapshotter(opts Options, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Snapshotter{opts: opts, logger: logger.Named("cdp")}
}

// Snapshot navigates to url and serializes the resulting frame tree.
func (s *Snapshotter) Snapshot(ctx context.Context, url string) (tab.Snapshot, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(s.opts)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.logger.Sugar().Debugf))
	defer cancelBrowser()

	opCtx, cancel := context.WithTimeout(browserCtx, s.opts.NavigationTimeout)
	defer cancel()

	var raw []byte
	actions := []chromedp.Action{}
	if s.opts.ViewportWidth > 0 && s.opts.ViewportHeight > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight), 1, false))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(snapshotScript, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true)
		}),
	)

	start := time.Now()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return tab.Snapshot{}, fmt.Errorf("timeout loading %s: %w", url, opCtx.Err())
		}
		return tab.Snapshot{}, fmt.Errorf("failed to snapshot %s: %w", url, err)
	}

	var snap tab.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return tab.Snapshot{}, fmt.Errorf("failed to decode snapshot of %s: %w", url, err)
	}
	s.logger.Info("Captured page snapshot.",
		zap.String("url", snap.URL),
		zap.Int("bytes", len(snap.HTML)),
		zap.Int("frames", countFrames(snap)),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

func countFrames(s tab.Snapshot) int {
	n := len(s.Frames)
	for _, f := range s.Frames {
		n += countFrames(f)
	}
	return n
}

// allocatorOptions builds the Chrome switches from opts. Headless is only
// added when opts.Headless is set.
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if opts.Headless {
		out = append(out, chromedp.Headless)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	}
	for _, arg := range opts.Flags {
		key, value := parseFlag(arg)
		if key == "" {
			continue
		}
		out = append(out, chromedp.Flag(key, value))
	}
	return out
}

// parseFlag splits "--name=value" into a chromedp flag. Bare names are
// boolean switches.
func parseFlag(arg string) (string, any) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	key, value, found := strings.Cut(arg, "=")
	if !found {
		return key, true
	}
	return key, value
}
