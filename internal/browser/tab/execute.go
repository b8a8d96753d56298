// internal/browser/tab/execute.go
package tab

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// DefaultFrameConcurrency bounds how many frames run an injection at once.
const DefaultFrameConcurrency = 4

// Target selects the frames an injection runs in. An empty target means
// the top frame. Unbounded starts every frame at once instead of holding
// them to the frame concurrency limit. Scripts that block until a deadline
// must use it, or later frames start only after earlier ones time out.
type Target struct {
	AllFrames bool
	FrameIDs  []int
	Unbounded bool
}

// Script is an injected function. It runs against one realm and may block
// until its result is final.
type Script func(ctx context.Context, realm *dom.Realm) (schemas.ActionResult, error)

// InjectionResult is one frame's return value.
type InjectionResult struct {
	FrameID int
	Result  schemas.ActionResult
}

// ExecuteScript injects script into every targeted frame in world and
// collects the results in frame order. The call fails as a whole when the
// tab is closed, a frame id is unknown, the world is blocked, or any frame's
// script fails or panics.
func (t *Tab) ExecuteScript(ctx context.Context, target Target, world dom.World, script Script) ([]InjectionResult, error) {
	realms, err := t.targetRealms(target, world)
	if err != nil {
		return nil, err
	}

	results := make([]InjectionResult, len(realms))
	g, gctx := errgroup.WithContext(ctx)
	if !target.Unbounded {
		g.SetLimit(t.frameConcurrency())
	}
	for i, realm := range realms {
		g.Go(func() (err error) {
			frameID := realm.Frame().ID
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("Injected script panicked.",
						zap.Int("frame_id", frameID),
						zap.String("world", string(world)),
						zap.Any("panic", r))
					err = fmt.Errorf("script panicked in frame %d: %v", frameID, r)
				}
			}()
			res, err := script(gctx, realm)
			if err != nil {
				return fmt.Errorf("frame %d: %w", frameID, err)
			}
			results[i] = InjectionResult{FrameID: frameID, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Tab) targetRealms(target Target, world dom.World) ([]*dom.Realm, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTabClosed
	}
	if len(t.frames) == 0 {
		return nil, ErrNotLoaded
	}
	if world == dom.WorldMain && t.mainBlocked {
		return nil, ErrWorldBlocked
	}

	var frames []*Frame
	switch {
	case target.AllFrames:
		frames = t.frames
	case len(target.FrameIDs) == 0:
		frames = t.frames[:1]
	default:
		for _, id := range target.FrameIDs {
			f, err := t.frameLocked(id)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", id, err)
			}
			frames = append(frames, f)
		}
	}

	realms := make([]*dom.Realm, len(frames))
	for i, f := range frames {
		realms[i] = f.realm(world)
	}
	return realms, nil
}

func (t *Tab) frameConcurrency() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.concurrency <= 0 {
		return DefaultFrameConcurrency
	}
	return t.concurrency
}
