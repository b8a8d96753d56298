// File: cmd/run.go
package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

// errActionFailed marks a run whose action result was unsuccessful. The
// result itself has already been printed.
var errActionFailed = errors.New("action failed")

type runFlags struct {
	page      string
	params    string
	frame     string
	world     string
	checked   bool
	scopeRect string
	pretty    bool
	opts      schemas.DOMActionParams
}

func newRunCmd() *cobra.Command {
	var f runFlags
	runCmd := &cobra.Command{
		Use:   "run --page <file|url> --action <action> [selector]",
		Short: "Runs one DOM action against a page and prints the result as JSON",
		Long: `Runs one DOM action against a page and prints the result as JSON.

The page is an http(s) URL loaded in Chrome, a saved snapshot (.json) or a
local HTML file. --params takes a full action object; individual flags
override its fields.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			params, err := f.build(cmd, args)
			if err != nil {
				return err
			}

			logger := observability.GetLogger()
			reg, err := openRegistry(cmd.Context(), cfg, []string{f.page}, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			res := newDispatcher(cfg, reg, logger).Dispatch(cmd.Context(), 0, params)
			if err := writeJSON(cmd, res, f.pretty); err != nil {
				return err
			}
			if !res.Success {
				logger.Debug("Action did not succeed.", zap.String("error", string(res.Error)), zap.String("message", res.Message))
				return fmt.Errorf("%w: %s", errActionFailed, res.Error)
			}
			return nil
		},
	}

	fl := runCmd.Flags()
	fl.StringVarP(&f.page, "page", "p", "", "page to load: http(s) URL, snapshot .json or HTML file")
	fl.StringVar(&f.params, "params", "", "action params as a JSON object")
	fl.StringVarP((*string)(&f.opts.Action), "action", "a", "", "action to run, e.g. click, type, list_interactive")
	fl.StringVarP(&f.opts.Selector, "selector", "s", "", "CSS, semantic or intent selector")
	fl.StringVar(&f.frame, "frame", "", `frame: "all", an index or an iframe selector`)
	fl.StringVar(&f.world, "world", "", "execution world: auto, main or isolated")
	fl.StringVar(&f.opts.Reason, "reason", "", "reason shown to the user")
	fl.StringVar(&f.opts.Text, "text", "", "text for type")
	fl.StringVar(&f.opts.Value, "value", "", "value for select")
	fl.BoolVar(&f.opts.Clear, "clear", false, "clear the field before typing")
	fl.BoolVar(&f.checked, "checked", false, "desired state for check")
	fl.StringVar(&f.opts.Name, "name", "", "attribute name for get_attribute")
	fl.IntVar(&f.opts.TimeoutMs, "timeout-ms", 0, "wait_for timeout in milliseconds")
	fl.BoolVar(&f.opts.Analyze, "analyze", false, "attach timing and DOM change analysis")
	fl.StringVar(&f.opts.ScopeSelector, "scope-selector", "", "restrict resolution to this container")
	fl.StringVar(&f.scopeRect, "scope-rect", "", `restrict resolution to elements intersecting "x,y,width,height"`)
	fl.StringVar(&f.opts.ElementID, "element-id", "", "target a previously returned element handle")
	fl.BoolVar(&f.opts.ObserveMutations, "observe-mutations", false, "report DOM mutations caused by the action")
	fl.BoolVar(&f.opts.VisibleOnly, "visible-only", false, "list only visible elements")
	fl.BoolVar(&f.pretty, "pretty", true, "indent the JSON output")
	fl.Bool("headless", true, "run Chrome headless for live pages")
	fl.Int("list-limit", 0, "override engine.list_limit")
	fl.Duration("wait-timeout", 0, "override engine.default_wait_timeout")
	_ = runCmd.MarkFlagRequired("page")
	return runCmd
}

// build merges --params with the individual flags. Flags win when set.
func (f *runFlags) build(cmd *cobra.Command, args []string) (schemas.DOMActionParams, error) {
	var p schemas.DOMActionParams
	if s := strings.TrimSpace(f.params); s != "" {
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return p, fmt.Errorf("invalid --params: %w", err)
		}
	}
	changed := cmd.Flags().Changed
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("action", func() { p.Action, p.What = f.opts.Action, "" })
	set("selector", func() { p.Selector = f.opts.Selector })
	set("reason", func() { p.Reason = f.opts.Reason })
	set("text", func() { p.Text = f.opts.Text })
	set("value", func() { p.Value = f.opts.Value })
	set("clear", func() { p.Clear = f.opts.Clear })
	set("checked", func() { v := f.checked; p.Checked = &v })
	set("name", func() { p.Name = f.opts.Name })
	set("timeout-ms", func() { p.TimeoutMs = f.opts.TimeoutMs })
	set("analyze", func() { p.Analyze = f.opts.Analyze })
	set("scope-selector", func() { p.ScopeSelector = f.opts.ScopeSelector })
	set("element-id", func() { p.ElementID = f.opts.ElementID })
	set("observe-mutations", func() { p.ObserveMutations = f.opts.ObserveMutations })
	set("visible-only", func() { p.VisibleOnly = f.opts.VisibleOnly })
	set("world", func() { p.World = f.world })
	if changed("scope-rect") {
		r, err := parseRect(f.scopeRect)
		if err != nil {
			return p, err
		}
		p.ScopeRect = &r
	}
	if changed("frame") {
		raw, err := json.Marshal(f.frame)
		if err != nil {
			return p, err
		}
		p.Frame = raw
	}
	if len(args) == 1 && !changed("selector") {
		p.Selector = args[0]
	}

	if p.EffectiveAction() == "" {
		return p, errors.New("an action is required (--action or --params)")
	}
	return p, nil
}

// parseRect reads a viewport rectangle written as "x,y,width,height".
func parseRect(s string) (schemas.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return schemas.Rect{}, fmt.Errorf("invalid --scope-rect %q: want x,y,width,height", s)
	}
	var v [4]float64
	for i, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return schemas.Rect{}, fmt.Errorf("invalid --scope-rect %q: %w", s, err)
		}
		v[i] = n
	}
	if v[2] < 0 || v[3] < 0 {
		return schemas.Rect{}, fmt.Errorf("invalid --scope-rect %q: width and height must not be negative", s)
	}
	return schemas.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func writeJSON(cmd *cobra.Command, v any, pretty bool) error {
	var (
		raw []byte
		err error
	)
	if pretty {
		raw, err = json.MarshalIndent(v, "", "  ")
	} else {
		raw, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return err
}
