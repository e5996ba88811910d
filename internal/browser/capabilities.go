package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"browsertour/internal/command"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Commands returns the command table without a live page, for listing.
// Invoking its capabilities panics.
func Commands() *command.Registry {
	return newPage("", nil, 0, zap.NewNop()).Capabilities()
}

// capabilities builds the command table for p. Selector commands wait for
// their element (bounded by the navigation timeout) before acting.
func (p *Page) capabilities() []command.Capability {
	return []command.Capability{
		p.element("click", "click the first element matching the selector", func(el *rod.Element) error {
			return el.Click(proto.InputMouseButtonLeft, 1)
		}),
		p.element("dblclick", "double-click the element", func(el *rod.Element) error {
			return el.Click(proto.InputMouseButtonLeft, 2)
		}),
		p.element("hover", "move the mouse over the element", func(el *rod.Element) error {
			return el.Hover()
		}),
		p.element("focus", "focus the element", func(el *rod.Element) error {
			return el.Focus()
		}),
		p.element("tap", "tap the element with a touch event", func(el *rod.Element) error {
			return el.Tap()
		}),
		p.element("clear", "clear an input or textarea", func(el *rod.Element) error {
			if err := el.SelectAllText(); err != nil {
				return err
			}
			return el.Input("")
		}),
		p.element("waitFor", "wait until the element exists", func(*rod.Element) error {
			return nil
		}),
		p.element("waitForVisible", "wait until the element is visible", func(el *rod.Element) error {
			return el.WaitVisible()
		}),
		command.NewSelector("waitForHidden", "wait until the element is hidden or gone", func(ctx context.Context, selector string) error {
			pg, done := p.bounded(ctx)
			defer done()
			has, el, err := pg.Has(selector)
			if err != nil || !has {
				return err
			}
			return el.WaitInvisible()
		}),

		command.NewVariadic("type", "type(selector, text) replaces the element's value with text", func(ctx context.Context, args ...any) error {
			selector, err := argString("type", args, 0)
			if err != nil {
				return err
			}
			text, err := argString("type", args, 1)
			if err != nil {
				return err
			}
			return p.withElement(ctx, selector, func(el *rod.Element) error {
				return el.Input(text)
			})
		}),
		command.NewVariadic("select", "select(selector, option...) selects options by visible text", func(ctx context.Context, args ...any) error {
			selector, err := argString("select", args, 0)
			if err != nil {
				return err
			}
			options := make([]string, 0, len(args)-1)
			for i := 1; i < len(args); i++ {
				opt, err := argString("select", args, i)
				if err != nil {
					return err
				}
				options = append(options, opt)
			}
			if len(options) == 0 {
				return fmt.Errorf("select: no options given: %w", command.ErrArity)
			}
			return p.withElement(ctx, selector, func(el *rod.Element) error {
				return el.Select(options, true, rod.SelectorTypeText)
			})
		}),
		command.NewVariadic("press", "press(key...) sends key presses such as Enter or Tab", func(ctx context.Context, args ...any) error {
			if len(args) == 0 {
				return fmt.Errorf("press: no keys given: %w", command.ErrArity)
			}
			pg, done := p.bounded(ctx)
			defer done()
			for i := range args {
				name, err := argString("press", args, i)
				if err != nil {
					return err
				}
				if key, ok := lookupKey(name); ok {
					if err := pg.Keyboard.Type(key); err != nil {
						return err
					}
					continue
				}
				if err := pg.InsertText(name); err != nil {
					return err
				}
			}
			return nil
		}),
		command.NewVariadic("evaluate", "evaluate(js, arg...) runs a JavaScript function in the page", func(ctx context.Context, args ...any) error {
			js, err := argString("evaluate", args, 0)
			if err != nil {
				return err
			}
			pg, done := p.bounded(ctx)
			defer done()
			res, err := pg.Eval(js, args[1:]...)
			if err != nil {
				return err
			}
			p.logger.Debug("evaluated", zap.String("result", res.Value.String()))
			return nil
		}),
		command.NewVariadic("scroll", "scroll(dx, dy) scrolls the page by pixels", func(ctx context.Context, args ...any) error {
			dx, err := argNumber("scroll", args, 0)
			if err != nil {
				return err
			}
			dy, err := argNumber("scroll", args, 1)
			if err != nil {
				return err
			}
			pg, done := p.bounded(ctx)
			defer done()
			return pg.Mouse.Scroll(dx, dy, 1)
		}),
		command.NewVariadic("setViewport", "setViewport(width, height) resizes the viewport", func(ctx context.Context, args ...any) error {
			w, err := argNumber("setViewport", args, 0)
			if err != nil {
				return err
			}
			h, err := argNumber("setViewport", args, 1)
			if err != nil {
				return err
			}
			pg, done := p.bounded(ctx)
			defer done()
			return pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
				Width:             int(w),
				Height:            int(h),
				DeviceScaleFactor: 1.0,
			})
		}),
		command.NewVariadic("goto", "goto(url) navigates without consuming a root task", func(ctx context.Context, args ...any) error {
			url, err := argString("goto", args, 0)
			if err != nil {
				return err
			}
			return p.Navigate(ctx, url)
		}),
		command.NewVariadic("sleep", "sleep(ms) pauses the tour", func(ctx context.Context, args ...any) error {
			ms, err := argNumber("sleep", args, 0)
			if err != nil {
				return err
			}
			return p.Wait(ctx, time.Duration(ms)*time.Millisecond)
		}),
		command.NewVariadic("waitStable", "waitStable(ms?) waits until the DOM stops changing", func(ctx context.Context, args ...any) error {
			d := 300 * time.Millisecond
			if len(args) > 0 {
				ms, err := argNumber("waitStable", args, 0)
				if err != nil {
					return err
				}
				d = time.Duration(ms) * time.Millisecond
			}
			pg, done := p.bounded(ctx)
			defer done()
			return pg.WaitStable(d)
		}),
		command.NewVariadic("screenshot", "screenshot(path?) saves a PNG of the viewport", func(ctx context.Context, args ...any) error {
			path := ""
			if len(args) > 0 {
				var err error
				if path, err = argString("screenshot", args, 0); err != nil {
					return err
				}
			}
			return p.screenshot(ctx, path)
		}),

		p.nullary("reload", "reload the page", func(pg *rod.Page) error {
			if err := pg.Reload(); err != nil {
				return err
			}
			return pg.WaitLoad()
		}),
		p.nullary("goBack", "go back in history", func(pg *rod.Page) error {
			return pg.NavigateBack()
		}),
		p.nullary("goForward", "go forward in history", func(pg *rod.Page) error {
			return pg.NavigateForward()
		}),
		p.nullary("waitLoad", "wait for the load event", func(pg *rod.Page) error {
			return pg.WaitLoad()
		}),
		p.nullary("waitIdle", "wait until the network is idle", func(pg *rod.Page) error {
			return pg.WaitIdle(p.timeout)
		}),
		p.nullary("title", "log the document title", func(pg *rod.Page) error {
			info, err := pg.Info()
			if err != nil {
				return err
			}
			p.logger.Info("page title", zap.String("title", info.Title), zap.String("url", info.URL))
			return nil
		}),
	}
}

func (p *Page) element(name, doc string, act func(*rod.Element) error) command.Capability {
	return command.NewSelector(name, doc, func(ctx context.Context, selector string) error {
		return p.withElement(ctx, selector, act)
	})
}

func (p *Page) withElement(ctx context.Context, selector string, act func(*rod.Element) error) error {
	pg, done := p.bounded(ctx)
	defer done()
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	return act(el)
}

func (p *Page) nullary(name, doc string, act func(*rod.Page) error) command.Capability {
	return command.NewNullary(name, doc, func(ctx context.Context) error {
		pg, done := p.bounded(ctx)
		defer done()
		return act(pg)
	})
}

func argString(name string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d: %w", name, i+1, command.ErrArity)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("%s: argument %d must be a string, got %T: %w", name, i+1, v, command.ErrArity)
	}
}

func argNumber(name string, args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%s: missing argument %d: %w", name, i+1, command.ErrArity)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s: argument %d must be a number, got %T: %w", name, i+1, v, command.ErrArity)
	}
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
}

// lookupKey resolves a key name (case-insensitive) or a single printable
// ASCII character. Anything else is inserted as text.
func lookupKey(name string) (input.Key, bool) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, true
	}
	if len(name) == 1 && name[0] >= ' ' && name[0] <= '~' {
		return input.Key(name[0]), true
	}
	return 0, false
}
