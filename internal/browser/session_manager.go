package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"browsertour/internal/config"
	"browsertour/internal/mangle"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a page is requested before Start.
var ErrNotConnected = errors.New("browser not connected")

// EngineSink receives page-level facts (navigations, console output, responses).
type EngineSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// SessionManager owns the Chrome instance and the pages opened for tours.
type SessionManager struct {
	cfg    config.BrowserConfig
	engine EngineSink
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	pages      map[string]*Page
	controlURL string
}

// NewSessionManager creates a manager. sink and logger may be nil.
func NewSessionManager(cfg config.BrowserConfig, sink EngineSink, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:    cfg,
		engine: sink,
		logger: logger.With(zap.String("component", "browser")),
		pages:  make(map[string]*Page),
	}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.pages = make(map[string]*Page)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		l := m.newLauncher()
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		m.launcher = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if d := m.cfg.SlowMotionDelay(); d > 0 {
		browser = browser.SlowMotion(d)
	}
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	if m.cfg.IgnoreCertErrors {
		if err := browser.IgnoreCertErrors(true); err != nil {
			m.logger.Warn("ignore cert errors failed", zap.Error(err))
		}
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// newLauncher builds a launcher from browser.launch. The first element is the
// binary; the rest are Chrome flags. With no launch command Rod locates or
// downloads a browser itself.
func (m *SessionManager) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	if m.cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}
	return l
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// OpenPage creates a blank page in a fresh incognito context, applies the
// configured viewport and user agent, and starts streaming its events into the
// sink.
func (m *SessionManager) OpenPage(ctx context.Context) (*Page, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	rp, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}
	if m.cfg.UserAgent != "" {
		if err := rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent}); err != nil {
			m.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}

	page := newPage(uuid.NewString(), rp, m.cfg.NavigationTimeout(), m.logger)

	m.mu.Lock()
	m.pages[page.ID()] = page
	m.mu.Unlock()

	m.startEventStream(ctx, page)
	return page, nil
}

// ClosePage closes a page opened by OpenPage.
func (m *SessionManager) ClosePage(id string) error {
	m.mu.Lock()
	page, ok := m.pages[id]
	delete(m.pages, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return page.close()
}

// Shutdown closes tracked pages and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, page := range m.pages {
		_ = page.close()
		delete(m.pages, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

// startEventStream records navigations, console errors and warnings, and
// document responses as facts until ctx ends or the page closes.
func (m *SessionManager) startEventStream(ctx context.Context, page *Page) {
	if m.engine == nil {
		return
	}

	pageID := page.ID()
	emit := func(predicate string, args ...interface{}) {
		now := time.Now()
		fact := mangle.Fact{
			Predicate: predicate,
			Args:      append([]interface{}{pageID}, append(args, now.UnixMilli())...),
			Timestamp: now,
		}
		if err := m.engine.AddFacts(ctx, []mangle.Fact{fact}); err != nil {
			m.logger.Debug("page fact dropped", zap.String("page", pageID), zap.String("predicate", predicate), zap.Error(err))
		}
	}

	wait := page.rod.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame.ParentID != "" {
				return
			}
			emit("page_navigated", ev.Frame.URL)
		},
		func(ev *proto.RuntimeConsoleAPICalled) {
			if ev.Type != proto.RuntimeConsoleAPICalledTypeError && ev.Type != proto.RuntimeConsoleAPICalledTypeWarning {
				return
			}
			emit("console_event", string(ev.Type), stringifyConsoleArgs(ev.Args))
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Type != proto.NetworkResourceTypeDocument || ev.Response == nil {
				return
			}
			emit("net_response", ev.Response.URL, ev.Response.Status)
		},
	)
	go wait()
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}
