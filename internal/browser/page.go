package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"browsertour/internal/command"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// Page drives one Rod page for a tour. It satisfies runner.Page.
type Page struct {
	id      string
	rod     *rod.Page
	timeout time.Duration
	logger  *zap.Logger
	reg     *command.Registry

	mu      sync.Mutex
	lastURL string

	// ScreenshotDir is where screenshot without a path argument writes files.
	ScreenshotDir string
}

func newPage(id string, rp *rod.Page, timeout time.Duration, logger *zap.Logger) *Page {
	p := &Page{
		id:      id,
		rod:     rp,
		timeout: timeout,
		logger:  logger.With(zap.String("page", id)),
	}
	p.reg = command.NewRegistry(p.capabilities()...)
	return p
}

// ID is the page's journal identifier.
func (p *Page) ID() string { return p.id }

// Capabilities lists the commands a tour may call on this page.
func (p *Page) Capabilities() *command.Registry { return p.reg }

// bounded returns the page bound to ctx with the navigation timeout applied.
func (p *Page) bounded(ctx context.Context) (*rod.Page, func()) {
	pg := p.rod.Context(ctx).Timeout(p.timeout)
	return pg, func() { pg.CancelTimeout() }
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg, done := p.bounded(ctx)
	defer done()
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	p.setURL(url)
	return nil
}

// URL reports the page's current address. When the target cannot be queried
// the last known address is returned.
func (p *Page) URL() string {
	info, err := p.rod.Info()
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lastURL
	}
	p.setURL(info.URL)
	return info.URL
}

func (p *Page) setURL(url string) {
	p.mu.Lock()
	p.lastURL = url
	p.mu.Unlock()
}

// Wait pauses for d or until ctx is done.
func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	pg, done := p.bounded(ctx)
	defer done()
	return pg.HTML()
}

func (p *Page) screenshot(ctx context.Context, path string) error {
	pg, done := p.bounded(ctx)
	defer done()
	data, err := pg.Screenshot(false, nil)
	if err != nil {
		return err
	}
	if path == "" {
		path = filepath.Join(p.ScreenshotDir, fmt.Sprintf("tourbot-%d.png", time.Now().UnixMilli()))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	p.logger.Info("screenshot saved", zap.String("path", path))
	return nil
}

func (p *Page) close() error {
	return p.rod.Close()
}
