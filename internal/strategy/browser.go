package strategy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

// BrowserConfig configures the shared Chrome instance
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket of an external Chrome; empty
	// launches a local one
	RemoteURL string
	Bin       string
	NoSandbox bool
	Headful   bool
}

// Browser owns one long-lived Chrome process shared by every headless
// step. It connects lazily and reconnects after a crash.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a browser manager; Chrome starts on first use
func NewBrowser(cfg BrowserConfig) *Browser {
	return &Browser{cfg: cfg}
}

func (b *Browser) connectLocked() (*rod.Browser, error) {
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(!b.cfg.Headful).
			NoSandbox(b.cfg.NoSandbox).
			Set("disable-blink-features", "AutomationControlled")
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		logrus.Infof("Launched local Chrome at %s", wsURL)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		b.cleanupLocked()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	b.browser = rb
	return rb, nil
}

// Page opens a new stealth tab. The caller binds it to a context and
// must close it.
func (b *Browser) Page() (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("browser is closed")
	}

	rb, err := b.connectLocked()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(rb)
	if err != nil {
		// A dead connection is replaced on the next call
		logrus.Warnf("Failed to open tab, resetting browser: %v", err)
		b.cleanupLocked()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return page, nil
}

// Close shuts Chrome down
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.cleanupLocked()
}

func (b *Browser) cleanupLocked() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
