package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/chromedp"

	"pageturner/internal/config"
)

// Launcher owns browser startup. A capture run holds the browser
// exclusively from Acquire until it calls the returned release func;
// the reader has a single mutable cursor, so runs never share it.
// The persistent user-data dir keeps the reader's login between runs.
type Launcher struct {
	mu  sync.Mutex
	cfg config.Config
	log *slog.Logger
}

func NewLauncher(cfg config.Config, log *slog.Logger) *Launcher {
	return &Launcher{cfg: cfg, log: log}
}

// Acquire starts a browser, opens the reader URL and locates the
// reader surface. The release func is safe to call more than once and
// must be called even on error paths after a successful Acquire.
func (l *Launcher) Acquire(ctx context.Context, url string) (Session, func(), error) {
	l.mu.Lock()

	dataDir := l.cfg.UserDataDir
	if dataDir == "" {
		dataDir = filepath.Join(l.cfg.DataDir, "browser")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		l.mu.Unlock()
		return nil, nil, fmt.Errorf("create browser profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.WindowSize(1600, 1200),
		chromedp.UserDataDir(dataDir),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx)

	var once sync.Once
	release := func() {
		once.Do(func() {
			pageCancel()
			allocCancel()
			l.mu.Unlock()
		})
	}

	navCtx, navCancel := context.WithTimeout(pageCtx, l.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		release()
		return nil, nil, fmt.Errorf("open reader url: %w", err)
	}

	br := &BookReader{
		ctx:         pageCtx,
		loadTimeout: l.cfg.LoadTimeout,
		log:         l.log.With("component", "viewer"),
	}
	if err := br.findReader(pageCtx, l.cfg.FindReaderTimeout); err != nil {
		release()
		return nil, nil, err
	}
	l.log.Info("reader located", "url", url, "frame_path", br.framePath)
	return br, release, nil
}
