package browser

import (
	"context"
	"fmt"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// Page is the subset of a browser tab the extractor drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	SendKeys(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Location(ctx context.Context) (string, error)
	Close() error
}

// ChromePage is a single headless Chrome tab driven over the DevTools protocol.
type ChromePage struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewChromePage starts Chrome and routes downloads of its only tab into downloadDir.
func NewChromePage(ctx context.Context, headless bool, downloadDir string) (*ChromePage, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	err := chromedp.Run(tab, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(downloadDir).
		WithEventsEnabled(true))
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &ChromePage{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// run executes actions in the tab, bounded by ctx's deadline and cancellation.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Page.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// SendKeys implements Page.
func (p *ChromePage) SendKeys(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Click implements Page.
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// Location implements Page.
func (p *ChromePage) Location(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Close shuts the tab and the browser process.
func (p *ChromePage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}
