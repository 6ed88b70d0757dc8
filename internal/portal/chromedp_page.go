package portal

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/portalpilot/internal/browser"
)

const bodyTextJS = `document.body ? document.body.innerText : ""`

// chromedpPage drives a ChromeSession.
type chromedpPage struct {
	session *browser.ChromeSession
}

// NewChromedpPage wraps a chromedp session. The page owns the session.
func NewChromedpPage(s *browser.ChromeSession) Page {
	return &chromedpPage{session: s}
}

// run executes actions on the session's tab, bounded by ctx. chromedp needs
// its own context, so ctx only contributes its cancellation.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.session.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromedpPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	return p.run(ctx,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery),
	)
}

func (p *chromedpPage) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *chromedpPage) Text(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(bodyTextJS, &text))
	return text, err
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 80))
	return buf, err
}

func (p *chromedpPage) Close() error {
	return p.session.Close()
}
