package portal

import (
	"context"

	"github.com/go-rod/rod/lib/proto"

	"github.com/xkilldash9x/portalpilot/internal/browser"
)

// rodPage drives a RodSession.
type rodPage struct {
	session *browser.RodSession
}

// NewRodPage wraps a rod session. The page owns the session.
func NewRodPage(s *browser.RodSession) Page {
	return &rodPage{session: s}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.session.Page().Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.session.Page().Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.session.Page().Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	el, err := p.session.Page().Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.SetFiles(paths)
}

func (p *rodPage) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.session.Page().Context(ctx).Has(selector)
	return has, err
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	res, err := p.session.Page().Context(ctx).Eval(`() => ` + bodyTextJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.session.Page().Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Close() error {
	return p.session.Close()
}
