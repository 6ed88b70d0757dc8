package portal

import "context"

// Page is the browser surface the portal flow drives. Selectors are CSS.
// Fill, Click and SetFiles wait for their element until ctx ends.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	// Exists checks for a matching element without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	// Text returns the visible text of the document body.
	Text(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
