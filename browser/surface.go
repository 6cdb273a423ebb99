package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// bindingName is the page-global function the injected script posts
// messages through.
const bindingName = "__rz_post"

// Surface wraps one Rod page holding the provider's web remote. Outbound
// commands run as script evaluations; inbound messages arrive on a channel
// fed by Runtime.bindingCalled events.
type Surface struct {
	page    *rod.Page
	pageURL string
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan []byte
}

// OpenSurface creates a stealth page, navigates it to the remote URL, wires
// the message binding, and starts forwarding binding calls.
func OpenSurface(ctx context.Context, b *rod.Browser, pageURL string, logger *slog.Logger) (*Surface, error) {
	if logger == nil {
		logger = slog.Default()
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}.Call(page)); err != nil {
		logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	sctx, scancel := context.WithCancel(context.Background())
	s := &Surface{
		page:    page,
		pageURL: pageURL,
		logger:  logger,
		ctx:     sctx,
		cancel:  scancel,
		inbound: make(chan []byte, 64),
	}
	go s.listen()
	return s, nil
}

// listen forwards Runtime.bindingCalled payloads until the page or the
// surface goes away, then closes the inbound channel so the consumer can
// tell the stream ended.
func (s *Surface) listen() {
	defer close(s.inbound)
	s.page.Context(s.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		select {
		case s.inbound <- []byte(e.Payload):
		default:
			s.logger.Warn("browser: inbound message dropped, consumer too slow")
		}
	})()
}

// Eval runs js (a function expression) in the page.
func (s *Surface) Eval(ctx context.Context, js string) error {
	if _, err := s.page.Context(ctx).Eval(js); err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	return nil
}

// Inbound returns the message stream. It is closed when the page is gone.
func (s *Surface) Inbound() <-chan []byte {
	return s.inbound
}

// Alive reports whether the page still answers a trivial evaluation.
func (s *Surface) Alive() bool {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	_, err := s.page.Context(ctx).Eval("() => true")
	return err == nil
}

// URL returns the remote page URL the surface was opened on.
func (s *Surface) URL() string { return s.pageURL }

// Close stops the listener and closes the page.
func (s *Surface) Close() error {
	s.cancel()
	return s.page.Close()
}
