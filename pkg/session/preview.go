package session

import (
	"context"

	"github.com/appforge/appforge/pkg/domain"
)

// bindPreview republishes sandbox server-ready events as the session's
// preview address. Push-driven: the sandbox emits, the binding consumes.
// A later event overwrites an earlier one: last write wins, no history.
func (s *Session) bindPreview(ctx context.Context) {
	events := s.box.ServerReady()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.mu.Lock()
			s.previewURL = ev.URL
			s.mu.Unlock()
			s.display.PreviewChanged(ev.URL)
			s.append(domain.SenderAgent, domain.KindChat,
				"Your app is now reachable at "+ev.URL)
		}
	}
}
