package server

import "github.com/rs/zerolog/log"

// frameListener is one pending frame callback: the client that requested
// it and the callback id to fire `done` on (§3 "Frame listener" — a
// zero-argument one-shot resource, not tied to any particular surface in
// the core protocol).
type frameListener struct {
	client     *Client
	callbackID uint32
}

func (f frameListener) fire() {
	if err := f.client.fireCallback(f.callbackID); err != nil {
		log.Error().Err(err).Msg("server: fire frame callback")
	}
}
