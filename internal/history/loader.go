// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history loads prior session messages into the conversation store.
//
// History is never cached: every bind fetches it fresh. A page that arrives
// after the store moved on to another session is dropped.
package history

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/store"
)

// DefaultLimit is the page size used when none is given.
const DefaultLimit = 50

// maxPages bounds LoadAll against a backend that never clears hasMore.
const maxPages = 1000

// Fetcher reads one page of history.
type Fetcher interface {
	History(ctx context.Context, sessionID string, limit, offset int) (model.HistoryPage, error)
}

// Loader fetches history pages and replaces the store's message list.
type Loader struct {
	fetcher Fetcher
	store   *store.Store
	logger  zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader reading through fetcher into st.
func NewLoader(fetcher Fetcher, st *store.Store, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		store:   st,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches one page and, while the store is still bound to sessionID,
// replaces its message list with the page items. A failure is recorded as
// the store error and leaves the messages untouched.
func (l *Loader) Load(ctx context.Context, sessionID string, limit, offset int) (model.HistoryPage, error) {
	if sessionID == "" {
		return model.HistoryPage{}, errors.New("history: empty session id")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	page, err := l.fetcher.History(ctx, sessionID, limit, offset)
	if err != nil {
		l.fail(sessionID, err)
		return model.HistoryPage{}, err
	}

	l.replace(sessionID, page.Items)
	return page, nil
}

// LoadAll walks every page of the session and replaces the message list
// once with the complete history.
func (l *Loader) LoadAll(ctx context.Context, sessionID string, pageSize int) ([]model.Message, error) {
	if sessionID == "" {
		return nil, errors.New("history: empty session id")
	}
	if pageSize <= 0 {
		pageSize = DefaultLimit
	}

	var all []model.Message
	offset := 0
	for i := 0; i < maxPages; i++ {
		page, err := l.fetcher.History(ctx, sessionID, pageSize, offset)
		if err != nil {
			l.fail(sessionID, err)
			return nil, err
		}
		all = append(all, page.Items...)
		offset += len(page.Items)
		if !page.HasMore || len(page.Items) == 0 {
			break
		}
	}

	l.replace(sessionID, all)
	return all, nil
}

func (l *Loader) replace(sessionID string, msgs []model.Message) {
	if !l.store.ReplaceForSession(sessionID, msgs) {
		l.logger.Debug().Str("session_id", sessionID).Msg("dropping history for a session that is no longer bound")
		return
	}
	l.logger.Debug().Str("session_id", sessionID).Int("messages", len(msgs)).Msg("history loaded")
}

func (l *Loader) fail(sessionID string, err error) {
	l.logger.Warn().Err(err).Str("session_id", sessionID).Msg("history fetch failed")
	l.store.SetErrorForSession(sessionID, err.Error())
}
