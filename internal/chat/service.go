// Package chat runs conversation turns against stored sessions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/simonyos/mcpchat/internal/agent"
	"github.com/simonyos/mcpchat/internal/llm"
	"github.com/simonyos/mcpchat/internal/store"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrTurnInProgress = errors.New("a turn is already running for this session")
)

// Store is the persistence the service needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]*store.Message, error)
}

// Runner executes one orchestration turn.
type Runner interface {
	Run(ctx context.Context, history []llm.Message) <-chan agent.Event
}

// Publisher receives a copy of every update. Implementations must not block.
type Publisher interface {
	Publish(sessionID string, event any)
}

// Update is one item streamed to the client. Exactly one field is set.
type Update struct {
	Status       string         `json:"status,omitempty"`
	Response     string         `json:"response,omitempty"`
	FunctionCall *store.Message `json:"function_call,omitempty"`
	ToolResult   *store.Message `json:"tool_result,omitempty"`
	Error        string         `json:"error,omitempty"`
	UpdateMsg    *store.Message `json:"update_msg,omitempty"`
	Finish       bool           `json:"finish,omitempty"`
}

var innerThoughtPattern = regexp.MustCompile(`<InnerThoughtBegin>[\s\S]*?<InnerThoughtEnd>`)

// CleanContent removes inner thoughts and inline call blocks from assistant text.
func CleanContent(text string) string {
	text = innerThoughtPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(agent.StripInlineCalls(text))
}

// Service glues sessions, the orchestration loop and the relay together.
type Service struct {
	store     Store
	runner    Runner
	publisher Publisher
	logger    *slog.Logger

	mu       sync.RWMutex
	inflight map[string]string
	wg       sync.WaitGroup
}

// NewService creates a chat service. publisher may be nil.
func NewService(st Store, runner Runner, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		runner:    runner,
		publisher: publisher,
		logger:    logger.With("component", "chat"),
		inflight:  make(map[string]string),
	}
}

// InFlight returns the partial content of the running turn for sessionID.
func (s *Service) InFlight(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.inflight[sessionID]
	return content, ok
}

// Wait blocks until every running turn has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Complete appends text as a user message and runs a turn over the session history.
// The returned channel is closed after the finish update. Cancelling ctx stops
// delivery only; the turn keeps running and persisting.
func (s *Service) Complete(ctx context.Context, sessionID, text string) (<-chan Update, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, busy := s.inflight[sessionID]; busy {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	s.inflight[sessionID] = ""
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, sessionID)
		s.mu.Unlock()
	}

	if err := s.store.AppendMessage(ctx, &store.Message{
		SessionID: sessionID,
		Role:      llm.RoleUser,
		Content:   text,
		Type:      store.MessageTypeMessage,
	}); err != nil {
		release()
		return nil, fmt.Errorf("saving user message: %w", err)
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		release()
		return nil, fmt.Errorf("loading history: %w", err)
	}

	out := make(chan Update, 16)
	turnCtx := context.WithoutCancel(ctx)
	log := s.logger.With("session_id", sessionID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer release()

		send := func(u Update) {
			if s.publisher != nil {
				s.publisher.Publish(sessionID, u)
			}
			select {
			case out <- u:
			case <-ctx.Done():
			}
		}

		send(Update{Status: "start"})

		var content strings.Builder
		var turnErr string
		for ev := range s.runner.Run(turnCtx, store.HistoryLLM(msgs)) {
			switch ev.Type {
			case agent.EventContent:
				content.WriteString(ev.Text)
				s.mu.Lock()
				s.inflight[sessionID] = content.String()
				s.mu.Unlock()
				send(Update{Response: ev.Text})

			case agent.EventToolCall, agent.EventToolResult:
				msg := store.FromLLM(sessionID, *ev.Message)
				if err := s.store.AppendMessage(turnCtx, msg); err != nil {
					log.Error("failed to save tool message", "type", msg.Type, "error", err)
				}
				if ev.Type == agent.EventToolCall {
					send(Update{FunctionCall: msg})
				} else {
					send(Update{ToolResult: msg})
				}

			case agent.EventError:
				turnErr = ev.Err.Error()
			}
		}

		if final := CleanContent(content.String()); final != "" {
			msg := &store.Message{
				SessionID: sessionID,
				Role:      llm.RoleAssistant,
				Content:   final,
				Type:      store.MessageTypeMessage,
			}
			if err := s.store.AppendMessage(turnCtx, msg); err != nil {
				log.Error("failed to save assistant message", "error", err)
				if turnErr == "" {
					turnErr = "failed to save assistant message"
				}
			} else {
				send(Update{UpdateMsg: msg})
			}
		}

		// At most one error, always directly before finish.
		if turnErr != "" {
			send(Update{Error: turnErr})
		}
		send(Update{Finish: true})
		log.Debug("turn complete", "content_bytes", content.Len())
	}()

	return out, nil
}
