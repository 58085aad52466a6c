// Package chat wires the conversation store and the completion client into
// the user-facing send flow: append the user message, call the model with a
// bounded context window, append exactly one assistant reply.
package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/chatlens/chatlens/pkg/llm"
	"github.com/chatlens/chatlens/pkg/logger"
	"github.com/chatlens/chatlens/pkg/store"
)

// Completer is the slice of the llm.Client the service needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error)
	Stream(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Stream, error)
	DefaultModel() string
}

// Store is the conversation store contract consumed by the service.
type Store interface {
	CreateConversation(ctx context.Context, title string) (store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role store.Role, content string) (store.Message, error)
	AppendMessageOpts(ctx context.Context, conversationID string, role store.Role, content string, opts store.AppendOptions) (store.Message, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	SetTitle(ctx context.Context, id, title string) error
}

type Service struct {
	store   Store
	client  Completer
	builder *llm.ContextBuilder
	opts    llm.Options
}

func NewService(st Store, client Completer, builder *llm.ContextBuilder, opts llm.Options) *Service {
	return &Service{store: st, client: client, builder: builder, opts: opts}
}

// Send appends the user message, asks the model for a reply, and appends the
// assistant message. On any completion failure zero assistant messages are
// appended and the log keeps its last-known-good state. No conversation lock
// is held across the network call; the store serializes only the appends.
func (s *Service) Send(ctx context.Context, conversationID, content string) (store.Message, error) {
	if _, err := s.store.AppendMessage(ctx, conversationID, store.RoleUser, content); err != nil {
		return store.Message{}, err
	}
	s.maybeAutoTitle(ctx, conversationID, content)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Message{}, err
	}

	start := time.Now()
	result, err := s.client.Complete(ctx, s.builder.BuildContext(conv), s.opts)
	if err != nil {
		logger.Log.Warn().Err(err).Str("conversation", conversationID).Msg("completion failed")
		return store.Message{}, err
	}

	tokens := 0
	if result.Usage != nil {
		tokens = result.Usage.TotalTokens
	}
	reply, err := s.store.AppendMessageOpts(ctx, conversationID, store.RoleAssistant, result.Content, store.AppendOptions{
		ModelUsed:      s.modelName(result),
		ResponseTimeMS: time.Since(start).Milliseconds(),
		TokenCount:     tokens,
	})
	if err != nil {
		return store.Message{}, err
	}
	return reply, nil
}

// SendStream is Send with a streaming reply. Each fragment is passed to
// onFragment as it arrives. If ctx is cancelled mid-stream the fragments
// already received are appended as a truncated assistant message; any other
// stream failure appends nothing.
func (s *Service) SendStream(ctx context.Context, conversationID, content string, onFragment func(string)) (store.Message, error) {
	if _, err := s.store.AppendMessage(ctx, conversationID, store.RoleUser, content); err != nil {
		return store.Message{}, err
	}
	s.maybeAutoTitle(ctx, conversationID, content)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Message{}, err
	}

	start := time.Now()
	stream, err := s.client.Stream(ctx, s.builder.BuildContext(conv), s.opts)
	if err != nil {
		return store.Message{}, err
	}
	defer stream.Close()

	var sb strings.Builder
	truncated := false
	for {
		fragment, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if errors.Is(recvErr, context.Canceled) || errors.Is(recvErr, context.DeadlineExceeded) {
				truncated = true
				break
			}
			return store.Message{}, recvErr
		}
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}

	if sb.Len() == 0 {
		if truncated {
			// Cancelled before anything arrived: nothing to preserve.
			return store.Message{}, ctx.Err()
		}
		return store.Message{}, errEmptyStream
	}

	// Append with a fresh context so a cancelled caller still gets its
	// partial message committed.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	return s.store.AppendMessageOpts(appendCtx, conversationID, store.RoleAssistant, sb.String(), store.AppendOptions{
		Truncated:      truncated,
		ModelUsed:      s.client.DefaultModel(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	})
}

// StartConversation creates a conversation and sends the opening message.
func (s *Service) StartConversation(ctx context.Context, title, content string) (store.Conversation, store.Message, error) {
	conv, err := s.store.CreateConversation(ctx, title)
	if err != nil {
		return store.Conversation{}, store.Message{}, err
	}
	reply, err := s.Send(ctx, conv.ID, content)
	if err != nil {
		return conv, store.Message{}, err
	}
	return conv, reply, nil
}

// maybeAutoTitle derives a title from the first user message when the
// conversation still carries the placeholder.
func (s *Service) maybeAutoTitle(ctx context.Context, conversationID, content string) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil || conv.Title != store.DefaultTitle || conv.MessageCount > 1 {
		return
	}
	if err := s.store.SetTitle(ctx, conversationID, TitleFromMessage(content)); err != nil {
		logger.Log.Debug().Err(err).Msg("auto-title failed")
	}
}

// TitleFromMessage shortens a message into a usable conversation title.
func TitleFromMessage(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	const max = 60
	if len(title) > max {
		cut := strings.LastIndex(title[:max], " ")
		if cut < max/2 {
			cut = max
		}
		title = strings.TrimRight(title[:cut], " .,;:!?") + "..."
	}
	if title == "" {
		return store.DefaultTitle
	}
	return title
}

func (s *Service) modelName(result *llm.Result) string {
	if result.Model != "" {
		return result.Model
	}
	return s.client.DefaultModel()
}
