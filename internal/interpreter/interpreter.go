// Package interpreter produces dream interpretations through a configured
// LLM provider.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"oneiro/internal/config"
	"oneiro/internal/models"
)

// ErrEmptyReply is returned when the model's answer is empty after cleanup.
var ErrEmptyReply = errors.New("ИИ задумался и вернул пустой ответ. Пожалуйста, попробуйте отправить запрос еще раз.")

// Service drives one chat model selected by provider name.
type Service struct {
	chatModel model.BaseChatModel
}

// NewService builds the interpreter for the configured provider.
func NewService(provider string, cfg *config.Config) (*Service, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var chatModel model.BaseChatModel
	var err error
	ctx := context.Background()

	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &Service{chatModel: chatModel}, nil
}

// Interpret answers a registered user's dream, weaving in their past dreams
// so the model can find recurring symbols.
func (s *Service) Interpret(ctx context.Context, dream string, user *models.User, past []models.Dream) (string, error) {
	systemPrompt := fmt.Sprintf("Ты — мудрый толкователь снов. К тебе обращается пользователь по имени %s. Твои ответы должны быть глубокими и поэтичными. Учитывай предыдущие сны пользователя, чтобы найти связи и закономерности.", user.FirstName)

	var sb strings.Builder
	if len(past) > 0 {
		sb.WriteString("Вот предыдущие сны этого пользователя и их толкования (от старых к новым):\n")
		// Past dreams arrive newest first; the prompt wants them oldest first.
		for i := len(past) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "- Сон: '%s'\n- Толкование: '%s'\n\n", past[i].RequestText, past[i].ResponseText)
		}
		sb.WriteString("А теперь, учитывая этот контекст, растолкуй новый сон.")
	} else {
		sb.WriteString("Это первый сон, который пользователь тебе рассказывает. Постарайся произвести хорошее впечатление.")
	}
	fmt.Fprintf(&sb, "\n\nНовый сон: %s", dream)

	return s.generate(ctx, systemPrompt, sb.String())
}

// InterpretGuest answers an anonymous dream with no history context.
func (s *Service) InterpretGuest(ctx context.Context, dream string) (string, error) {
	systemPrompt := "Ты — мудрый толкователь снов. Твои ответы должны быть глубокими и поэтичными. Пользователь обращается к тебе впервые, постарайся произвести хорошее впечатление."
	return s.generate(ctx, systemPrompt, fmt.Sprintf("Сон: %s", dream))
}

func (s *Service) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reply, err := s.chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	})
	if err != nil {
		return "", fmt.Errorf("generate interpretation: %w", err)
	}

	cleaned := CleanReply(reply.Content)
	if cleaned == "" {
		return "", ErrEmptyReply
	}
	return cleaned, nil
}

var (
	controlTokens = regexp.MustCompile(`(?i)</?s>|</?OBSERVATION>`)
	bracketTags   = regexp.MustCompile(`\[/?\w+\]`)
	xmlTags       = regexp.MustCompile(`<[^>]+>`)
)

// CleanReply strips technical tokens some models leak around their prose:
// sentence markers, bracketed instruction tags, leftover XML-ish tags.
func CleanReply(text string) string {
	if text == "" {
		return ""
	}
	cleaned := controlTokens.ReplaceAllString(text, "")
	cleaned = bracketTags.ReplaceAllString(cleaned, "")
	cleaned = xmlTags.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
