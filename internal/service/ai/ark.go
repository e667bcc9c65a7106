package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
)

// ArkConfig 描述火山方舟模型的接入配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// arkFinishCodes maps OpenAI-style finish reasons reported by Ark.
var arkFinishCodes = map[string]int{
	"stop":           CodeStop,
	"length":         CodeMaxTokens,
	"content_filter": CodeSafety,
	"tool_calls":     CodeOther,
	"function_call":  CodeOther,
}

// ArkGateway implements Gateway with an eino chain per persona.
// Personas are immutable, so compiled chains are cached by persona key.
type ArkGateway struct {
	cfg    ArkConfig
	logger *zap.Logger

	chains sync.Map // persona key -> compose.Runnable
	group  singleflight.Group
}

type arkContext struct {
	persona persona.Persona
	chain   compose.Runnable[map[string]any, *schema.Message]
}

func (c *arkContext) PersonaKey() string { return c.persona.Key }

// NewArkGateway validates credentials; models are created lazily per persona.
func NewArkGateway(cfg ArkConfig, logger *zap.Logger) (*ArkGateway, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: ark requires a model plus ARK_API_KEY or an AK/SK pair", ErrMissingAPIKey)
	}
	return &ArkGateway{
		cfg:    cfg,
		logger: logger.Named("ark"),
	}, nil
}

// NewContext returns the compiled chain for the persona, building it once.
func (g *ArkGateway) NewContext(ctx context.Context, p persona.Persona) (Context, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if cached, ok := g.chains.Load(p.Key); ok {
		return &arkContext{persona: p, chain: cached.(compose.Runnable[map[string]any, *schema.Message])}, nil
	}

	v, err, _ := g.group.Do(p.Key, func() (any, error) {
		if cached, ok := g.chains.Load(p.Key); ok {
			return cached, nil
		}
		runnable, err := g.compile(ctx, p)
		if err != nil {
			return nil, err
		}
		g.chains.Store(p.Key, runnable)
		g.logger.Info("persona chain compiled", zap.String("persona", p.Key), zap.String("model", g.cfg.Model))
		return runnable, nil
	})
	if err != nil {
		return nil, err
	}

	return &arkContext{persona: p, chain: v.(compose.Runnable[map[string]any, *schema.Message])}, nil
}

func (g *ArkGateway) compile(ctx context.Context, p persona.Persona) (compose.Runnable[map[string]any, *schema.Message], error) {
	temperature := float32(p.Temperature)
	topP := float32(p.TopP)
	maxTokens := p.MaxOutputTokens

	// Ark has no top-k knob; the persona's TopK is ignored here.
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     g.cfg.BaseURL,
		Region:      g.cfg.Region,
		APIKey:      g.cfg.APIKey,
		AccessKey:   g.cfg.AccessKey,
		SecretKey:   g.cfg.SecretKey,
		Model:       g.cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return runnable, nil
}

// Exchange implements Gateway.
func (g *ArkGateway) Exchange(ctx context.Context, pctx Context, history []chat.Turn, text string) (Completion, error) {
	ac, ok := pctx.(*arkContext)
	if !ok {
		return Completion{}, fmt.Errorf("ark: unexpected context type %T", pctx)
	}

	response, err := ac.chain.Invoke(ctx, map[string]any{
		"system":  ac.persona.Instruction,
		"history": arkHistory(history),
		"query":   text,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	completion := arkCompletion(response)
	g.logger.Debug("completion",
		zap.String("persona", ac.persona.Key),
		zap.String("reason", completion.Reason),
		zap.Int("length", len(completion.Content)))
	return completion, nil
}

func arkHistory(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}

func arkCompletion(msg *schema.Message) Completion {
	if msg == nil {
		return Completion{Code: CodeUnspecified, Reason: "empty_response"}
	}

	reason := ""
	if msg.ResponseMeta != nil {
		reason = strings.ToLower(strings.TrimSpace(msg.ResponseMeta.FinishReason))
	}

	code, ok := arkFinishCodes[reason]
	switch {
	case ok:
	case reason == "" && msg.Content != "":
		// Some Ark deployments omit finish_reason on normal completions.
		code = CodeStop
	default:
		code = CodeUnspecified
	}

	return Completion{Code: code, Content: msg.Content, Reason: reason}
}
