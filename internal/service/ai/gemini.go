package ai

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// geminiFinishCodes mirrors the numeric FinishReason enumeration of the Gemini API.
var geminiFinishCodes = map[genai.FinishReason]int{
	genai.FinishReasonUnspecified:           CodeUnspecified,
	genai.FinishReasonStop:                  CodeStop,
	genai.FinishReasonMaxTokens:             CodeMaxTokens,
	genai.FinishReasonSafety:                CodeSafety,
	genai.FinishReasonRecitation:            CodeRecitation,
	genai.FinishReasonOther:                 CodeOther,
	genai.FinishReasonLanguage:              6,
	genai.FinishReasonBlocklist:             7,
	genai.FinishReasonProhibitedContent:     8,
	genai.FinishReasonSPII:                  9,
	genai.FinishReasonMalformedFunctionCall: 10,
	genai.FinishReasonImageSafety:           11,
	genai.FinishReasonUnexpectedToolCall:    12,
}

// unmappedFinishCode is reported for finish reasons newer than the table above.
const unmappedFinishCode = -1

// GeminiConfig configures the Gemini gateway.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiGateway implements Gateway on top of google.golang.org/genai.
type GeminiGateway struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

type geminiContext struct {
	persona persona.Persona
	config  *genai.GenerateContentConfig
}

func (c *geminiContext) PersonaKey() string { return c.persona.Key }

// NewGeminiGateway creates a Gemini API client.
func NewGeminiGateway(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiGateway{
		client: client,
		model:  cfg.Model,
		logger: logger.Named("gemini"),
	}, nil
}

// NewContext builds the generation config for a persona.
func (g *GeminiGateway) NewContext(_ context.Context, p persona.Persona) (Context, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &geminiContext{persona: p, config: geminiConfig(p)}, nil
}

func geminiConfig(p persona.Persona) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.Instruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(p.Temperature)),
		TopP:              genai.Ptr(float32(p.TopP)),
		TopK:              genai.Ptr(float32(p.TopK)),
		MaxOutputTokens:   int32(p.MaxOutputTokens),
	}
}

// Exchange implements Gateway.
func (g *GeminiGateway) Exchange(ctx context.Context, pctx Context, history []chat.Turn, text string) (Completion, error) {
	gc, ok := pctx.(*geminiContext)
	if !ok {
		return Completion{}, fmt.Errorf("gemini: unexpected context type %T", pctx)
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, genai.NewContentFromText(turn.Text, geminiRole(turn.Role)))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, gc.config)
	if err != nil {
		return Completion{}, fmt.Errorf("gemini generate content: %w", err)
	}

	completion := geminiCompletion(res)
	g.logger.Debug("completion",
		zap.String("persona", gc.persona.Key),
		zap.String("reason", completion.Reason),
		zap.Int("code", completion.Code),
		zap.Int("length", len(completion.Content)))
	return completion, nil
}

func geminiRole(role chat.Role) genai.Role {
	if role == chat.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func geminiCompletion(res *genai.GenerateContentResponse) Completion {
	if res == nil {
		return Completion{Code: CodeUnspecified, Reason: "EMPTY_RESPONSE"}
	}
	if len(res.Candidates) == 0 {
		// The prompt itself was rejected before any candidate was generated.
		if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
			return Completion{Code: CodeSafety, Reason: string(res.PromptFeedback.BlockReason)}
		}
		return Completion{Code: CodeUnspecified, Reason: "NO_CANDIDATES"}
	}

	candidate := res.Candidates[0]
	code, ok := geminiFinishCodes[candidate.FinishReason]
	if !ok {
		code = unmappedFinishCode
	}

	var builder strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			builder.WriteString(part.Text)
		}
	}

	return Completion{
		Code:    code,
		Content: builder.String(),
		Reason:  string(candidate.FinishReason),
	}
}
