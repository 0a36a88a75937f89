package answer

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"screen-quiz-llm/src/keystore"
	"screen-quiz-llm/src/logutil"
	"screen-quiz-llm/src/screenshot"
)

const (
	DefaultModel  = "gpt-5"
	DefaultPrompt = "The image shows a multiple-choice question. Read the question and every answer option. " +
		"Options are labelled with letters. Decide which options are correct; more than one may be. " +
		"Reply with only the letters of the correct options separated by single spaces. " +
		"No explanation, no punctuation, no other text."
)

type Config struct {
	APIKey string
	Model  string
	// BaseURL selects an OpenAI-compatible endpoint; empty means api.openai.com.
	BaseURL    string
	Prompt     string
	HTTPClient *http.Client
}

// Requester sends one screenshot per call to a vision chat-completions endpoint.
type Requester struct {
	cfg    Config
	client openai.Client
}

func New(cfg Config) *Requester {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(true, 0)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		// One attempt per cycle; failures go straight to the overlay.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Requester{cfg: cfg, client: openai.NewClient(opts...)}
}

func (r *Requester) Model() string { return r.cfg.Model }

// Answer blocks until the endpoint answers, fails, or ctx is done.
func (r *Requester) Answer(ctx context.Context, shot screenshot.Screenshot) (string, error) {
	if r.cfg.APIKey == "" {
		return "", &AuthError{Reason: "no API key configured (set OPENAI_API_KEY or run with --set-key)"}
	}
	if !keystore.IsValid(r.cfg.APIKey) {
		return "", &AuthError{Reason: fmt.Sprintf("API key %s is malformed", logutil.RedactKey(r.cfg.APIKey))}
	}
	if len(shot.Data) == 0 {
		return "", &ModelError{Reason: "empty screenshot"}
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.cfg.Prompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Answer the question in this screenshot."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    shot.DataURL(),
					Detail: "high",
				}),
			}),
		},
	}

	start := time.Now()
	log.Printf("answer: sending %s to model %s", shot, r.cfg.Model)
	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		classified := classify(err)
		log.Printf("answer: request failed after %s: %v", time.Since(start).Round(time.Millisecond), classified)
		return "", classified
	}

	text, err := extract(completion)
	if err != nil {
		return "", err
	}
	log.Printf("answer: received %q in %s", logutil.Sanitize(text, 100), time.Since(start).Round(time.Millisecond))
	return text, nil
}

func extract(completion *openai.ChatCompletion) (string, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return "", &ModelError{Reason: "no choices in response"}
	}
	msg := completion.Choices[0].Message
	if refusal := strings.TrimSpace(msg.Refusal); refusal != "" {
		return "", &ModelError{Reason: "model refused: " + refusal}
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return "", &ModelError{Reason: fmt.Sprintf("empty answer (finish reason %q)", completion.Choices[0].FinishReason)}
	}
	return text, nil
}
