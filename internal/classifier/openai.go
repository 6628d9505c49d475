// Package classifier turns free-text chat messages into typed intents by
// delegating to the OpenAI chat completions API. The model is an external
// oracle: malformed output downgrades to IntentOther at exactly one
// boundary, it never propagates as a parse error.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"go.uber.org/zap"
)

const systemPrompt = "You are an assistant that manages e-commerce orders and transactions."

const classifyInstructions = `Analyze the user message and classify the intent as one of:
- SEARCH_PRODUCT: the user wants to find a product
- CREATE_ORDER: the user wants to buy a product
- CHECK_INVENTORY: the user asks about availability
- OTHER: anything else

If the intent is SEARCH_PRODUCT, extract the product name as product_query.
If the intent is CREATE_ORDER, extract product_query, product_id if the user
references a concrete id, and quantity.
If the intent is CHECK_INVENTORY, extract product_query or product_id.

User message: %q

Respond with a single JSON object with fields: intent, product_query, product_id, quantity. No other text.`

// Client calls the OpenAI chat completions endpoint
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// rawIntent mirrors the JSON shape the prompt asks for. Quantity is a
// json.Number so fractional or quoted values survive decoding and get
// normalized instead of failing the whole parse.
type rawIntent struct {
	Intent       string      `json:"intent"`
	ProductQuery string      `json:"product_query"`
	ProductID    flexString  `json:"product_id"`
	Quantity     json.Number `json:"quantity"`
}

// flexString accepts both "42" and 42, since the model is inconsistent
// about quoting ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// NewClient creates a new classifier client
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  util.GetLogger(),
	}
}

// Classify classifies a chat message into an Intent. Transport and API
// failures return ErrClassifierUnavailable; an unparseable model response
// returns Intent{Kind: IntentOther} with a nil error.
func (c *Client) Classify(ctx context.Context, message string) (models.Intent, error) {
	ctx, span := util.StartSpan(ctx, "Classifier.Classify")
	defer span.End()

	content, err := c.complete(ctx, fmt.Sprintf(classifyInstructions, message))
	if err != nil {
		return models.Intent{}, err
	}

	intent, ok := parseIntent(content)
	if !ok {
		c.logger.Warn("Unparseable classifier response, downgrading to OTHER",
			zap.String("content", content))
		util.ClassifierFallbackTotal.Inc()
		return models.Intent{Kind: models.IntentOther}, nil
	}

	util.IntentsClassifiedTotal.WithLabelValues(string(intent.Kind)).Inc()
	return intent, nil
}

// Reply generates a freeform assistant answer for messages that do not map
// to a shopping action.
func (c *Client) Reply(ctx context.Context, message string) (string, error) {
	ctx, span := util.StartSpan(ctx, "Classifier.Reply")
	defer span.End()

	prompt := fmt.Sprintf("The user said: %q. Answer as a friendly e-commerce assistant.", message)
	return c.complete(ctx, prompt)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY not set", models.ErrClassifierUnavailable)
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrClassifierUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("%w: %s (status %d)",
				models.ErrClassifierUnavailable, apiErr.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: status %d", models.ErrClassifierUnavailable, resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrClassifierUnavailable, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", models.ErrClassifierUnavailable)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// parseIntent decodes the model's JSON answer into an Intent. The second
// return value reports whether the content was usable at all.
func parseIntent(content string) (models.Intent, bool) {
	var raw rawIntent
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return models.Intent{}, false
	}

	kind := models.IntentKind(strings.ToUpper(strings.TrimSpace(raw.Intent)))
	switch kind {
	case models.IntentSearchProduct, models.IntentCreateOrder, models.IntentCheckInventory:
	default:
		kind = models.IntentOther
	}

	return models.Intent{
		Kind:         kind,
		ProductQuery: strings.TrimSpace(raw.ProductQuery),
		ProductID:    strings.TrimSpace(string(raw.ProductID)),
		Quantity:     normalizeQuantity(raw.Quantity),
	}, true
}

// normalizeQuantity maps missing, non-positive or non-integer quantities to 1
func normalizeQuantity(n json.Number) int {
	if n.String() == "" {
		return 1
	}
	q, err := n.Int64()
	if err != nil || q < 1 {
		return 1
	}
	return int(q)
}

// stripFences removes a markdown code fence the model sometimes wraps JSON in
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
