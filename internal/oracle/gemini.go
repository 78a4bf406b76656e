package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/tfiber/tera-assist/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini answers every oracle call with a structured-output prompt.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini API backed oracle.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	return newGemini(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model, logger)
}

func newGemini(ctx context.Context, cc *genai.ClientConfig, model string, logger *slog.Logger) (*Gemini, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini oracle backend")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

const eligibilityPrompt = `You are the service availability checker for T-Fiber, a broadband provider in Telangana, India.
Decide whether the user's message names a location (a 6-digit Indian PIN code or a city or town).
If it does, report whether T-Fiber serves it; Telangana PIN codes start with 50.
If the message names no location, set isEligible to false and details to exactly:
"To check service availability, please provide your PIN code or city."
If it contains a malformed PIN code, set details to: "Please provide a valid PIN code (6 digits) or city name."

User message: %s`

const faqPrompt = `You are a chatbot for T-Fiber, a broadband internet provider. Use the following FAQ to answer the user's query. If the FAQ does not contain the answer, respond that you do not know.

FAQ:
%s

Query: %s`

const contentPrompt = `You are a chatbot assistant for T-Fiber. Answer the user's query with what you know about T-Fiber services, plans and support. If you have no relevant information, say that you can't find specific information and ask the user to rephrase.

User query: %s`

var (
	eligibilitySchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"isEligible": {Type: genai.TypeBoolean, Description: "Whether service is available at the location."},
			"details":    {Type: genai.TypeString, Description: "A short message for the user."},
		},
		Required: []string{"isEligible", "details"},
	}
	answerSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"answer": {Type: genai.TypeString},
		},
		Required: []string{"answer"},
	}
	responseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"response": {Type: genai.TypeString},
		},
		Required: []string{"response"},
	}
)

type eligibilityOutput struct {
	IsEligible bool   `json:"isEligible"`
	Details    string `json:"details"`
}

// CheckEligibility implements EligibilityChecker.
func (g *Gemini) CheckEligibility(ctx context.Context, location string) (domain.Eligibility, error) {
	var out eligibilityOutput
	if err := g.generate(ctx, fmt.Sprintf(eligibilityPrompt, location), eligibilitySchema, &out); err != nil {
		return domain.Eligibility{}, fmt.Errorf("check eligibility: %w", err)
	}
	return domain.Eligibility{IsEligible: out.IsEligible, Details: out.Details}, nil
}

// AnswerFAQ implements FAQAnswerer.
func (g *Gemini) AnswerFAQ(ctx context.Context, query, faq string) (string, error) {
	var out struct {
		Answer string `json:"answer"`
	}
	if err := g.generate(ctx, fmt.Sprintf(faqPrompt, faq, query), answerSchema, &out); err != nil {
		return "", fmt.Errorf("answer faq: %w", err)
	}
	return out.Answer, nil
}

// RetrieveContent implements ContentRetriever.
func (g *Gemini) RetrieveContent(ctx context.Context, query string) (string, error) {
	var out struct {
		Response string `json:"response"`
	}
	if err := g.generate(ctx, fmt.Sprintf(contentPrompt, query), responseSchema, &out); err != nil {
		return "", fmt.Errorf("retrieve content: %w", err)
	}
	return out.Response, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string, schema *genai.Schema, out any) error {
	temp := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return errEmptyAnswer
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		g.logger.Debug("Unparseable model output", "model", g.model, "output", text)
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
