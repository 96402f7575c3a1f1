// Conclusion synthesis for finished debates.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/dialectica/dialectica/pkg/models"
	"github.com/dialectica/dialectica/pkg/utils"
)

// ErrMalformedConclusion is returned when the model answered but the payload
// could not be parsed into a conclusion.
var ErrMalformedConclusion = errors.New("model returned malformed conclusion")

// SynthesisService distills a finished transcript into a structured conclusion.
type SynthesisService struct {
	modelService *ModelService
	logger       *slog.Logger
}

// NewSynthesisService creates a new synthesis service.
func NewSynthesisService(modelService *ModelService) *SynthesisService {
	return &SynthesisService{
		modelService: modelService,
		logger:       utils.GetLogger(),
	}
}

// Synthesize produces the conclusion for a debate transcript. Transport
// failures are returned as-is; parse failures wrap ErrMalformedConclusion.
func (s *SynthesisService) Synthesize(ctx context.Context, topic string, personas models.Personas, log models.ChatLog) (*models.Conclusion, error) {
	chatModel, err := s.modelService.ChatModel(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := chatModel.Generate(ctx, buildSynthesisPrompt(topic, personas, log))
	if err != nil {
		return nil, fmt.Errorf("synthesize conclusion: %w", err)
	}
	return parseConclusion(resp.Content, personas)
}

// parseConclusion extracts and validates the conclusion payload from a model
// response. The action items must cover exactly the debate's personas, with
// two suggestions each.
func parseConclusion(content string, personas models.Personas) (*models.Conclusion, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedConclusion)
	}

	var conclusion models.Conclusion
	if err := json.Unmarshal([]byte(raw), &conclusion); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConclusion, err)
	}
	if conclusion.Conclusion == "" && len(conclusion.Summary) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedConclusion)
	}

	for i := range conclusion.ActionItems {
		item := &conclusion.ActionItems[i]
		item.PersonaName = cleanText(item.PersonaName)
		for j, sug := range item.Suggestions {
			item.Suggestions[j] = cleanText(sug)
		}
	}
	if err := validateActionItems(conclusion.ActionItems, personas); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConclusion, err)
	}
	return &conclusion, nil
}

func validateActionItems(items []models.ActionItem, personas models.Personas) error {
	if len(items) != len(personas) {
		return fmt.Errorf("%d action items for %d personas", len(items), len(personas))
	}
	known := make(map[string]bool, len(personas))
	for _, p := range personas {
		known[p.Name] = true
	}
	for _, item := range items {
		if !known[item.PersonaName] {
			return fmt.Errorf("action item for unknown or repeated persona %q", item.PersonaName)
		}
		known[item.PersonaName] = false
		if len(item.Suggestions) != 2 {
			return fmt.Errorf("persona %q has %d suggestions, want 2", item.PersonaName, len(item.Suggestions))
		}
	}
	return nil
}

func buildSynthesisPrompt(topic string, personas models.Personas, log models.ChatLog) []*schema.Message {
	var names []string
	for _, p := range personas {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Title))
	}

	var transcript strings.Builder
	for _, m := range log {
		fmt.Fprintf(&transcript, "%s: %s\n", m.PersonaName, m.Message)
	}

	system := "You are a master mediator and synthesizer. Analyze the following debate and produce a balanced synthesis. " +
		"Respond with ONLY a valid JSON object with these keys: " +
		"\"summary\" (array of strings, the key points made), " +
		"\"agreement_points\" (array of strings), " +
		"\"conflict_points\" (array of strings), " +
		"\"bridging_questions\" (array of strings that could move the parties closer), " +
		"\"conclusion\" (a single paragraph string) and " +
		"\"action_items\" (array of objects with \"personaName\" and \"suggestions\", " +
		"where suggestions holds exactly 2 concrete next steps for that participant)."

	user := fmt.Sprintf("The debate topic: %q.\nParticipants: %s.\nTranscript:\n%s",
		topic, strings.Join(names, ", "), transcript.String())

	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
}
