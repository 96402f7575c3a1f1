// Persona and title generation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/dialectica/dialectica/pkg/models"
	"github.com/dialectica/dialectica/pkg/utils"
)

// ErrMalformedPersona is returned when the model answered but the persona
// payload could not be parsed.
var ErrMalformedPersona = errors.New("model returned malformed persona")

// PersonaService generates debate participants and session titles.
type PersonaService struct {
	modelService *ModelService
	logger       *slog.Logger
}

// NewPersonaService creates a new persona service.
func NewPersonaService(modelService *ModelService) *PersonaService {
	return &PersonaService{
		modelService: modelService,
		logger:       utils.GetLogger(),
	}
}

// WelcomeWord returns the word "Welcome" translated into a random language.
// Shown on the splash screen; also doubles as a connectivity check.
func (s *PersonaService) WelcomeWord(ctx context.Context) (string, error) {
	chatModel, err := s.modelService.ChatModel(ctx)
	if err != nil {
		return "", err
	}

	prompt := "Translate the word 'Welcome' into a random language (including english). " +
		"Provide only the single, translated word as a plain string, without any additional text, formatting, or quotation marks."
	resp, err := chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("welcome message: %w", err)
	}
	return cleanText(resp.Content), nil
}

// GenerateTitle produces a short descriptive title for a debate topic.
func (s *PersonaService) GenerateTitle(ctx context.Context, topic string) (string, error) {
	chatModel, err := s.modelService.ChatModel(ctx)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Generate a single short, descriptive title (5 words or less) for a debate about the following topic. "+
		"The title should be like a book or article title. Do not use quotation marks. Topic: %q", topic)
	resp, err := chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return cleanText(resp.Content), nil
}

// personaPayload mirrors the JSON shape the model is asked for.
type personaPayload struct {
	Name            string `json:"name"`
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	FullDescription string `json:"full_description"`
}

// GeneratePersona builds a rich persona from the user-provided details.
func (s *PersonaService) GeneratePersona(ctx context.Context, input models.PersonaInput, topic string) (*models.Persona, error) {
	chatModel, err := s.modelService.ChatModel(ctx)
	if err != nil {
		return nil, err
	}

	details, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal persona input: %w", err)
	}

	prompt := fmt.Sprintf("You are an expert creative writer and psychologist specializing in character development. "+
		"Based on the following user-provided details, create a rich, empathetic, and detailed expert persona. "+
		"User Details: %s. The central conflict is: %q. "+
		"Respond with ONLY a valid JSON object with the keys \"name\" (string), "+
		"\"title\" (a concise, descriptive expert role like 'Pragmatic Environmental Scientist'), "+
		"\"summary\" (a 2-3 sentence overview of their core philosophy and stance on the conflict) and "+
		"\"full_description\" (a detailed, internally consistent persona description considering their background, goals, and societal context).",
		details, topic)

	resp, err := chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return nil, fmt.Errorf("generate persona: %w", err)
	}

	raw := extractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedPersona)
	}

	var payload personaPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPersona, err)
	}
	if payload.Name == "" || payload.FullDescription == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedPersona)
	}

	return &models.Persona{
		UserInput:       input,
		Name:            cleanText(payload.Name),
		Title:           cleanText(payload.Title),
		Summary:         cleanText(payload.Summary),
		FullDescription: cleanText(payload.FullDescription),
	}, nil
}
