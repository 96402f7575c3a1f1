// Streaming turn generation.
package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/dialectica/dialectica/pkg/models"
)

// Fragment is one cumulative snapshot of an in-progress turn. Text always
// carries the full utterance produced so far, never a delta. The terminal
// fragment has Done set; Err is set instead when the stream failed.
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// TurnSource produces one streamed debate turn for a persona. Implementations
// must close the returned channel after sending a Done or Err fragment, and
// must stop promptly when ctx is cancelled.
type TurnSource interface {
	StreamTurn(ctx context.Context, topic string, speaker models.Persona, all models.Personas, window models.ChatLog) (<-chan Fragment, error)
}

// modelTurnSource generates turns with the configured chat model.
type modelTurnSource struct {
	modelService *ModelService
}

// NewModelTurnSource creates a TurnSource backed by the configured provider.
func NewModelTurnSource(modelService *ModelService) TurnSource {
	return &modelTurnSource{modelService: modelService}
}

func (s *modelTurnSource) StreamTurn(ctx context.Context, topic string, speaker models.Persona, all models.Personas, window models.ChatLog) (<-chan Fragment, error) {
	chatModel, err := s.modelService.ChatModel(ctx)
	if err != nil {
		return nil, err
	}

	messages := buildTurnPrompt(topic, speaker, all, window)
	sr, err := chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("start turn stream: %w", err)
	}

	out := make(chan Fragment, 16)
	go func() {
		defer close(out)
		defer sr.Close()

		var sb strings.Builder
		for {
			chunk, err := sr.Recv()
			if err == io.EOF {
				out <- Fragment{Text: cleanText(sb.String()), Done: true}
				return
			}
			if err != nil {
				out <- Fragment{Err: fmt.Errorf("turn stream: %w", err)}
				return
			}
			if chunk.Content == "" {
				continue
			}
			// Providers emit deltas; fold them into the cumulative text.
			sb.WriteString(chunk.Content)

			select {
			case out <- Fragment{Text: cleanText(sb.String())}:
			case <-ctx.Done():
				out <- Fragment{Err: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}

// buildTurnPrompt assembles the system and user messages for one turn. Only
// the trailing window of the transcript is included.
func buildTurnPrompt(topic string, speaker models.Persona, all models.Personas, window models.ChatLog) []*schema.Message {
	var others []string
	for _, p := range all {
		if p.Name != speaker.Name {
			others = append(others, fmt.Sprintf("%s (%s)", p.Name, p.Title))
		}
	}

	system := fmt.Sprintf("You are %s, a %s. Your persona: %s. "+
		"You are participating in a structured debate about: %q. "+
		"The other participants are: %s. "+
		"Speak only as %s. Respond with your next contribution to the debate, in plain prose, "+
		"under 40 words. Engage directly with what was said before you and work toward common ground "+
		"where your persona honestly allows it. Do not use markdown formatting and do not prefix your name.",
		speaker.Name, speaker.Title, speaker.FullDescription,
		topic, strings.Join(others, ", "), speaker.Name)

	var sb strings.Builder
	if len(window) == 0 {
		sb.WriteString("The debate is starting. Give your opening statement.")
	} else {
		sb.WriteString("The conversation so far:\n")
		for _, m := range window {
			fmt.Fprintf(&sb, "%s: %s\n", m.PersonaName, m.Message)
		}
		sb.WriteString("\nIt is your turn to speak.")
	}

	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(sb.String()),
	}
}
