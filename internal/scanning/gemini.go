package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Recognizer interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Recognizer instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Recognize transcribes the receipt text. The language hint is passed to the
// model as part of the prompt.
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, contentType, lang string, progress ProgressFunc) (string, error) {
	report(progress, 0)

	finalImageData, _, err := PrepareImage(imageData, contentType)
	if err != nil {
		return "", err
	}
	report(progress, 25)

	// genai.ImageData wants the format suffix ("png"), not the MIME type
	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(promptFor(lang)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	report(progress, 100)
	return cleanTranscript(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

func promptFor(lang string) string {
	if lang == "" {
		return transcribePrompt
	}
	return transcribePrompt + "\n- The receipt language is " + lang
}
