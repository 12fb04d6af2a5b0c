package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
}

// Ollama completes through a local Ollama /api/chat endpoint.
type Ollama struct {
	URL    string
	Model  string
	Client *http.Client
}

func NewOllama(url, model string) *Ollama {
	return &Ollama{URL: url, Model: model, Client: &http.Client{}}
}

func (o *Ollama) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := ollamaRequest{
		Model: o.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, Code: errorCode(body), Body: string(body)}
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("JSON parse error: %w | Raw Body: %s", err, body)
	}
	reply := strings.TrimSpace(out.Message.Content)
	if reply == "" {
		return "", fmt.Errorf("received empty reply. Raw: %s", body)
	}
	return reply, nil
}

// errorCode extracts {"error":{"code":...}} when an OpenAI-compatible proxy
// sits in front of the model.
func errorCode(body []byte) string {
	var e struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error.Code
}
