// Package completion generates the bot's automatic replies through an
// external text-completion service and turns its failures into friendly
// fallback messages.
package completion

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Completer produces a completion for a system prompt and one user message.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Kind classifies completion failures.
type Kind int

const (
	Generic Kind = iota
	Quota
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Quota:
		return "quota"
	case RateLimited:
		return "rate-limited"
	default:
		return "generic"
	}
}

// Fallback replies sent instead of a completion.
const (
	QuotaText       = "Desculpe, minha cota de API está esgotada no momento. Entre em contato com o administrador."
	RateLimitedText = "Estou recebendo muitas solicitações. Por favor, aguarde um momento e tente novamente."
	GenericText     = "Desculpe, estou tendo problemas técnicos no momento. Tente novamente mais tarde."

	// ApologyText is sent when even the reply could not be delivered normally.
	ApologyText = "Desculpe, estou com problemas técnicos. Tente novamente em alguns instantes."
)

// FallbackText returns the user-facing message for a failure kind.
func FallbackText(k Kind) string {
	switch k {
	case Quota:
		return QuotaText
	case RateLimited:
		return RateLimitedText
	default:
		return GenericText
	}
}

// HTTPError is returned by backends that talk HTTP directly.
type HTTPError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("completion service returned status %d: %s", e.StatusCode, e.Body)
}

// Classify maps a backend error to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return Generic
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch fmt.Sprint(apiErr.Code) {
		case "insufficient_quota":
			return Quota
		case "rate_limit_exceeded":
			return RateLimited
		}
		if apiErr.Type == "insufficient_quota" {
			return Quota
		}
		if apiErr.HTTPStatusCode == 429 {
			return RateLimited
		}
		return Generic
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == 429 {
		return RateLimited
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == "insufficient_quota":
			return Quota
		case httpErr.Code == "rate_limit_exceeded", httpErr.StatusCode == 429:
			return RateLimited
		}
	}
	return Generic
}
