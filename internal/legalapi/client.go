// Package legalapi is the HTTP client for the transcription, legal analysis, and chat endpoints.
package legalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rbright/vakil/internal/domain"
	"github.com/rbright/vakil/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	endpointTranscribe = "/api/transcribe"
	endpointLegal      = "/api/legal"
	endpointChat       = "/api/chat"

	maxResponseBytes = 8 << 20
)

// Route selects which endpoint answers questions.
type Route string

const (
	RouteChat  Route = "chat"
	RouteLegal Route = "legal"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	QuestionRoute Route
	HTTPClient    *http.Client
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Client talks to the legal research service. It performs no retries.
type Client struct {
	base          *url.URL
	questionRoute Route
	http          *http.Client
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	validate      *validator.Validate
}

// New validates the base URL and builds a client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse service base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("service base url %q must be an absolute http(s) URL", opts.BaseURL)
	}

	route := opts.QuestionRoute
	if route == "" {
		route = RouteChat
	}
	if route != RouteChat && route != RouteLegal {
		return nil, fmt.Errorf("unknown question route %q", route)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		base:          base,
		questionRoute: route,
		http:          httpClient,
		logger:        opts.Logger.With().Str("component", "legalapi").Logger(),
		metrics:       opts.Metrics,
		validate:      newValidator(),
	}, nil
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ResolveAudio turns a relative audio reference into an absolute URL on the service host.
func (c *Client) ResolveAudio(ref domain.AudioRef) (string, error) {
	raw := strings.TrimSpace(ref.URL)
	if raw == "" {
		return "", errors.New("audio reference is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse audio url %q: %w", raw, err)
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	return c.base.String() + "/" + strings.TrimLeft(raw, "/"), nil
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	Success       bool                  `json:"success"`
	Transcription string                `json:"transcription"`
	LegalAnalysis *domain.LegalAnalysis `json:"legal_analysis"`
	Response      string                `json:"response"`
	Audio         *domain.AudioRef      `json:"audio"`
	Error         string                `json:"error"`
}

type legalPayload struct {
	Narrative           string          `json:"narrative"`
	LocationState       string          `json:"location_state"`
	DateTime            string          `json:"date_time"`
	KnownSectionsOrActs []string        `json:"known_sections_or_acts"`
	KeyEntities         []string        `json:"key_entities"`
	EvidenceAvailable   []string        `json:"evidence_available"`
	AggravatingFactors  []string        `json:"aggravating_factors"`
	Language            domain.Language `json:"language"`
	IsComplaint         bool            `json:"is_complaint"`
	EnableTTS           bool            `json:"enableTTS"`
}

type chatPayload struct {
	Question  string          `json:"question"`
	Language  domain.Language `json:"language"`
	EnableTTS bool            `json:"enableTTS"`
}

// Transcribe uploads a finalized recording and returns its text.
func (c *Client) Transcribe(ctx context.Context, artifact domain.Artifact, language domain.Language, wantsSpokenReply bool) (domain.Transcription, error) {
	if artifact.Empty() {
		return domain.Transcription{}, &ServiceError{
			Kind:     domain.ErrorTranscriptionFailed,
			Message:  ErrEmptyArtifact.Error(),
			Endpoint: endpointTranscribe,
			Err:      ErrEmptyArtifact,
		}
	}
	if !language.Valid() {
		return domain.Transcription{}, fmt.Errorf("%w: unsupported language %q", ErrValidation, language)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, artifact.FileName))
	header.Set("Content-Type", artifact.ContentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcription form: %w", err)
	}
	if _, err := part.Write(artifact.Bytes()); err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcription form: %w", err)
	}
	_ = form.WriteField("language", string(language))
	_ = form.WriteField("enableTTS", strconv.FormatBool(wantsSpokenReply))
	if err := form.Close(); err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcription form: %w", err)
	}

	env, err := c.post(ctx, endpointTranscribe, form.FormDataContentType(), &body, domain.ErrorTranscriptionFailed)
	if err != nil {
		return domain.Transcription{}, err
	}
	return domain.Transcription{Text: strings.TrimSpace(env.Transcription), Audio: env.Audio}, nil
}

// Analyze submits a complaint or question and returns the matching result variant.
func (c *Client) Analyze(ctx context.Context, req domain.SubmissionRequest) (domain.SubmissionResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	if req.Kind == domain.KindQuestion && c.questionRoute == RouteChat {
		answer, err := c.Chat(ctx, req.Narrative, req.Language, req.WantsSpokenReply)
		if err != nil {
			return nil, err
		}
		return answer, nil
	}

	submittedAt := req.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}
	payload := legalPayload{
		Narrative:           req.Narrative,
		LocationState:       req.Location,
		DateTime:            submittedAt.Format(time.RFC3339),
		KnownSectionsOrActs: nonNil(req.KnownSections),
		KeyEntities:         nonNil(req.KeyEntities),
		EvidenceAvailable:   nonNil(req.Evidence),
		AggravatingFactors:  nonNil(req.Aggravating),
		Language:            req.Language,
		IsComplaint:         req.Kind == domain.KindComplaint,
		EnableTTS:           req.WantsSpokenReply,
	}
	if !payload.IsComplaint {
		payload.EvidenceAvailable = []string{}
		payload.AggravatingFactors = []string{}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode legal request: %w", err)
	}

	env, err := c.post(ctx, endpointLegal, "application/json", bytes.NewReader(encoded), domain.ErrorAnalysisFailed)
	if err != nil {
		return nil, err
	}
	if env.LegalAnalysis == nil {
		return nil, &ServiceError{
			Kind:     domain.ErrorAnalysisFailed,
			Message:  "service response is missing legal_analysis",
			Endpoint: endpointLegal,
		}
	}

	analysis := *env.LegalAnalysis
	analysis.Audio = env.Audio
	return analysis, nil
}

// Chat asks a general legal question.
func (c *Client) Chat(ctx context.Context, question string, language domain.Language, wantsSpokenReply bool) (domain.ChatAnswer, error) {
	if err := c.validate.Struct(chatRequest{Question: question, Language: language}); err != nil {
		return domain.ChatAnswer{}, validationError(err)
	}

	encoded, err := json.Marshal(chatPayload{
		Question:  strings.TrimSpace(question),
		Language:  language,
		EnableTTS: wantsSpokenReply,
	})
	if err != nil {
		return domain.ChatAnswer{}, fmt.Errorf("encode chat request: %w", err)
	}

	env, err := c.post(ctx, endpointChat, "application/json", bytes.NewReader(encoded), domain.ErrorChatFailed)
	if err != nil {
		return domain.ChatAnswer{}, err
	}
	return domain.ChatAnswer{Text: env.Response, Audio: env.Audio}, nil
}

// post sends one request and unwraps the success envelope. Failures are *ServiceError of kind.
func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader, kind domain.ErrorKind) (envelope, error) {
	requestID := uuid.NewString()
	logger := c.logger.With().Str("request_id", requestID).Str("endpoint", endpoint).Logger()
	started := time.Now()

	fail := func(message string, status int, cause error) (envelope, error) {
		c.metrics.ObserveRequest(strings.TrimPrefix(endpoint, "/api/"), "error", time.Since(started))
		logger.Warn().Int("status", status).Str("error", message).Dur("elapsed", time.Since(started)).Msg("service request failed")
		return envelope{}, &ServiceError{
			Kind:      kind,
			Message:   message,
			Endpoint:  endpoint,
			Status:    status,
			RequestID: requestID,
			Err:       cause,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+endpoint, body)
	if err != nil {
		return fail(err.Error(), 0, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	logger.Debug().Msg("service request sent")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr.Error(), 0, ctxErr)
		}
		return fail(err.Error(), 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(fmt.Sprintf("read response: %v", err), resp.StatusCode, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && strings.TrimSpace(env.Error) != "" {
			return fail(env.Error, resp.StatusCode, nil)
		}
		return fail(fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), resp.StatusCode, nil)
	}
	if decodeErr != nil {
		return fail(fmt.Sprintf("decode response: %v", decodeErr), resp.StatusCode, decodeErr)
	}
	if !env.Success {
		message := env.Error
		if strings.TrimSpace(message) == "" {
			message = "Unknown error occurred"
		}
		return fail(message, resp.StatusCode, nil)
	}

	c.metrics.ObserveRequest(strings.TrimPrefix(endpoint, "/api/"), "ok", time.Since(started))
	logger.Info().Int("status", resp.StatusCode).Dur("elapsed", time.Since(started)).Msg("service request complete")
	return env, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
