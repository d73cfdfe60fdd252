package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"companion-chat/internal/integrations/gotrue"
	"companion-chat/internal/persona"
)

const (
	actionGetPersonaData          = "getPersonaData"
	actionUpdateRelationshipStage = "updateRelationshipStage"
	correlationHeader             = "X-Correlation-Id"
	allowedHeaders                = "authorization, x-client-info, apikey, content-type"
)

type PersonaService interface {
	GetPersonaData(ctx context.Context, userID string) (persona.Data, error)
	UpdateRelationshipStage(ctx context.Context, userID string) (string, error)
}

// Authenticator resolves a bearer token to the identity-service user.
type Authenticator interface {
	GetUser(ctx context.Context, accessToken string) (*gotrue.User, error)
}

type Handler struct {
	svc  PersonaService
	auth Authenticator
}

type Option func(*Handler)

// WithAuthenticator requires every request to carry a bearer token whose user
// matches the requested userId.
func WithAuthenticator(a Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

type personaRequest struct {
	UserID     string `json:"userId"`
	ActionType string `json:"actionType"`
}

type stageResponse struct {
	Success  bool   `json:"success"`
	NewStage string `json:"newStage"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(svc PersonaService, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: persona service must not be nil")
	}
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := slog.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	switch req.HTTPMethod {
	case http.MethodOptions:
		return respond(http.StatusOK, corrID, nil), nil
	case http.MethodPost:
	default:
		return respond(http.StatusMethodNotAllowed, corrID, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}

	var in personaRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		log.Warn("invalid request body", "err", err)
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: string(persona.ErrorInvalidInput)}), nil
	}

	if h.auth != nil {
		if err := h.authorize(ctx, req.Headers, in.UserID); err != nil {
			log.Warn("request not authorized", "err", err)
			return respond(http.StatusUnauthorized, corrID, errorResponse{Error: string(persona.ErrorUnauthorized)}), nil
		}
	}

	var (
		body any
		err  error
	)
	switch in.ActionType {
	case actionGetPersonaData:
		body, err = h.svc.GetPersonaData(ctx, in.UserID)
	case actionUpdateRelationshipStage:
		var stage string
		stage, err = h.svc.UpdateRelationshipStage(ctx, in.UserID)
		body = stageResponse{Success: true, NewStage: stage}
	default:
		log.Warn("invalid action type", "action", in.ActionType)
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: string(persona.ErrorInvalidInput)}), nil
	}
	if err != nil {
		status, code := mapError(err)
		log.Error("persona action failed", "action", in.ActionType, "code", code, "err", err)
		return respond(status, corrID, errorResponse{Error: code}), nil
	}
	log.Info("persona action completed", "action", in.ActionType)
	return respond(http.StatusOK, corrID, body), nil
}

func (h *Handler) authorize(ctx context.Context, headers map[string]string, userID string) error {
	token, ok := strings.CutPrefix(header(headers, "Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return errors.New("missing bearer token")
	}
	u, err := h.auth.GetUser(ctx, strings.TrimSpace(token))
	if err != nil {
		return err
	}
	if u == nil || u.ID != userID {
		return errors.New("token user does not match userId")
	}
	return nil
}

func mapError(err error) (int, string) {
	var pErr *persona.Error
	if !errors.As(err, &pErr) {
		return http.StatusInternalServerError, string(persona.ErrorInternal)
	}
	switch pErr.Code {
	case persona.ErrorInvalidInput:
		return http.StatusBadRequest, string(pErr.Code)
	case persona.ErrorUnauthorized:
		return http.StatusUnauthorized, string(pErr.Code)
	case persona.ErrorNotFound:
		return http.StatusNotFound, string(pErr.Code)
	default:
		return http.StatusInternalServerError, string(persona.ErrorInternal)
	}
}

// header looks a header up case-insensitively; API Gateway preserves the
// client's casing.
func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(status int, corrID string, body any) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                 "application/json",
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Headers": allowedHeaders,
			correlationHeader:              corrID,
		},
	}
	if body == nil {
		return resp
	}
	b, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
		resp.StatusCode = http.StatusInternalServerError
		resp.Body = `{"error":"INTERNAL_ERROR"}`
		return resp
	}
	resp.Body = string(b)
	return resp
}
