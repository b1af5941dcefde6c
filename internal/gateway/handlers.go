package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/icheftech/fredrick-ai/internal/fault"
	"github.com/icheftech/fredrick-ai/internal/persona"
	"github.com/icheftech/fredrick-ai/internal/pipeline"
	"github.com/icheftech/fredrick-ai/internal/session"
	"github.com/icheftech/fredrick-ai/internal/stt"
	"github.com/icheftech/fredrick-ai/internal/turn"
)

// Wire shapes for the advisory endpoints. An omitted session_id starts a new
// session; the response echoes the id so the client can continue it.
type chatRequest struct {
	Message   string `json:"message"`
	Context   string `json:"context,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

type riskRequest struct {
	BusinessData string   `json:"business_data"`
	RiskAreas    []string `json:"risk_areas,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
}

type riskResponse struct {
	Analysis  string `json:"analysis"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

type complianceRequest struct {
	Document            string `json:"document"`
	ComplianceFramework string `json:"compliance_framework"`
	SessionID           string `json:"session_id,omitempty"`
}

type complianceResponse struct {
	ComplianceReport string `json:"compliance_report"`
	Framework        string `json:"framework"`
	SessionID        string `json:"session_id"`
}

type dueDiligenceRequest struct {
	CompanyInfo string   `json:"company_info"`
	FocusAreas  []string `json:"focus_areas,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

type dueDiligenceResponse struct {
	DueDiligenceReport string `json:"due_diligence_report"`
	Model              string `json:"model"`
	SessionID          string `json:"session_id"`
}

type voiceRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type voiceResponse struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
	Audio      string `json:"audio,omitempty"`
	Status     string `json:"status"`
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

type cancelResponse struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.textField(w, r, "message", req.Message, true) ||
		!s.textField(w, r, "context", req.Context, false) {
		return
	}

	result, err := s.orch.Text(r.Context(), turn.TextRequest{
		SessionID: req.SessionID,
		Message:   persona.ChatMessage(req.Message, req.Context),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  result.Reply,
		Model:     result.Model,
		SessionID: result.SessionID,
	})
}

func (s *Server) handleRiskAnalysis(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.textField(w, r, "business_data", req.BusinessData, true) {
		return
	}

	result, err := s.orch.Text(r.Context(), turn.TextRequest{
		SessionID: req.SessionID,
		System:    s.profile.RiskSystemPrompt(),
		Message:   persona.RiskMessage(req.BusinessData, req.RiskAreas),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, riskResponse{
		Analysis:  result.Reply,
		Model:     result.Model,
		SessionID: result.SessionID,
	})
}

func (s *Server) handleComplianceCheck(w http.ResponseWriter, r *http.Request) {
	var req complianceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.textField(w, r, "document", req.Document, true) ||
		!s.textField(w, r, "compliance_framework", req.ComplianceFramework, true) {
		return
	}

	result, err := s.orch.Text(r.Context(), turn.TextRequest{
		SessionID: req.SessionID,
		System:    s.profile.ComplianceSystemPrompt(req.ComplianceFramework),
		Message:   persona.ComplianceMessage(req.Document),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, complianceResponse{
		ComplianceReport: result.Reply,
		Framework:        req.ComplianceFramework,
		SessionID:        result.SessionID,
	})
}

func (s *Server) handleDueDiligence(w http.ResponseWriter, r *http.Request) {
	var req dueDiligenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.textField(w, r, "company_info", req.CompanyInfo, true) {
		return
	}

	result, err := s.orch.Text(r.Context(), turn.TextRequest{
		SessionID: req.SessionID,
		System:    s.profile.DueDiligenceSystemPrompt(),
		Message:   persona.DueDiligenceMessage(req.CompanyInfo, req.FocusAreas),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dueDiligenceResponse{
		DueDiligenceReport: result.Reply,
		Model:              result.Model,
		SessionID:          result.SessionID,
	})
}

// handleVoice is the blocking voice endpoint: one utterance in, transcript,
// reply, and the whole synthesized answer out. A synthesis failure degrades
// the response to text_only rather than failing a turn that already
// committed.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !s.voiceEnabled {
		writeError(w, r, fault.New(fault.KindUnavailable, "voice is disabled"))
		return
	}

	var req voiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Audio == "" {
		writeError(w, r, fault.New(fault.KindValidation, "audio is required"))
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeError(w, r, fault.Wrap(fault.KindValidation, err, "audio is not valid base64"))
		return
	}
	if len(pcm) == 0 {
		writeError(w, r, fault.New(fault.KindValidation, "audio is empty"))
		return
	}
	if max := s.pipeline.MaxUtteranceBytes; max > 0 && len(pcm) > max {
		writeErrorStatus(w, r, http.StatusRequestEntityTooLarge,
			fault.Errorf(fault.KindValidation, "utterance exceeds %d bytes", max))
		return
	}

	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = s.transcribe.SampleRate
	}
	channels := req.Channels
	if channels == 0 {
		channels = s.transcribe.Channels
	}

	result, err := s.orch.Voice(r.Context(), turn.VoiceRequest{
		SessionID: req.SessionID,
		Utterance: stt.Utterance{PCM: pcm, SampleRate: sampleRate, Channels: channels},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := voiceResponse{
		SessionID:  result.SessionID,
		Transcript: result.Transcript,
		Response:   result.Reply,
		Status:     string(result.Outcome),
	}
	if result.Audio != nil {
		replyPCM, err := drainAudio(result.Audio)
		switch {
		case err != nil:
			s.log.Warn("reply audio stream failed, delivering text only",
				slog.String("session_id", result.SessionID),
				slog.String("error", err.Error()))
			resp.Status = string(turn.OutcomeTextOnly)
		case len(replyPCM) == 0:
			resp.Status = string(turn.OutcomeTextOnly)
		default:
			resp.Audio = base64.StdEncoding.EncodeToString(replyPCM)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.store.History(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Turns: turns})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Close(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(id); err != nil {
		writeError(w, r, err)
		return
	}
	cancelled := s.orch.Cancel(id)
	writeJSON(w, http.StatusOK, cancelResponse{SessionID: id, Cancelled: cancelled})
}

// drainAudio collects the whole reply stream; the blocking endpoint delivers
// audio as one base64 payload rather than streaming it.
func drainAudio(stream *pipeline.Stream) ([]byte, error) {
	var buf []byte
	for f := range stream.Frames() {
		buf = append(buf, f.PCM...)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodeJSON decodes the request body, writing the error response on
// failure. Oversized bodies map to 413, malformed JSON to 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorStatus(w, r, http.StatusRequestEntityTooLarge,
				fault.Errorf(fault.KindValidation, "request body exceeds %d bytes", maxErr.Limit))
			return false
		}
		writeError(w, r, fault.Wrap(fault.KindValidation, err, "invalid JSON body"))
		return false
	}
	return true
}

// textField validates one text field, writing the error response on failure.
// Required fields must contain non-whitespace; every field respects the
// message byte cap.
func (s *Server) textField(w http.ResponseWriter, r *http.Request, name, value string, required bool) bool {
	if required && strings.TrimSpace(value) == "" {
		writeError(w, r, fault.Errorf(fault.KindValidation, "%s is required", name))
		return false
	}
	if s.maxMessageBytes > 0 && len(value) > s.maxMessageBytes {
		writeErrorStatus(w, r, http.StatusRequestEntityTooLarge,
			fault.Errorf(fault.KindValidation, "%s exceeds %d bytes", name, s.maxMessageBytes))
		return false
	}
	return true
}
