package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/glimte/qbridge"
	"github.com/glimte/qbridge/messaging"
)

const maxRequestBody = 1 << 20

type receiptResponse struct {
	MessageID     string    `json:"messageId"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

type messageResponse struct {
	MessageID     string `json:"messageId"`
	CorrelationID string `json:"correlationId"`
	Format        string `json:"format"`
	Text          string `json:"text"`
	Length        int    `json:"length"`
}

type getResponse struct {
	Queue    string            `json:"queue"`
	Messages []messageResponse `json:"messages"`
	Error    string            `json:"error,omitempty"`
}

type putRequest struct {
	Text  string `json:"text"`
	Stamp bool   `json:"stamp"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// bridgeHandler exposes the client over HTTP
type bridgeHandler struct {
	client   *qbridge.Client
	defaults messaging.GetOptions
	logger   *slog.Logger
}

func newBridgeMux(h *bridgeHandler, health http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mq/messages", h.handlePut)
	mux.HandleFunc("GET /mq/messages", h.handleGet)
	mux.HandleFunc("GET /mq/put-message", h.handlePutStamped)
	if health != nil {
		mux.Handle("GET /health", health)
	}
	return mux
}

func (h *bridgeHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	var (
		receipt messaging.Receipt
		err     error
	)
	if req.Stamp {
		receipt, err = h.client.PutStamped(r.Context(), req.Text)
	} else {
		receipt, err = h.client.Put(r.Context(), req.Text)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toReceipt(receipt))
}

func (h *bridgeHandler) handlePutStamped(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.client.PutStamped(r.Context(), r.URL.Query().Get("text"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toReceipt(receipt))
}

func (h *bridgeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	opts, err := h.getOptions(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	msgs, err := h.client.Get(r.Context(), opts)
	var ferr *messaging.FatalGetError
	if err != nil && !errors.As(err, &ferr) {
		h.writeError(w, err)
		return
	}

	resp := getResponse{Queue: h.client.Queue(), Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			MessageID:     m.HexID(),
			CorrelationID: m.HexCorrelationID(),
			Format:        m.Format().String(),
			Text:          m.Text(),
			Length:        m.Len(),
		})
	}
	if ferr != nil {
		resp.Error = ferr.Error()
		h.writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *bridgeHandler) getOptions(r *http.Request) (messaging.GetOptions, error) {
	opts := h.defaults
	q := r.URL.Query()

	if v := q.Get("matchId"); v != "" {
		id, err := messaging.DecodeID(v)
		if err != nil {
			return opts, err
		}
		opts.MatchID = id
	}
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("%w: wait: %v", messaging.ErrInvalidOptions, err)
		}
		opts.WaitInterval = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: limit: %v", messaging.ErrInvalidOptions, err)
		}
		opts.Limit = n
	}
	return opts, opts.Validate()
}

func (h *bridgeHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, messaging.ErrSessionNotOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, messaging.ErrAccessMode):
		status = http.StatusMethodNotAllowed
	case errors.Is(err, messaging.ErrInvalidOptions), errors.Is(err, messaging.ErrInvalidID):
		status = http.StatusBadRequest
	}

	resp := errorResponse{Error: err.Error()}
	var coded interface{ ReasonCode() messaging.ReasonCode }
	if errors.As(err, &coded) {
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		resp.Reason = coded.ReasonCode().String()
	}
	h.writeJSON(w, status, resp)
}

func (h *bridgeHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func toReceipt(r messaging.Receipt) receiptResponse {
	return receiptResponse{
		MessageID:     r.HexMessageID(),
		CorrelationID: messaging.EncodeID(r.CorrelationID),
		Timestamp:     r.Timestamp,
	}
}
