package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/akarpov/llmbot-backend/internal/platform/ctxutil"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Index is the vector index collaborator backed by Qdrant's REST API.
type Index interface {
	// EnsureCollection provisions the collection with the given vector
	// dimensionality if it does not exist yet. Idempotent; a concurrent
	// create reported as "already exists" is treated as success.
	EnsureCollection(ctx context.Context, dim int) error

	Upsert(ctx context.Context, points []Point) error

	// Query returns the topK best matches, best first. sessionID, when
	// non-empty, constrains matches to that session's points. Zero indexed
	// points yield an empty slice, never an error.
	Query(ctx context.Context, vector []float32, topK int, sessionID string) ([]ScoredPoint, error)
}

type index struct {
	log         *logger.Logger
	cfg         Config
	baseURL     string
	http        *http.Client
	provisioned atomic.Bool
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewIndex(log *logger.Logger, cfg Config) (Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &index{
		log:     log.With("service", "QdrantIndex"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	log.Info("Qdrant index configured",
		"url", s.baseURL,
		"collection", cfg.Collection,
	)
	return s, nil
}

func (s *index) EnsureCollection(ctx context.Context, dim int) error {
	const op = "ensure_collection"
	if s.provisioned.Load() {
		return nil
	}
	if dim <= 0 {
		return opErr(op, OperationErrorValidation, "vector dimension must be positive", nil)
	}

	status, err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, nil)
	if err == nil {
		s.provisioned.Store(true)
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	status, err = s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil)
	if err != nil {
		// A concurrent create may have won the race.
		if status == http.StatusConflict || strings.Contains(strings.ToLower(err.Error()), "already exists") {
			s.log.Debug("Collection already exists", "collection", s.cfg.Collection)
			s.provisioned.Store(true)
			return nil
		}
		return err
	}

	s.log.Info("Collection created", "collection", s.cfg.Collection, "vector_dim", dim)
	s.provisioned.Store(true)
	return nil
}

func (s *index) Upsert(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		pointID := strings.TrimSpace(p.ID)
		if pointID == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has an empty vector", pointID), nil)
		}
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		body = append(body, map[string]any{
			"id":      pointID,
			"vector":  p.Vector,
			"payload": payload,
		})
	}

	req := map[string]any{"points": body}
	_, err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
	return err
}

func (s *index) Query(ctx context.Context, vector []float32, topK int, sessionID string) ([]ScoredPoint, error) {
	const op = "query"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if topK <= 0 {
		topK = 10
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if strings.TrimSpace(sessionID) != "" {
		req["filter"] = map[string]any{
			"must": []any{
				map[string]any{
					"key":   "session_id",
					"match": map[string]any{"value": sessionID},
				},
			},
		}
	}

	var rawResults []searchResultItem
	if _, err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(rawResults))
	for _, item := range rawResults {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		out = append(out, ScoredPoint{
			ID:      id,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out, nil
}

// doJSON performs one request against the Qdrant REST API and decodes the
// response envelope. The returned status code is valid whenever the request
// reached the server, including on error returns.
func (s *index) doJSON(ctx context.Context, op, method, path string, in any, out any) (int, error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return 0, opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return 0, opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return resp.StatusCode, opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return resp.StatusCode, &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return resp.StatusCode, opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return resp.StatusCode, nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (s *index) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}
