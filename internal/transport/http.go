package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/db3-network/db3-go/internal/errs"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodyBytes     = 4 << 10

	pathMutations = "/v2/mutations"
	pathStatus    = "/v2/status"
)

// HTTPConfig configures an HTTP transport.
type HTTPConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTP speaks the node's JSON protocol over HTTP.
type HTTP struct {
	baseURL *url.URL
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTP constructs an HTTP transport for the node at cfg.BaseURL.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errs.InvalidArgument("node url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errs.InvalidArgument("node url %q is not absolute", raw)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{baseURL: parsed, client: client, logger: logger}, nil
}

// SendMutation posts a submission. Any non-200 reply or unreadable body is a
// transport error because the node's verdict is unknown.
func (h *HTTP) SendMutation(ctx context.Context, submission Submission) (Response, error) {
	var response Response
	if err := h.do(ctx, "transport.send_mutation", http.MethodPost, pathMutations, nil, submission, &response); err != nil {
		return Response{}, err
	}
	return response, nil
}

// GetNonce returns the next nonce the node expects from account.
func (h *HTTP) GetNonce(ctx context.Context, account string) (string, error) {
	var response NonceResponse
	path := "/v2/accounts/" + url.PathEscape(account) + "/nonce"
	if err := h.do(ctx, "transport.get_nonce", http.MethodGet, path, nil, nil, &response); err != nil {
		return "", err
	}
	return response.Nonce, nil
}

// GetMutationHeader fetches one mutation header by id.
func (h *HTTP) GetMutationHeader(ctx context.Context, id string) (MutationHeader, error) {
	var header MutationHeader
	path := pathMutations + "/" + url.PathEscape(id)
	if err := h.do(ctx, "transport.get_mutation_header", http.MethodGet, path, nil, nil, &header); err != nil {
		return MutationHeader{}, err
	}
	return header, nil
}

// ScanMutationHeaders lists headers in acceptance order.
func (h *HTTP) ScanMutationHeaders(ctx context.Context, start, limit int) ([]MutationHeader, error) {
	query := url.Values{}
	query.Set("start", strconv.Itoa(start))
	query.Set("limit", strconv.Itoa(limit))
	var response HeadersResponse
	if err := h.do(ctx, "transport.scan_mutation_headers", http.MethodGet, pathMutations, query, nil, &response); err != nil {
		return nil, err
	}
	return response.Headers, nil
}

// GetStatus fetches the node status.
func (h *HTTP) GetStatus(ctx context.Context) (NodeStatus, error) {
	var status NodeStatus
	if err := h.do(ctx, "transport.get_status", http.MethodGet, pathStatus, nil, nil, &status); err != nil {
		return NodeStatus{}, err
	}
	return status, nil
}

func (h *HTTP) do(ctx context.Context, operation, method, path string, query url.Values, body any, out any) error {
	endpoint := *h.baseURL
	endpoint.Path = h.baseURL.Path + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errs.Serialization("encode %s request: %v", operation, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return errs.Transport(operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := h.client.Do(request)
	if err != nil {
		h.logger.Warn("node request failed", zap.String("operation", operation), zap.String("url", endpoint.String()), zap.Error(err))
		return errs.Transport(operation, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		h.logger.Warn("node returned unexpected status", zap.String("operation", operation), zap.Int("status", response.StatusCode))
		return errs.Transport(operation, fmt.Errorf("unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(snippet))))
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return errs.Transport(operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
