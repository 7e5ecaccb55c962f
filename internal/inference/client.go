// Package inference talks to a Triton inference server over the KServe v2
// HTTP/JSON protocol.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/franz/speech-corpus/internal/util"
)

// DefaultTimeout bounds every inference request
const DefaultTimeout = 600 * time.Second

// Tensor is an input or output tensor of an inference request
type Tensor struct {
	Name     string          `json:"name"`
	Shape    []int           `json:"shape"`
	Datatype string          `json:"datatype"`
	Data     json.RawMessage `json:"data"`
}

type inferRequest struct {
	Inputs  []Tensor          `json:"inputs"`
	Outputs []requestedOutput `json:"outputs,omitempty"`
}

type requestedOutput struct {
	Name string `json:"name"`
}

type inferResponse struct {
	ModelName string   `json:"model_name"`
	Outputs   []Tensor `json:"outputs"`
	Error     string   `json:"error"`
}

// NewTensor builds a tensor from data, which must marshal to a flat JSON
// array
func NewTensor(name, datatype string, shape []int, data any) (Tensor, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Tensor{}, fmt.Errorf("encode tensor %s: %w", name, err)
	}
	return Tensor{Name: name, Shape: shape, Datatype: datatype, Data: raw}, nil
}

// Client is a Triton HTTP client
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient returns a client for the server at baseURL, e.g.
// http://localhost:8000
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Ready reports whether the server accepts requests
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/health/ready", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrInference, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: server not ready (%s)", util.ErrInference, resp.Status)
	}
	return nil
}

// Infer runs model on inputs and returns the output tensors by name
func (c *Client) Infer(ctx context.Context, model string, inputs []Tensor, outputs ...string) (map[string]Tensor, error) {
	body := inferRequest{Inputs: inputs}
	for _, name := range outputs {
		body.Outputs = append(body.Outputs, requestedOutput{Name: name})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	url := fmt.Sprintf("%s/v2/models/%s/infer", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", util.ErrInference, model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %v", util.ErrInference, model, err)
	}

	var out inferResponse
	if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("%w: %s: decode response: %v", util.ErrInference, model, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, fmt.Errorf("%w: %s: %s: %s", util.ErrInference, model, resp.Status, msg)
	}

	byName := make(map[string]Tensor, len(out.Outputs))
	for _, t := range out.Outputs {
		byName[t.Name] = t
	}
	for _, name := range outputs {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: %s: response has no output %q", util.ErrInference, model, name)
		}
	}
	return byName, nil
}
