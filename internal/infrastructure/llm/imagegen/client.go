package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/resilience"
)

const maxImageBytes = 16 << 20

type Options struct {
	Model    string
	Size     string
	Timeout  time.Duration
	Executor *resilience.Executor
	// RequestsPerMinute caps generation calls. Zero means no cap.
	RequestsPerMinute int
}

// Client calls an OpenAI compatible image generation endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(baseURL, apiKey string, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = "dall-e-3"
	}
	if opts.Size == "" {
		opts.Size = "1024x1024"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
	}
}

var classifyImageError = resilience.TransientClassifier(nil)

func prompt(description string) string {
	return fmt.Sprintf("Generate a professional medical illustration of a %s. "+
		"The image should be clear, detailed, and suitable for medical context. "+
		"Use medical visualization style with anatomical accuracy.", description)
}

// Illustrate returns the encoded image generated for description.
func (c *Client) Illustrate(ctx context.Context, description string) ([]byte, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.New("illustration description is empty")
	}
	reqBody := map[string]any{
		"model":           c.opts.Model,
		"prompt":          prompt(description),
		"size":            c.opts.Size,
		"n":               1,
		"response_format": "b64_json",
	}
	var response struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/v1/images/generations", reqBody, &response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, errors.New("image generation returned no data")
	}

	item := response.Data[0]
	if item.B64JSON != "" {
		img, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode generated image: %w", err)
		}
		return img, nil
	}
	if item.URL != "" {
		return c.download(ctx, item.URL)
	}
	return nil, errors.New("image generation returned neither data nor url")
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal image request: %w", err)
	}
	call := func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create image request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("image generation request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return statusError("generate", resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode image response: %w", err)
		}
		return nil
	}
	err = c.opts.Executor.Execute(ctx, "imagegen.generate", call, classifyImageError)
	return resilience.WrapTemporary("imagegen.generate", err, classifyImageError)
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	return resilience.Call(ctx, c.opts.Executor, "imagegen.download", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create download request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download generated image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("download", resp)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return nil, fmt.Errorf("read generated image: %w", err)
		}
		return data, nil
	}, classifyImageError)
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &resilience.HTTPStatusError{
		Service:    "imagegen",
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
