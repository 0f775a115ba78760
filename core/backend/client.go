// Package backend talks to the remote dialog service: it sends the recent
// conversation and receives the assistant's reply, optionally with a URL to
// a recording of it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/koscakluka/ema-dialog/core/conversation"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	responsePath   = "get_response"
	DefaultTimeout = 60 * time.Second
)

var ErrUnexpectedStatus = errors.New("non-OK HTTP status")

type Reply struct {
	Text string
	// AudioURL is absolute, or empty when the reply has no recording.
	AudioURL string
}

type Client struct {
	baseURL  *url.URL
	endpoint string
	client   *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// NewClient creates a client for the dialog service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url: %q is not absolute", baseURL)
	}
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}

	c := &Client{
		baseURL:  base,
		endpoint: base.JoinPath(responsePath).String(),
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Respond sends the conversation window and waits for the reply. Cancelling
// ctx aborts the request; the returned error then wraps ctx's error.
func (c *Client) Respond(ctx context.Context, turns []conversation.Turn) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "request response")
	defer span.End()

	messages, err := toMessages(turns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("request.turns", len(messages)))

	requestBodyBytes, err := json.Marshal(requestBody{Conversation: messages})
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if errorBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}

		err := fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var body responseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reply := &Reply{Text: body.Response}
	if body.AudioURL != nil && *body.AudioURL != "" {
		audioURL, err := c.baseURL.Parse(*body.AudioURL)
		if err != nil {
			logger.Warn("ignoring malformed audio url", "audio_url", *body.AudioURL, "error", err)
		} else {
			reply.AudioURL = audioURL.String()
		}
	}
	span.SetAttributes(attribute.Bool("response.has_audio", reply.AudioURL != ""))

	return reply, nil
}
