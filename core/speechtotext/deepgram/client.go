package deepgram

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

const defaultListenURL = "wss://api.deepgram.com/v1/listen"

var ErrMissingAPIKey = errors.New("deepgram api key not set")

// Client runs capture passes against Deepgram's live transcription
// websocket, fed by an AudioSource.
type Client struct {
	apiKey    string
	listenURL string
	dialer    *websocket.Dialer
	source    speechtotext.AudioSource
	options   speechtotext.CaptureOptions

	keepAliveInterval time.Duration
}

type Option func(*Client)

func WithListenURL(listenURL string) Option {
	return func(c *Client) {
		if listenURL != "" {
			c.listenURL = listenURL
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

func WithCaptureOptions(opts ...speechtotext.CaptureOption) Option {
	return func(c *Client) {
		for _, opt := range opts {
			opt(&c.options)
		}
	}
}

func NewClient(apiKey string, source speechtotext.AudioSource, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if source == nil {
		return nil, fmt.Errorf("deepgram client requires an audio source")
	}

	client := &Client{
		apiKey:            apiKey,
		listenURL:         defaultListenURL,
		dialer:            websocket.DefaultDialer,
		source:            source,
		options:           speechtotext.DefaultCaptureOptions(),
		keepAliveInterval: 5 * time.Second,
	}
	client.options.EncodingInfo = source.EncodingInfo()
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

func (c *Client) connectionURL(encoding encodingInfo) (string, error) {
	listenURL, err := url.Parse(c.listenURL)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", strconv.Itoa(encoding.Channels))
	queryParams.Set("model", c.options.Model)
	queryParams.Set("language", c.options.Language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	return listenURL.String(), nil
}

func (c *Client) authHeader() http.Header {
	return http.Header{"Authorization": {"Token " + c.apiKey}}
}
