// Package tts はアドバイス読み上げ用の音声合成APIクライアントを提供する。
// Google Cloud Text-to-Speech 互換のREST APIを呼び出す。
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"unicode/utf8"
)

const (
	// DefaultEndpoint はGoogle Cloud Text-to-Speechの合成エンドポイント。
	DefaultEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"
	// DefaultLanguage は読み上げ言語の既定値。
	DefaultLanguage = "ja-JP"

	// maxInputRunes はAPIの入力上限（5000バイト）を日本語で超えない文字数。
	maxInputRunes = 1500
	// maxResponseSize は音声レスポンスの上限。
	maxResponseSize = 10 << 20
)

// ErrNotConfigured はAPIキーが設定されていないことを表す。
var ErrNotConfigured = errors.New("tts: api key not configured")

// CallRecorder は音声合成の呼び出し結果を記録する。
type CallRecorder interface {
	RecordTTSCall(result string)
}

// Config は音声合成クライアントの設定。
type Config struct {
	Endpoint string
	APIKey   string
	Language string
}

// Client は音声合成APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	recorder   CallRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Language == "" {
		config.Language = DefaultLanguage
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

// SetCallRecorder は呼び出し結果の記録先を設定する。
func (c *Client) SetCallRecorder(r CallRecorder) {
	c.recorder = r
}

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize はテキストをMP3音声に変換する。
// 入力が上限を超える場合は先頭のみを読み上げる。リトライはしない。
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	audio, err := c.synthesize(ctx, truncateRunes(text, maxInputRunes))
	if c.recorder != nil {
		if err != nil {
			c.recorder.RecordTTSCall("error")
		} else {
			c.recorder.RecordTTSCall("success")
		}
	}
	return audio, err
}

func (c *Client) synthesize(ctx context.Context, text string) ([]byte, error) {
	var body synthesizeRequest
	body.Input.Text = text
	body.Voice.LanguageCode = c.config.Language
	body.AudioConfig.AudioEncoding = "MP3"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	reqURL, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("key", c.config.APIKey)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// URLにAPIキーが含まれるため、エラー文字列はそのままログに出さない
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		c.logger.Error("音声合成APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("音声合成APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("音声合成APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("音声合成APIがステータス %d を返しました", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result synthesizeResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Error("音声合成APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.AudioContent == "" {
		return nil, errors.New("音声合成APIのレスポンスに音声が含まれていません")
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("音声データのデコードに失敗しました: %w", err)
	}
	return audio, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
