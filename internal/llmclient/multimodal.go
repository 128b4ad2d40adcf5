package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NormalizeConfig controls the multimodal normalization pass.
type NormalizeConfig struct {
	// ConvertURLToBase64 enables fetch-and-encode of image/video parts.
	ConvertURLToBase64 bool

	// MaxImagePixels is not read by NormalizeMessages: images are
	// encoded at their fetched size and are not downscaled.
	MaxImagePixels int64

	// MaxVideoSize bounds the byte size of a video resource eligible
	// for base64 inlining; larger videos keep their raw URL.
	MaxVideoSize int64

	Fetcher func(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

// defaultFetcher performs a plain HTTP GET, used when NormalizeConfig
// does not supply one (e.g. in tests).
func defaultFetcher(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("llmclient: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// NormalizeMessages applies multimodal normalization to msgs in place and
// returns the result: each image part's URL is fetched and base64-encoded
// at its fetched size (MaxImagePixels is not applied); each video part is
// likewise encoded unless its
// fetched size exceeds MaxVideoSize, in which case the raw URL is
// retained untouched.
func NormalizeMessages(ctx context.Context, msgs []Message, cfg NormalizeConfig) ([]Message, error) {
	if !cfg.ConvertURLToBase64 {
		return msgs, nil
	}
	fetch := cfg.Fetcher
	if fetch == nil {
		fetch = defaultFetcher
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if len(m.Parts) == 0 {
			out[i] = m
			continue
		}
		parts := make([]Part, len(m.Parts))
		for j, p := range m.Parts {
			parts[j] = p
			switch p.Type {
			case PartImageURL:
				data, mime, err := fetch(ctx, p.URL)
				if err != nil {
					return nil, fmt.Errorf("llmclient: fetch image %s: %w", p.URL, err)
				}
				parts[j].Base64 = base64.StdEncoding.EncodeToString(data)
				parts[j].MimeType = mime
			case PartVideoURL:
				data, mime, err := fetch(ctx, p.URL)
				if err != nil {
					return nil, fmt.Errorf("llmclient: fetch video %s: %w", p.URL, err)
				}
				if cfg.MaxVideoSize > 0 && int64(len(data)) > cfg.MaxVideoSize {
					// Exceeds the inlining ceiling: retain the raw URL.
					continue
				}
				parts[j].Base64 = base64.StdEncoding.EncodeToString(data)
				parts[j].MimeType = mime
			}
		}
		out[i] = Message{Role: m.Role, Text: m.Text, Parts: parts}
	}
	return out, nil
}

const thinkClose = "</think>"

// ExtractThink implements the post-send think detection: strips a
// leading <think>...</think> span (XML-style) and reports it separately;
// otherwise, when text is a JSON object with a string "think" field, it
// reports that field and returns text unchanged as body. The caller can
// then emit a "think" bus event unless disabled.
func ExtractThink(text string) (body string, think string, hasThink bool) {
	trimmed := strings.TrimLeft(text, " \t\n\r")
	if !strings.HasPrefix(trimmed, "<think>") {
		var obj map[string]any
		if json.Unmarshal([]byte(trimmed), &obj) == nil {
			if t, ok := obj["think"].(string); ok {
				return text, t, true
			}
		}
		return text, "", false
	}
	rest := trimmed[len("<think>"):]
	idx := strings.Index(rest, thinkClose)
	if idx < 0 {
		return text, "", false
	}
	think = rest[:idx]
	body = strings.TrimLeft(rest[idx+len(thinkClose):], " \t\n\r")
	return body, think, true
}
