package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/config"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	// Rachel, the ElevenLabs starter voice.
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultModelID = "eleven_monolingual_v1"

	ttsTimeout    = 30 * time.Second
	voicesTimeout = 10 * time.Second
)

// ElevenLabs converts text to speech through the ElevenLabs API.
type ElevenLabs struct {
	credentialID string
	tenantID     string
	apiKey       string
	configured   bool

	base   string
	st     *store.Store
	client *http.Client
}

// NewElevenLabs loads the API key from the stored credential, with a
// dev-only ELEVENLABS_API_KEY fallback outside strict mode.
func NewElevenLabs(ctx context.Context, cfg *config.Config, st *store.Store, credentialID, tenantID string) (*ElevenLabs, error) {
	c := &ElevenLabs{
		credentialID: credentialID,
		tenantID:     tenantID,
		base:         elevenLabsBaseURL,
		st:           st,
		client:       httpClient,
	}
	if st != nil {
		cred, err := st.GetCredential(ctx, credentialID, contracts.ToolElevenLabs, tenantID)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs credential lookup: %w", err)
		}
		if cred != nil {
			c.apiKey = credString(cred.Data, "api_key", "xi_api_key")
		}
	}
	if c.apiKey == "" {
		if cfg.CredentialsStrict {
			return nil, errors.New("ElevenLabs API key missing. Set via credentials API or ELEVENLABS_API_KEY in dev.")
		}
		c.apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	c.configured = c.apiKey != ""
	return c, nil
}

// Tool implements Connector.
func (c *ElevenLabs) Tool() string { return contracts.ToolElevenLabs }

// Invoke implements Connector.
func (c *ElevenLabs) Invoke(ctx context.Context, op string, params map[string]any) (*Result, error) {
	switch op {
	case "text_to_speech":
		return c.textToSpeech(ctx,
			strParam(params, "text", ""),
			strParam(params, "voice_id", defaultVoiceID),
			strParam(params, "model_id", defaultModelID),
			mapParam(params, "voice_settings")), nil
	case "list_voices":
		return c.listVoices(ctx), nil
	}
	return nil, fmt.Errorf("elevenlabs connector: unsupported op %q", op)
}

func (c *ElevenLabs) textToSpeech(ctx context.Context, text, voiceID, modelID string, voiceSettings map[string]any) *Result {
	if !c.configured {
		return fail("ElevenLabs connector not configured")
	}
	if voiceSettings == nil {
		voiceSettings = map[string]any{}
	}
	payload := map[string]any{
		"text":           text,
		"model_id":       modelID,
		"voice_settings": voiceSettings,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return c.opError(ctx, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, ttsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/text-to-speech/"+voiceID, bytes.NewReader(encoded))
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, body, err := doJSON(c.client, req)
	if err != nil {
		return c.opError(ctx, err.Error())
	}

	// Some plans answer JSON, others stream raw audio back.
	if resp.StatusCode == http.StatusOK {
		recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
		ct := resp.Header.Get("Content-Type")
		if strings.Contains(ct, "application/json") {
			return succeed(map[string]any{"response": safeJSON(body)})
		}
		return succeed(map[string]any{
			"audio_size_bytes": len(body),
			"content_type":     ct,
		})
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("%d", resp.StatusCode)
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
	r := fail("%s", msg)
	r.Fields = map[string]any{"status_code": resp.StatusCode}
	return r
}

func (c *ElevenLabs) listVoices(ctx context.Context) *Result {
	if !c.configured {
		return fail("ElevenLabs connector not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, voicesTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/voices", nil)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := doJSON(c.client, req)
	if err != nil {
		return c.opError(ctx, err.Error())
	}
	if resp.StatusCode >= 400 {
		return c.opError(ctx, httpError(resp, body))
	}

	var data struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return c.opError(ctx, err.Error())
	}
	voices := make([]map[string]any, 0, len(data.Voices))
	for _, v := range data.Voices {
		voices = append(voices, map[string]any{"voice_id": v.VoiceID, "name": v.Name})
	}
	recordResult(ctx, c.st, c.credentialID, c.tenantID, true, "")
	return succeed(map[string]any{"voices": voices})
}

func (c *ElevenLabs) opError(ctx context.Context, msg string) *Result {
	recordResult(ctx, c.st, c.credentialID, c.tenantID, false, msg)
	return fail("%s", msg)
}
