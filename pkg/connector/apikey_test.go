package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/store"
)

func seedAPIKey(t *testing.T, st *store.Store, credentialID, tool, keyField, key string) {
	t.Helper()
	err := st.SaveCredential(context.Background(), &store.Credential{
		CredentialID: credentialID,
		ToolName:     tool,
		Type:         "api_key",
		Data:         map[string]any{keyField: key},
	})
	require.NoError(t, err)
}

func TestBraveSearch(t *testing.T) {
	var gotToken, gotQuery, gotCount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]any{
					{"title": "Go", "url": "https://go.dev", "description": "The Go site", "extra": "dropped"},
					{"title": "Docs", "url": "https://go.dev/doc", "description": "Docs"},
					{"title": "Blog", "url": "https://go.dev/blog", "description": "Blog"},
				},
			},
		})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "brave_search", "brave_search", "api_key", "bsk-1")
	c, err := NewBraveSearch(context.Background(), testConfig(t), st, "brave_search", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "search", map[string]any{
		"q":     "golang",
		"count": float64(2),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "bsk-1", gotToken)
	assert.Equal(t, "golang", gotQuery)
	assert.Equal(t, "2", gotCount)
	assert.Equal(t, "golang", res.Fields["query"])
	assert.Equal(t, 2, res.Fields["count"], "results are trimmed to the requested count")

	results, ok := res.Fields["results"].([]map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Go", results[0]["title"])
	assert.NotContains(t, results[0], "extra")
}

func TestBraveSearchCountClamps(t *testing.T) {
	var gotCount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCount = r.URL.Query().Get("count")
		_ = json.NewEncoder(w).Encode(map[string]any{"web": map[string]any{}})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "brave_search", "brave_search", "subscription_token", "bsk-2")
	c, err := NewBraveSearch(context.Background(), testConfig(t), st, "brave_search", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "search", map[string]any{"q": "x", "count": float64(500)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "20", gotCount)

	res, err = c.Invoke(context.Background(), "search", map[string]any{"q": "x", "count": float64(-3)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1", gotCount)
}

func TestBraveSearchUnconfigured(t *testing.T) {
	c, err := NewBraveSearch(context.Background(), testConfig(t), newTestStore(t), "brave_search", "")
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), "search", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Brave Search connector not configured (missing API key)", res.Error)
}

func TestBraveSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "brave_search", "brave_search", "api_key", "bsk-3")
	c, err := NewBraveSearch(context.Background(), testConfig(t), st, "brave_search", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "search", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "HTTP 429")
	assert.Equal(t, "x", res.Fields["query"])

	// Failure lands on the credential row for integration status.
	cred, err := st.GetCredential(context.Background(), "brave_search", "brave_search", "")
	require.NoError(t, err)
	assert.Contains(t, cred.LastError, "HTTP 429")
}

func TestGitHubListRepos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/repos", r.URL.Path)
		require.Equal(t, "Bearer ghp-1", r.Header.Get("Authorization"))
		require.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		assert.Equal(t, "all", r.URL.Query().Get("visibility"))
		assert.Equal(t, "30", r.URL.Query().Get("per_page"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"name": "edon", "full_name": "org/edon", "private": true, "forks": 3},
			{"name": "site", "full_name": "org/site", "private": false},
		})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "github", "github", "token", "ghp-1")
	c, err := NewGitHub(context.Background(), testConfig(t), st, "github", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "list_repos", nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Fields["count"])

	repos, ok := res.Fields["repos"].([]map[string]any)
	require.True(t, ok)
	assert.Equal(t, "org/edon", repos[0]["full_name"])
	assert.Equal(t, true, repos[0]["private"])
}

func TestGitHubGetFile(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("# EDON\ngateway\n"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/org/edon/contents/README.md", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": content[:12] + "\n" + content[12:],
			"sha":     "abc123",
		})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "github", "github", "access_token", "ghp-2")
	c, err := NewGitHub(context.Background(), testConfig(t), st, "github", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "get_file", map[string]any{
		"owner": "org", "repo": "edon", "path": "README.md",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "# EDON\ngateway\n", res.Fields["content"])
	assert.Equal(t, "abc123", res.Fields["sha"])
	assert.Equal(t, "README.md", res.Fields["path"])
}

func TestGitHubCreateIssue(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/org/edon/issues", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number": 42, "html_url": "https://github.com/org/edon/issues/42", "state": "open",
		})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "github", "github", "token", "ghp-3")
	c, err := NewGitHub(context.Background(), testConfig(t), st, "github", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "create_issue", map[string]any{
		"owner": "org", "repo": "edon", "title": "Flaky test",
		"body": "Details", "labels": []any{"bug"},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 42, res.Fields["number"])
	assert.Equal(t, "open", res.Fields["state"])
	assert.Equal(t, "Flaky test", gotPayload["title"])
	assert.Equal(t, []any{"bug"}, gotPayload["labels"])
}

func TestGitHubUnconfigured(t *testing.T) {
	c, err := NewGitHub(context.Background(), testConfig(t), newTestStore(t), "github", "")
	require.NoError(t, err)
	if c.configured {
		t.Skip("GITHUB_TOKEN set in environment")
	}

	res, err := c.Invoke(context.Background(), "list_repos", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "GitHub connector not configured", res.Error)
}

func TestElevenLabsTextToSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/text-to-speech/21m00Tcm4TlvDq8ikWAM", r.URL.Path)
		require.Equal(t, "xi-key", r.Header.Get("xi-api-key"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello", payload["text"])
		assert.Equal(t, "eleven_monolingual_v1", payload["model_id"])

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xFF, 0xF3, 0x44, 0x00})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "elevenlabs", "elevenlabs", "api_key", "xi-key")
	c, err := NewElevenLabs(context.Background(), testConfig(t), st, "elevenlabs", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "text_to_speech", map[string]any{"text": "Hello"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 4, res.Fields["audio_size_bytes"])
	assert.Equal(t, "audio/mpeg", res.Fields["content_type"])
}

func TestElevenLabsTextToSpeechJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"audio_url": "https://cdn.example/a.mp3"})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "elevenlabs", "elevenlabs", "xi_api_key", "xi-key")
	c, err := NewElevenLabs(context.Background(), testConfig(t), st, "elevenlabs", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "text_to_speech", map[string]any{"text": "Hi"})
	require.NoError(t, err)
	require.True(t, res.Success)
	response, ok := res.Fields["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/a.mp3", response["audio_url"])
}

func TestElevenLabsTTSErrorCarriesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("voice not found"))
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "elevenlabs", "elevenlabs", "api_key", "xi-key")
	c, err := NewElevenLabs(context.Background(), testConfig(t), st, "elevenlabs", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "text_to_speech", map[string]any{
		"text": "Hi", "voice_id": "nope",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "voice not found", res.Error)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Fields["status_code"])
}

func TestElevenLabsListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/voices", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"voices": []map[string]any{
				{"voice_id": "v1", "name": "Rachel", "labels": map[string]any{"age": "young"}},
				{"voice_id": "v2", "name": "Adam"},
			},
		})
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedAPIKey(t, st, "elevenlabs", "elevenlabs", "api_key", "xi-key")
	c, err := NewElevenLabs(context.Background(), testConfig(t), st, "elevenlabs", "")
	require.NoError(t, err)
	c.base = srv.URL

	res, err := c.Invoke(context.Background(), "list_voices", nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	voices, ok := res.Fields["voices"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, voices, 2)
	assert.Equal(t, map[string]any{"voice_id": "v1", "name": "Rachel"}, voices[0])
}
