package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, parseDurations(cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ConversationAgentA2A", cfg.BranchByRole(RoleGeneral))
	assert.Equal(t, "FormSupportAgentA2A", cfg.BranchByRole(RoleSpecialized))
}

func TestLoad_ExpandsEnvAndParsesDurations(t *testing.T) {
	t.Setenv("TEST_FORM_URL", "http://forms.internal:9001")
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	yml := `
server:
  port: 9000
branches:
  - name: ConversationAgentA2A
    url: http://conversation.internal:9000
    role: general
    timeout: 5s
  - name: FormSupportAgentA2A
    url: ${TEST_FORM_URL}
    role: specialized
    retries: 2
    params:
      step_number: step3-Location
session:
  backend: redis
  ttl: 30m
  redis:
    host: cache.internal
    password: ${TEST_REDIS_PASSWORD}
    ssl: true
policy:
  denylist:
    - name: excluded-project
      phrases: ["Site C", "pipeline"]
  not_supported_message: Not supported.
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Branches, 2)
	assert.Equal(t, 5*time.Second, cfg.Branches[0].Timeout)
	assert.Equal(t, "http://forms.internal:9001", cfg.Branches[1].URL)
	assert.Equal(t, 2, cfg.Branches[1].Retries)
	assert.Equal(t, "step3-Location", cfg.Branches[1].Params["step_number"])

	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "s3cret", cfg.Session.Redis.Password)
	assert.Equal(t, 6379, cfg.Session.Redis.Port, "unset fields keep defaults")
	assert.True(t, cfg.Session.Redis.SSL)

	require.Len(t, cfg.Policy.Denylist, 1)
	assert.Equal(t, []string{"Site C", "pipeline"}, cfg.Policy.Denylist[0].Phrases)
	assert.Equal(t, "Not supported.", cfg.Policy.NotSupportedMessage)
	assert.Equal(t, "http://localhost:9000", cfg.Server.PublicURL)
	assert.Equal(t, 120*time.Second, cfg.Gateway.RequestTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"bad duration", "session:\n  ttl: soon\n"},
		{"bad backend", "session:\n  backend: cosmos\n"},
		{"no branches", "branches: []\n"},
		{"duplicate branch", "branches:\n  - {name: a, url: 'http://x'}\n  - {name: a, url: 'http://y'}\n"},
		{"relative url", "branches:\n  - {name: a, url: '/x'}\n"},
		{"two general", "branches:\n  - {name: a, url: 'http://x', role: general}\n  - {name: b, url: 'http://y', role: general}\n"},
		{"missing key", "synthesis:\n  provider: openai\n"},
		{"unknown provider", "synthesis:\n  provider: cohere\n"},
		{"http gateway", "gateway:\n  agent_server_url: http://x/ws\n"},
		{"negative max runs", "workflow:\n  max_concurrent_runs: -1\n"},
		{"negative max turns", "workflow:\n  max_turns: -5\n"},
		{"malformed", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yml))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"CONVERSATION_AGENT_A2A_URL": "http://conv:8000",
		"FORM_SUPPORT_AGENT_A2A_URL": "http://form:8001",
		"FORM_STEP_NUMBER":           "step4-Review",
		"SESSION_BACKEND":            "document",
		"DOCUMENT_DB_PATH":           "/var/lib/orchestrator",
		"DOCUMENT_COLLECTION":        "Threads",
		"SESSION_TTL":                "2h",
		"SYNTHESIS_PROVIDER":         "anthropic",
		"ANTHROPIC_API_KEY":          "key",
		"OPENAI_API_KEY":             "ignored",
		"DENYLIST_PHRASES":           "Site C, pipeline ,",
		"PORT":                       "9100",
		"LOG_LEVEL":                  "debug",
	}
	cfg, err := fromLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	assert.Equal(t, "http://conv:8000", cfg.Branches[0].URL)
	assert.Equal(t, "http://form:8001", cfg.Branches[1].URL)
	assert.Equal(t, "step4-Review", cfg.Branches[1].Params["step_number"])
	assert.Equal(t, "document", cfg.Session.Backend)
	assert.Equal(t, "Threads", cfg.Session.Document.Collection)
	assert.Equal(t, "AgentMemoryDB", cfg.Session.Document.Database)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "key", cfg.Synthesis.APIKey)
	assert.True(t, cfg.Synthesis.Enabled())
	require.Len(t, cfg.Policy.Denylist, 1)
	assert.Equal(t, []string{"Site C", "pipeline"}, cfg.Policy.Denylist[0].Phrases)
	assert.Equal(t, "0.0.0.0:9100", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFromEnv_BadNumber(t *testing.T) {
	_, err := fromLookup(func(k string) (string, bool) {
		if k == "REDIS_PORT" {
			return "sixty", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestFromEnv_DefaultsDoNotShare(t *testing.T) {
	a := Default()
	a.Branches[1].Params["step_number"] = "changed"
	assert.Equal(t, "step2-Eligibility", Default().Branches[1].Params["step_number"])
}
