package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeURL_OpenAI_AppendsV1WhenMissing(t *testing.T) {
	u, err := ComputeURL(ProtocolOpenAI, "https://api.openai.com", "chat/completions", "")
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", u)
}

func TestComputeURL_OpenAI_ExplicitVersionWins(t *testing.T) {
	u, err := ComputeURL(ProtocolOpenAI, "https://gateway.internal/v2", "chat/completions", "")
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.internal/v2/chat/completions", u)
}

func TestComputeURL_Azure_InjectsAPIVersion(t *testing.T) {
	u, err := ComputeURL(ProtocolAzure, "https://myres.openai.azure.com", "openai/deployments/gpt-4/chat/completions", "2024-06-01")
	require.NoError(t, err)
	assert.Contains(t, u, "api-version=2024-06-01")
}

func TestComputeURL_Azure_ExplicitQueryWins(t *testing.T) {
	u, err := ComputeURL(ProtocolAzure, "https://myres.openai.azure.com?api-version=2023-01-01", "openai/deployments/gpt-4", "2024-06-01")
	require.NoError(t, err)
	assert.Contains(t, u, "api-version=2023-01-01")
	assert.NotContains(t, u, "2024-06-01")
}

func TestComputeURL_Gemini_PreservesPath(t *testing.T) {
	u, err := ComputeURL(ProtocolGemini, "https://generativelanguage.googleapis.com/v1beta", "models/gemini-pro:generateContent", "")
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent", u)
}
