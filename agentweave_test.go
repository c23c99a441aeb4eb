package agentweave

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/compose"
	"github.com/hupe1980/agentweave/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAskRoundTrip(t *testing.T) {
	gateway := model.NewScriptedGateway(model.TextCandidate("Pleased to meet you."))

	w, err := New(agent.New("greeter"), func(o *Options) {
		o.Gateway = gateway
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)

	response, err := w.Ask(context.Background(), "Hello there")
	require.NoError(t, err)
	assert.Equal(t, "Pleased to meet you.", response)

	requests := gateway.Requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].History, 1)
	assert.Equal(t, "Hello there", requests[0].History[0].Text())
}

func TestNewFromBlueprint(t *testing.T) {
	doc := `
name: helpdesk
model: scripted-model
instruction: You answer helpdesk questions.
`
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	gateway := model.NewScriptedGateway(model.TextCandidate("Try turning it off and on."))
	binder := compose.MapBinder{
		Gateways: map[string]model.Gateway{"scripted-model": gateway},
	}

	w, err := NewFromBlueprint(path, binder)
	require.NoError(t, err)
	t.Cleanup(w.Close)

	response, err := w.Ask(context.Background(), "My screen is frozen.")
	require.NoError(t, err)
	assert.Equal(t, "Try turning it off and on.", response)

	require.Len(t, gateway.Requests(), 1)
	assert.Equal(t, "You answer helpdesk questions.", gateway.Requests()[0].Instruction)
}

func TestNewMissingGateway(t *testing.T) {
	_, err := New(agent.New("orphan"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gateway")
}
