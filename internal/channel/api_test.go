// ABOUTME: Tests for the direct-API adapter
// ABOUTME: Covers canonical passthrough, envelope shape, and delivery tracking

package channel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

func apiSession(t *testing.T, a *DirectAPIAdapter) *session.Session {
	t.Helper()
	sess := session.New("integrator-1", DirectAPI, a.Capabilities())
	require.NoError(t, a.InitializeSession(context.Background(), sess))
	return sess
}

func TestAPI_PreprocessMessage_CanonicalPassthrough(t *testing.T) {
	a := NewDirectAPIAdapter(session.Capabilities{}, nil)
	sess := apiSession(t, a)

	payload := json.RawMessage(`{"type":"text","content":"continue the story","metadata":{"source":"partner"}}`)
	msg, err := a.PreprocessMessage(context.Background(), payload, sess)
	require.NoError(t, err)

	assert.Equal(t, session.TypeText, msg.Type)
	assert.Equal(t, "continue the story", msg.Content)
	assert.Equal(t, "partner", msg.Metadata["source"])
	assert.Equal(t, "api", msg.Metadata["capture_method"])
}

func TestAPI_PreprocessMessage_DefaultsTypeToText(t *testing.T) {
	a := NewDirectAPIAdapter(session.Capabilities{}, nil)
	sess := apiSession(t, a)

	msg, err := a.PreprocessMessage(context.Background(), json.RawMessage(`{"content":"hello"}`), sess)
	require.NoError(t, err)
	assert.Equal(t, session.TypeText, msg.Type)
}

func TestAPI_PreprocessMessage_Rejections(t *testing.T) {
	a := NewDirectAPIAdapter(session.Capabilities{}, nil)
	sess := apiSession(t, a)
	var te *TranslationError

	_, err := a.PreprocessMessage(context.Background(), json.RawMessage(`not json`), sess)
	require.ErrorAs(t, err, &te)

	_, err = a.PreprocessMessage(context.Background(), json.RawMessage(`{"type":"hologram","content":"x"}`), sess)
	require.ErrorAs(t, err, &te)

	_, err = a.PreprocessMessage(context.Background(), json.RawMessage(`{"type":"text"}`), sess)
	require.ErrorAs(t, err, &te)
}

func TestAPI_AdaptResponse_Envelope(t *testing.T) {
	a := NewDirectAPIAdapter(session.Capabilities{}, nil)
	sess := apiSession(t, a)

	resp := &session.Response{Type: session.TypeText, Content: "chapter two", RequiresInput: true}
	native, err := a.AdaptResponse(context.Background(), resp, sess)
	require.NoError(t, err)

	env, ok := native.(*apiEnvelope)
	require.True(t, ok)
	assert.NotEmpty(t, env.ResponseID)
	assert.Equal(t, "conversation.response", env.Object)
	assert.Same(t, resp, env.Data)
	assert.Equal(t, "/api/conversations/"+sess.ID, env.Links["self"])
	assert.Equal(t, "v1", env.Meta["api_version"])
}

func TestAPI_AdaptResponse_TracksWebhookDeliveries(t *testing.T) {
	a := NewDirectAPIAdapter(session.Capabilities{}, nil)
	sess := apiSession(t, a)

	// Configure a webhook via imported state
	_, err := a.ImportState(sess, json.RawMessage(`{"webhook_url":"https://partner/hook"}`), nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := a.AdaptResponse(context.Background(), &session.Response{Content: "x"}, sess)
		require.NoError(t, err)
	}

	exported, err := a.ExportState(sess)
	require.NoError(t, err)
	var st apiState
	require.NoError(t, json.Unmarshal(exported, &st))
	assert.Len(t, st.PendingDeliveries, apiPendingCap)
}

func TestAPI_ExportImport_RoundTrip(t *testing.T) {
	a := NewDirectAPIAdapter(session.Capabilities{}, nil)
	sess := apiSession(t, a)

	_, err := a.ImportState(sess, json.RawMessage(`{"webhook_url":"https://partner/hook","api_version":"v2"}`), nil)
	require.NoError(t, err)

	exported, err := a.ExportState(sess)
	require.NoError(t, err)

	fresh := session.New("integrator-1", DirectAPI, a.Capabilities())
	_, err = a.ImportState(fresh, exported, nil)
	require.NoError(t, err)

	reExported, err := a.ExportState(fresh)
	require.NoError(t, err)
	assert.JSONEq(t, string(exported), string(reExported))
}
