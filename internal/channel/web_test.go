// ABOUTME: Tests for the web-chat adapter
// ABOUTME: Covers chat payload translation, HTML rendering, and state merges

package channel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

func webSession(t *testing.T, a *WebChatAdapter) *session.Session {
	t.Helper()
	sess := session.New("child-1", WebChat, a.Capabilities())
	require.NoError(t, a.InitializeSession(context.Background(), sess))
	return sess
}

func TestWeb_PreprocessMessage_Text(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	payload := json.RawMessage(`{"text":"Let's make a story about a fox","client":{"id":"browser-1","locale":"en-US"}}`)
	msg, err := a.PreprocessMessage(context.Background(), payload, sess)
	require.NoError(t, err)

	assert.Equal(t, session.TypeText, msg.Type)
	assert.Equal(t, "Let's make a story about a fox", msg.Content)
	assert.Equal(t, "keyboard", msg.Metadata["capture_method"])
}

func TestWeb_PreprocessMessage_ImageAttachment(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	payload := json.RawMessage(`{"attachments":[{"name":"drawing.png","mime":"image/png","url":"https://cdn/d.png"}],"client":{"id":"browser-1"}}`)
	msg, err := a.PreprocessMessage(context.Background(), payload, sess)
	require.NoError(t, err)

	assert.Equal(t, session.TypeImage, msg.Type)
	assert.Equal(t, []string{"https://cdn/d.png"}, msg.Metadata["attachments"])

	// Attachment recorded in channel state as a media ref
	exported, err := a.ExportState(sess)
	require.NoError(t, err)
	var st webState
	require.NoError(t, json.Unmarshal(exported, &st))
	assert.Equal(t, []string{"https://cdn/d.png"}, st.MediaRefs)
}

func TestWeb_PreprocessMessage_Empty(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	var te *TranslationError
	_, err := a.PreprocessMessage(context.Background(), json.RawMessage(`{"client":{"id":"b"}}`), sess)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, WebChat, te.Channel)
}

func TestWeb_AdaptResponse_RendersHTML(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	resp := &session.Response{
		Type:          session.TypeText,
		Content:       "**Rusty the fox** ran into the *deep* forest.",
		RequiresInput: true,
		Suggestions:   []string{"What happens next?"},
	}
	native, err := a.AdaptResponse(context.Background(), resp, sess)
	require.NoError(t, err)

	env, ok := native.(*webEnvelope)
	require.True(t, ok)
	assert.NotEmpty(t, env.MessageID)
	assert.Contains(t, env.HTML, "<strong>Rusty the fox</strong>")
	assert.Contains(t, env.HTML, "<em>deep</em>")
	assert.Equal(t, resp.Content, env.Text)
	assert.Equal(t, []string{"What happens next?"}, env.Suggestions)
}

func TestWeb_ImportState_MergePreservesLocalMedia(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	// Seed local media
	_, err := a.PreprocessMessage(context.Background(),
		json.RawMessage(`{"attachments":[{"name":"a.png","mime":"image/png","url":"local-1"}],"client":{"id":"b"}}`), sess)
	require.NoError(t, err)

	inbound := json.RawMessage(`{"media_refs":["remote-1","local-1"]}`)
	_, err = a.ImportState(sess, inbound, &session.SwitchContext{Reason: "sync", PreserveState: true})
	require.NoError(t, err)

	exported, err := a.ExportState(sess)
	require.NoError(t, err)
	var st webState
	require.NoError(t, json.Unmarshal(exported, &st))
	assert.ElementsMatch(t, []string{"local-1", "remote-1"}, st.MediaRefs)
}

func TestWeb_ImportState_ReplaceDropsPendingUploads(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	inbound := json.RawMessage(`{"client_id":"other","pending_uploads":["u-1"],"media_refs":["m-1"]}`)
	_, err := a.ImportState(sess, inbound, nil)
	require.NoError(t, err)

	exported, err := a.ExportState(sess)
	require.NoError(t, err)
	var st webState
	require.NoError(t, json.Unmarshal(exported, &st))
	assert.Empty(t, st.PendingUploads)
	assert.Equal(t, []string{"m-1"}, st.MediaRefs)
	assert.Equal(t, "html", st.RenderMode)
}

func TestWeb_ImportState_RejectsOversizedState(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	big := make([]byte, session.MaxChannelStateBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := a.ImportState(sess, big, nil)
	assert.Error(t, err)
}

func TestWeb_ReleaseStreamArtifacts(t *testing.T) {
	a := NewWebChatAdapter(session.Capabilities{}, nil)
	sess := webSession(t, a)

	st := webState{RenderMode: "html", PendingUploads: []string{"u-1", "u-2"}}
	raw, err := json.Marshal(st)
	require.NoError(t, err)
	sess.SetChannelState(WebChat, raw)

	require.NoError(t, a.ReleaseStreamArtifacts(context.Background(), sess))

	exported, err := a.ExportState(sess)
	require.NoError(t, err)
	var got webState
	require.NoError(t, json.Unmarshal(exported, &got))
	assert.Empty(t, got.PendingUploads)

	// No-op when nothing is pending
	require.NoError(t, a.ReleaseStreamArtifacts(context.Background(), sess))
}
