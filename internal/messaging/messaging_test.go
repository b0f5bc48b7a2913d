package messaging_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
	"pagebuilder/internal/messaging"
)

const (
	builderOrigin = "http://localhost:5173"
	previewOrigin = "http://localhost:5173"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) Send(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

func (r *recorder) messages(t *testing.T) []messaging.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]messaging.Message, 0, len(r.frames))
	for _, f := range r.frames {
		m, err := messaging.Decode(f)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (r *recorder) last(t *testing.T) messaging.Message {
	t.Helper()
	msgs := r.messages(t)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func frame(t *testing.T, origin string, m messaging.Message) messaging.Envelope {
	t.Helper()
	data, err := messaging.Encode(m)
	require.NoError(t, err)
	return messaging.Envelope{Origin: origin, Data: data}
}

func rawFrame(origin, data string) messaging.Envelope {
	return messaging.Envelope{Origin: origin, Data: []byte(data)}
}

func seedStore(t *testing.T) *editor.Store {
	t.Helper()
	s := editor.New(nil)
	s.OpenScope(domain.PageScope("p1"), []domain.Element{
		{ID: "body", Tag: domain.TagBody, PageID: "p1", OrderNum: 1, Props: domain.Props{}},
		{ID: "btn", Tag: domain.TagButton, ParentID: "body", PageID: "p1", OrderNum: 1, Props: domain.Props{"children": "Click", "variant": "primary"}},
		{ID: "txt", Tag: domain.TagText, ParentID: "body", PageID: "p1", OrderNum: 2, Props: domain.Props{"children": "Hello"}},
	})
	return s
}

var policy = messaging.OriginPolicy{Allowed: []string{builderOrigin}}

// ── Protocol ───────────────────────────────────────────────

func TestDecode_RejectsBadShapesWithoutPanicking(t *testing.T) {
	for _, raw := range []string{``, `nope`, `[]`, `{"elements":[]}`, `{"type":42}`} {
		_, err := messaging.Decode([]byte(raw))
		assert.ErrorIs(t, err, messaging.ErrMalformed, raw)
	}

	_, err := messaging.Decode([]byte(`{"type":"MYSTERY"}`))
	assert.ErrorIs(t, err, messaging.ErrUnknownMessage)

	_, err = messaging.Decode([]byte(`{"type":"UPDATE_ELEMENT_PROPS","props":{}}`))
	assert.ErrorIs(t, err, messaging.ErrMalformed)

	m, err := messaging.Decode([]byte(`{"type":"ELEMENT_SELECTED","elementId":"a","payload":{"rect":{"top":1,"left":2,"width":3,"height":4},"source":"preview"}}`))
	require.NoError(t, err)
	assert.Equal(t, "preview", m.SelectionSource())
	assert.Equal(t, &messaging.Rect{Top: 1, Left: 2, Width: 3, Height: 4}, m.Selection().Rect)
}

func TestMessage_PropsPatchAndMergeDefault(t *testing.T) {
	m, err := messaging.Decode([]byte(`{"type":"element-props-update","elementId":"a","payload":{"props":{"x":"1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.Props{"x": "1"}, m.PropsPatch())
	assert.True(t, m.ShouldMerge())

	m, err = messaging.Decode([]byte(`{"type":"UPDATE_ELEMENT_PROPS","elementId":"a","props":{"y":"2"},"merge":false}`))
	require.NoError(t, err)
	assert.Equal(t, domain.Props{"y": "2"}, m.PropsPatch())
	assert.False(t, m.ShouldMerge())
}

func TestOriginPolicy(t *testing.T) {
	p := messaging.OriginPolicy{Allowed: []string{"https://app.example.com/"}}
	assert.True(t, p.Allows("https://APP.example.com"))
	assert.False(t, p.Allows("https://evil.example.com"))
	assert.ErrorIs(t, p.Check("null"), messaging.ErrUntrustedOrigin)
	assert.True(t, messaging.OriginPolicy{Allowed: []string{"*"}}.Allows("anything"))

	r := httptest.NewRequest(http.MethodGet, "http://pb.local/ws", nil)
	assert.True(t, messaging.OriginPolicy{}.CheckRequest(r))
	r.Header.Set("Origin", "http://pb.local")
	assert.True(t, messaging.OriginPolicy{}.CheckRequest(r))
	r.Header.Set("Origin", "http://other.local")
	assert.False(t, messaging.OriginPolicy{}.CheckRequest(r))
}

// ── Theme ──────────────────────────────────────────────────

func TestThemeTokensCSS(t *testing.T) {
	css := messaging.ThemeTokensCSS(map[string]string{"--b": "2px", "--a": "red"})
	assert.Equal(t, ":root {\n  --a: red;\n  --b: 2px;\n}", css)
}

func TestThemeVarsCSS(t *testing.T) {
	css := messaging.ThemeVarsCSS([]messaging.ThemeVar{
		{CSSVar: "--bg", Value: "#fff"},
		{CSSVar: "--bg", Value: "#000", IsDark: true},
	})
	assert.Equal(t, ":root {\n  --bg: #fff;\n}\n\n[data-theme=\"dark\"] {\n  --bg: #000;\n}\n", css)
	assert.Empty(t, messaging.ThemeVarsCSS(nil))
}

// ── Builder ────────────────────────────────────────────────

func TestBuilder_BroadcastsOnStoreChange(t *testing.T) {
	store := seedStore(t)
	out := &recorder{}
	b := messaging.NewBuilder(store, out, messaging.BuilderOptions{Policy: policy})
	defer b.Close()

	_, err := store.UpdateElementProps("btn", domain.Props{"children": "Go"})
	require.NoError(t, err)
	_, err = store.UpdateElementProps("txt", domain.Props{"children": "Bye"})
	require.NoError(t, err)

	msgs := out.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, messaging.TypeUpdateElements, msgs[0].Type)
	assert.Len(t, msgs[1].Elements, 3)
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)

	b.Close()
	_, err = store.UpdateElementProps("btn", domain.Props{"children": "Stop"})
	require.NoError(t, err)
	assert.Len(t, out.messages(t), 2)
}

func TestBuilder_IgnoresUntrustedOrigin(t *testing.T) {
	store := seedStore(t)
	b := messaging.NewBuilder(store, &recorder{}, messaging.BuilderOptions{Policy: policy})
	defer b.Close()

	err := b.Handle(context.Background(), frame(t, "https://evil.example", messaging.Message{
		Type: messaging.TypeUpdateElementProps, ElementID: "btn", Props: domain.Props{"children": "pwned"},
	}))
	assert.ErrorIs(t, err, messaging.ErrUntrustedOrigin)
	assert.True(t, messaging.IsRejection(err))
	got, _ := store.Element("btn")
	assert.Equal(t, "Click", got.Props.String("children"))
}

func TestBuilder_IgnoresMalformedAndUnknown(t *testing.T) {
	store := seedStore(t)
	b := messaging.NewBuilder(store, &recorder{}, messaging.BuilderOptions{Policy: policy})
	defer b.Close()

	assert.ErrorIs(t, b.Handle(context.Background(), rawFrame(builderOrigin, `{{{`)), messaging.ErrMalformed)
	assert.ErrorIs(t, b.Handle(context.Background(), rawFrame(builderOrigin, `{"type":"SELF_DESTRUCT"}`)), messaging.ErrUnknownMessage)
	assert.Len(t, store.Elements(), 3)
}

func TestBuilder_PropUpdatesBothNames(t *testing.T) {
	store := seedStore(t)
	b := messaging.NewBuilder(store, &recorder{}, messaging.BuilderOptions{Policy: policy})
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Handle(ctx, rawFrame(builderOrigin, `{"type":"UPDATE_ELEMENT_PROPS","elementId":"btn","props":{"children":"A"}}`)))
	got, _ := store.Element("btn")
	assert.Equal(t, domain.Props{"children": "A", "variant": "primary"}, got.Props)

	require.NoError(t, b.Handle(ctx, rawFrame(builderOrigin, `{"type":"element-props-update","elementId":"btn","payload":{"props":{"children":"B"}}}`)))
	got, _ = store.Element("btn")
	assert.Equal(t, "B", got.Props.String("children"))

	require.NoError(t, b.Handle(ctx, rawFrame(builderOrigin, `{"type":"UPDATE_ELEMENT_PROPS","elementId":"btn","props":{"children":"C"},"merge":false}`)))
	got, _ = store.Element("btn")
	assert.Equal(t, domain.Props{"children": "C"}, got.Props)
}

func TestBuilder_UpdateElementsFromPreviewSkipsHistory(t *testing.T) {
	store := seedStore(t)
	b := messaging.NewBuilder(store, &recorder{}, messaging.BuilderOptions{Policy: policy})
	defer b.Close()

	list := store.Elements()
	list[1].Props = domain.Props{"children": "From preview"}
	require.NoError(t, b.Handle(context.Background(), frame(t, builderOrigin, messaging.Message{Type: messaging.TypeUpdateElements, Elements: list})))

	got, _ := store.Element("btn")
	assert.Equal(t, "From preview", got.Props.String("children"))
	assert.False(t, store.CanUndo())
}

func TestBuilder_SelectionLoopPrevention(t *testing.T) {
	store := seedStore(t)
	var selections []string
	b := messaging.NewBuilder(store, &recorder{}, messaging.BuilderOptions{
		Policy:   policy,
		OnSelect: func(id string, _ messaging.SelectionPayload) { selections = append(selections, id) },
	})
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Handle(ctx, rawFrame(builderOrigin, `{"type":"ELEMENT_SELECTED","elementId":"txt","source":"builder"}`)))
	assert.Empty(t, b.Selected())

	require.NoError(t, b.Handle(ctx, rawFrame(builderOrigin, `{"type":"ELEMENT_SELECTED","elementId":"txt","payload":{"source":"preview"}}`)))
	require.NoError(t, b.Handle(ctx, rawFrame(builderOrigin, `{"type":"ELEMENT_SELECTED","elementId":"txt","payload":{"source":"preview"}}`)))
	assert.Equal(t, "txt", b.Selected())
	assert.Equal(t, []string{"txt"}, selections)
}

func TestBuilder_ElementClickEchoesSelection(t *testing.T) {
	store := seedStore(t)
	out := &recorder{}
	b := messaging.NewBuilder(store, out, messaging.BuilderOptions{Policy: policy})
	defer b.Close()

	require.NoError(t, b.Handle(context.Background(), rawFrame(builderOrigin, `{"type":"element-click","elementId":"btn"}`)))
	m := out.last(t)
	assert.Equal(t, messaging.TypeElementSelected, m.Type)
	assert.Equal(t, "btn", m.ElementID)
	assert.Equal(t, messaging.SourceBuilder, m.SelectionSource())
	assert.Equal(t, domain.TagButton, m.Selection().Tag)
}

func TestBuilder_ControlMessagesReachHandler(t *testing.T) {
	store := seedStore(t)
	var got []messaging.Message
	b := messaging.NewBuilder(store, &recorder{}, messaging.BuilderOptions{
		Policy:  policy,
		Control: func(_ context.Context, m messaging.Message) { got = append(got, m) },
	})
	defer b.Close()

	require.NoError(t, b.Handle(context.Background(), rawFrame(builderOrigin, `{"type":"NAVIGATE_TO_PAGE","payload":{"path":"/about","replace":false}}`)))
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"path": "/about", "replace": false}, got[0].ControlPayload())
}

func TestBuilder_SelectAfterAck(t *testing.T) {
	store := seedStore(t)
	out := &recorder{}
	b := messaging.NewBuilder(store, out, messaging.BuilderOptions{Policy: policy})
	defer b.Close()

	b.SelectAfterAck("txt")
	assert.Empty(t, out.messages(t))
	require.NoError(t, b.Handle(context.Background(), rawFrame(builderOrigin, `{"type":"ELEMENTS_UPDATED_ACK","elementCount":3,"timestamp":1700000000000}`)))

	ack := b.LastAck()
	require.NotNil(t, ack)
	assert.Equal(t, 3, ack.ElementCount)
	assert.Equal(t, "txt", b.Selected())
	assert.Equal(t, messaging.TypeElementSelected, out.last(t).Type)
}

// ── Preview ────────────────────────────────────────────────

func TestPreview_AppliesUpdatesAndAcks(t *testing.T) {
	out := &recorder{}
	now := time.UnixMilli(1700000000000)
	p := messaging.NewPreview(out, messaging.PreviewOptions{Policy: policy, Now: func() time.Time { return now }})
	ctx := context.Background()

	els := seedStore(t).Elements()
	require.NoError(t, p.Handle(ctx, frame(t, builderOrigin, messaging.Message{
		Type: messaging.TypeUpdateElements, Seq: 1, Elements: els,
		PageInfo: &messaging.PageInfo{PageID: "p1"},
	})))

	st := p.State()
	assert.Len(t, st.Elements, 3)
	assert.Equal(t, domain.NullableID("p1"), st.PageInfo.PageID)
	ack := out.last(t)
	assert.Equal(t, messaging.TypeElementsUpdatedAck, ack.Type)
	require.NotNil(t, ack.ElementCount)
	assert.Equal(t, 3, *ack.ElementCount)
	assert.Equal(t, now.UnixMilli(), ack.Timestamp)
}

func TestPreview_LastWriteWinsOnStaleSequence(t *testing.T) {
	p := messaging.NewPreview(&recorder{}, messaging.PreviewOptions{Policy: policy})
	ctx := context.Background()
	els := seedStore(t).Elements()

	require.NoError(t, p.Handle(ctx, frame(t, builderOrigin, messaging.Message{Type: messaging.TypeUpdateElements, Seq: 5, Elements: els})))
	require.NoError(t, p.Handle(ctx, frame(t, builderOrigin, messaging.Message{Type: messaging.TypeUpdateElements, Seq: 4, Elements: els[:1]})))

	st := p.State()
	assert.Len(t, st.Elements, 1)
	assert.Equal(t, uint64(5), st.LastSeq)
	assert.Equal(t, 1, st.StaleSeqs)
}

func TestPreview_PatchesDeletesThemeAndModes(t *testing.T) {
	p := messaging.NewPreview(&recorder{}, messaging.PreviewOptions{Policy: policy})
	ctx := context.Background()
	require.NoError(t, p.Handle(ctx, frame(t, builderOrigin, messaging.Message{Type: messaging.TypeUpdateElements, Elements: seedStore(t).Elements()})))

	for _, raw := range []string{
		`{"type":"UPDATE_ELEMENT_PROPS","elementId":"btn","props":{"children":"Go"}}`,
		`{"type":"DELETE_ELEMENT","elementId":"txt"}`,
		`{"type":"UPDATE_THEME_TOKENS","styles":{"--accent":"blue"}}`,
		`{"type":"THEME_VARS","vars":[{"cssVar":"--bg","value":"#000","isDark":true}]}`,
		`{"type":"SET_DARK_MODE","isDark":true}`,
		`{"type":"SET_EDIT_MODE","mode":"layout"}`,
		`{"type":"UPDATE_PAGE_INFO","pageId":"p2","layoutId":"l1"}`,
		`{"type":"ELEMENT_SELECTED","elementId":"btn","source":"builder"}`,
	} {
		require.NoError(t, p.Handle(ctx, rawFrame(builderOrigin, raw)), raw)
	}

	st := p.State()
	require.Len(t, st.Elements, 2)
	assert.Equal(t, domain.Props{"children": "Go", "variant": "primary"}, st.Elements[1].Props)
	assert.Equal(t, ":root {\n  --accent: blue;\n}", st.ThemeCSS)
	assert.Contains(t, st.VarsCSS, `[data-theme="dark"]`)
	assert.True(t, st.Dark)
	assert.Equal(t, "layout", st.EditMode)
	assert.Equal(t, messaging.PageInfo{PageID: "p2", LayoutID: "l1"}, st.PageInfo)
	assert.Equal(t, "btn", st.Selected)

	require.NoError(t, p.Handle(ctx, rawFrame(builderOrigin, `{"type":"DELETE_ELEMENTS","elementIds":["body","btn"]}`)))
	require.NoError(t, p.Handle(ctx, rawFrame(builderOrigin, `{"type":"CLEAR_OVERLAY"}`)))
	st = p.State()
	assert.Empty(t, st.Elements)
	assert.Empty(t, st.Selected)
}

func TestPreview_AnswersSelectionRequest(t *testing.T) {
	out := &recorder{}
	p := messaging.NewPreview(out, messaging.PreviewOptions{Policy: policy})
	ctx := context.Background()
	require.NoError(t, p.Handle(ctx, frame(t, builderOrigin, messaging.Message{Type: messaging.TypeUpdateElements, Elements: seedStore(t).Elements()})))

	require.NoError(t, p.Handle(ctx, rawFrame(builderOrigin, `{"type":"REQUEST_ELEMENT_SELECTION","elementId":"txt"}`)))
	m := out.last(t)
	assert.Equal(t, messaging.TypeElementSelected, m.Type)
	assert.Equal(t, "txt", m.ElementID)
	assert.Equal(t, messaging.SourcePreview, m.SelectionSource())
}

func TestPreview_RejectsUntrustedOrigin(t *testing.T) {
	p := messaging.NewPreview(&recorder{}, messaging.PreviewOptions{Policy: policy})
	err := p.Handle(context.Background(), rawFrame("https://evil.example", `{"type":"DELETE_ELEMENTS","elementIds":["x"]}`))
	assert.ErrorIs(t, err, messaging.ErrUntrustedOrigin)
}

// ── End to end ─────────────────────────────────────────────

func TestPipe_RoundTripKeepsTreeIdentical(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := seedStore(t)
	builderPort, previewPort := messaging.Pipe(builderOrigin, previewOrigin)
	b := messaging.NewBuilder(store, builderPort, messaging.BuilderOptions{Policy: policy})
	defer b.Close()
	p := messaging.NewPreview(previewPort, messaging.PreviewOptions{Policy: policy})

	go func() { _ = b.Serve(ctx, builderPort) }()
	go func() { _ = p.Serve(ctx, previewPort) }()

	require.NoError(t, p.Ready(ctx))
	require.NoError(t, store.AddElement(domain.Element{ID: "new", Tag: domain.TagButton, ParentID: "body", Props: domain.Props{"children": "New"}}))

	require.Eventually(t, func() bool { return len(p.State().Elements) == 4 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.LastAck() != nil && b.LastAck().ElementCount == 4 }, time.Second, 5*time.Millisecond)
	assert.True(t, b.Ready())

	want := store.Elements()
	got := p.State().Elements
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].ParentID, got[i].ParentID)
		assert.Equal(t, want[i].OrderNum, got[i].OrderNum)
		assert.Equal(t, want[i].Props, got[i].Props)
	}

	require.NoError(t, p.Click(ctx, "new", &messaging.Rect{Width: 10, Height: 10}))
	require.Eventually(t, func() bool { return b.Selected() == "new" }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.State().Selected == "new" }, time.Second, 5*time.Millisecond)
}

func TestSession_FansOutToPreviewsAndRelaysControl(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := seedStore(t)
	s := messaging.NewSession(store, policy, &messaging.PageInfo{PageID: "p1"})
	defer s.Close()

	var previews []*messaging.Preview
	for i := 0; i < 2; i++ {
		server, client := messaging.Pipe(builderOrigin, previewOrigin)
		p := messaging.NewPreview(client, messaging.PreviewOptions{Policy: policy})
		previews = append(previews, p)
		go func() { _ = s.JoinPreview(ctx, server) }()
		go func() { _ = p.Serve(ctx, client) }()
	}
	editorServer, editorClient := messaging.Pipe(builderOrigin, builderOrigin)
	go func() { _ = s.JoinEditor(ctx, editorServer) }()

	require.Eventually(t, func() bool { return s.Previews.Len() == 2 && s.Editors.Len() == 1 }, time.Second, 5*time.Millisecond)
	for _, p := range previews {
		p := p
		require.Eventually(t, func() bool { return len(p.State().Elements) == 3 }, time.Second, 5*time.Millisecond)
	}

	_, err := store.RemoveElement("txt")
	require.NoError(t, err)
	for _, p := range previews {
		p := p
		require.Eventually(t, func() bool { return len(p.State().Elements) == 2 }, time.Second, 5*time.Millisecond)
	}

	require.NoError(t, previews[0].Post(ctx, "SHOW_TOAST", map[string]any{"message": "saved"}))
	var toast messaging.Message
	require.Eventually(t, func() bool {
		rctx, rcancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer rcancel()
		env, err := editorClient.Receive(rctx)
		if err != nil {
			return false
		}
		m, err := messaging.Decode(env.Data)
		if err != nil || m.Type != messaging.TypeShowToast {
			return false
		}
		toast = m
		return true
	}, time.Second, time.Millisecond)
	assert.Equal(t, "saved", toast.ControlPayload()["message"])
}

func TestWebsocket_PreviewSessionOverHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := seedStore(t)
	s := messaging.NewSession(store, policy, nil)
	defer s.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		port, err := messaging.Upgrade(w, r, policy, messaging.WSOptions{InboundRate: 100})
		if err != nil {
			return
		}
		_ = s.JoinPreview(r.Context(), port)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/preview/p1"

	_, err := messaging.Dial(ctx, wsURL, "https://evil.example", messaging.WSOptions{})
	require.Error(t, err)

	client, err := messaging.Dial(ctx, wsURL, builderOrigin, messaging.WSOptions{})
	require.NoError(t, err)
	defer client.Close()

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	env, err := client.Receive(rctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, env.Origin)

	var m messaging.Message
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, messaging.TypeUpdateElements, m.Type)
	assert.Len(t, m.Elements, 3)

	data, err := messaging.Encode(messaging.Message{Type: messaging.TypeElementPropsUpdate, ElementID: "btn", Props: domain.Props{"children": "ws"}})
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, data))
	require.Eventually(t, func() bool {
		el, _ := store.Element("btn")
		return el.Props.String("children") == "ws"
	}, 2*time.Second, 10*time.Millisecond)
}
