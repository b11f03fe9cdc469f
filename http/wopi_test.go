package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stephnangue/wopihost/content"
	"github.com/stephnangue/wopihost/helper"
	"github.com/stephnangue/wopihost/logger"
	"github.com/stephnangue/wopihost/rights"
	"github.com/stephnangue/wopihost/token"
	"github.com/stephnangue/wopihost/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscovery struct {
	url string
	err error
}

func (f *fakeDiscovery) URLSrc(ctx context.Context, fileID string) (string, error) {
	return f.url, f.err
}

type harness struct {
	handler http.Handler
	rights  *rights.Static
	store   *token.Store
	content content.Store
	props   *HandlerProperties
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	res := rights.NewStatic()
	store := token.NewStore()
	testLogger, _ := logger.NewGatedLogger(logger.DefaultConfig(), logger.GatedWriterConfig{
		Underlying:   io.Discard,
		InitialState: logger.GateOpen,
	})

	manager := token.NewManager(&token.ManagerConfig{
		Rights:  res,
		Timeout: func() time.Duration { return time.Hour },
		Store:   store,
		Logger:  testLogger,
	})

	docs := content.NewInmem()
	_, err := docs.Write(context.Background(), "doc.odt", []byte("hello world"), "system")
	require.NoError(t, err)

	props := &HandlerProperties{
		Tokens:    manager,
		Content:   docs,
		Discovery: &fakeDiscovery{url: "http://collabora:9980/browser/abc/cool.html?"},
		Users:     users.NewStatic(map[string]string{"alice": "Alice Doe"}),
		Enabled:   true,
		Logger:    testLogger,
	}

	return &harness{
		handler: Handler(props),
		rights:  res,
		store:   store,
		content: docs,
		props:   props,
	}
}

// rebuild re-creates the handler after a property change.
func (h *harness) rebuild() {
	h.handler = Handler(h.props)
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

// issueToken runs the frontend's token acquisition and returns the wire value.
func (h *harness) issueToken(t *testing.T, user, fileID, mode string) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/wopi/files/"+fileID+"/token?mode="+mode, nil)
	r.Header.Set("X-Remote-User", user)
	w := h.do(r)
	require.Equal(t, http.StatusOK, w.Code, "token issuance failed: %s", w.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestGetToken(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")

	r := httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/token?mode=edit", nil)
	r.Header.Set("X-Remote-User", "alice")
	w := h.do(r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.AccessToken, token.Prefix))
	assert.Equal(t, "http://collabora:9980/browser/abc/cool.html?", resp.URLSrc)
	assert.Equal(t, int64(3600), resp.Timeout)
}

func TestGetToken_Disabled(t *testing.T) {
	h := newHarness(t)
	h.props.Enabled = false
	h.rebuild()
	h.rights.GrantView("alice", "doc.odt")

	r := httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/token", nil)
	r.Header.Set("X-Remote-User", "alice")
	w := h.do(r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetToken_NoRights(t *testing.T) {
	h := newHarness(t)

	r := httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/token", nil)
	r.Header.Set("X-Remote-User", "alice")
	w := h.do(r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, h.store.Len(), "a denied request must leave no record behind")
}

func TestGetToken_GuestPrincipal(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView(token.GuestUser, "doc.odt")

	// No X-Remote-User header.
	r := httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/token?mode=view", nil)
	w := h.do(r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, token.GuestUser, token.Parse(resp.AccessToken).User)
}

func TestGetToken_UnderscorePrincipalRejected(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("jo_smith", "doc.odt")
	h.rights.GrantEdit("jo_smith", "doc.odt")

	// The wire format reserves the underscore; issuing for such a
	// principal would round-trip as a different identity.
	r := httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/token", nil)
	r.Header.Set("X-Remote-User", "jo_smith")
	w := h.do(r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, h.store.Len())
}

func TestGetToken_DiscoveryFailure(t *testing.T) {
	h := newHarness(t)
	h.props.Discovery = &fakeDiscovery{err: errors.New("discovery unreachable")}
	h.rebuild()
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")

	r := httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/token", nil)
	r.Header.Set("X-Remote-User", "alice")
	w := h.do(r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, h.store.Len(), "the issued record must be released on failure")
}

func TestCheckFileInfo(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "edit")

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt?access_token="+tok, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkFileInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "doc.odt", resp.BaseFileName)
	assert.Equal(t, "11", resp.Size)
	assert.True(t, resp.UserCanWrite)
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, "Alice Doe", resp.UserFriendlyName)
	assert.NotEmpty(t, resp.PostMessageOrigin)

	_, err := helper.ParseWopiTime(resp.LastModifiedTime)
	assert.NoError(t, err, "LastModifiedTime must use the editor's expected layout")
}

func TestCheckFileInfo_ViewOnly(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "view")

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt?access_token="+tok, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkFileInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.UserCanWrite)
}

func TestCheckFileInfo_InvalidToken(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt?access_token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckFileInfo_PostMessageOriginOverride(t *testing.T) {
	h := newHarness(t)
	h.props.PostMessageOrigin = "https://portal.example.com"
	h.rebuild()
	h.rights.GrantView("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "view")

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt?access_token="+tok, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkFileInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://portal.example.com", resp.PostMessageOrigin)
}

func TestGetFile(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "view")

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt/contents?access_token="+tok, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.Equal(t, "application/vnd.oasis.opendocument.text", w.Header().Get("Content-Type"))
}

func TestGetFile_Missing(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "nope.odt")
	tok := h.issueToken(t, "alice", "nope.odt", "view")

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/nope.odt/contents?access_token="+tok, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutFile(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "edit")

	body := bytes.NewBufferString("updated contents")
	w := h.do(httptest.NewRequest(http.MethodPost, "/wopi/files/doc.odt/contents?access_token="+tok, body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp putFileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.LastModifiedTime)

	data, err := h.content.Read(context.Background(), "doc.odt")
	require.NoError(t, err)
	assert.Equal(t, "updated contents", string(data))
}

func TestPutFile_InvalidTokenIsNoOp(t *testing.T) {
	h := newHarness(t)

	body := bytes.NewBufferString("should not land")
	w := h.do(httptest.NewRequest(http.MethodPost, "/wopi/files/doc.odt/contents?access_token=wopi_bogus_doc_1_2", body))

	// The save is acknowledged but dropped.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())

	data, err := h.content.Read(context.Background(), "doc.odt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPutFile_ExpiredTokenIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "edit")

	rec := h.store.Get(tok)
	require.NotNil(t, rec)
	rec.IssuedAt -= (2 * time.Hour).Milliseconds()

	body := bytes.NewBufferString("late save")
	w := h.do(httptest.NewRequest(http.MethodPost, "/wopi/files/doc.odt/contents?access_token="+tok, body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())

	data, err := h.content.Read(context.Background(), "doc.odt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPutFile_OversizedBodyRejected(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "edit")

	restore := maxDocumentSize
	maxDocumentSize = 16
	defer func() { maxDocumentSize = restore }()

	body := bytes.NewBufferString("this body is past the save cap")
	w := h.do(httptest.NewRequest(http.MethodPost, "/wopi/files/doc.odt/contents?access_token="+tok, body))

	// Refused outright, never truncated into the store.
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	data, err := h.content.Read(context.Background(), "doc.odt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPutFile_ViewTokenRejected(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "view")

	body := bytes.NewBufferString("sneaky write")
	w := h.do(httptest.NewRequest(http.MethodPost, "/wopi/files/doc.odt/contents?access_token="+tok, body))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExtendToken(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "edit")

	extend := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPut, "/wopi/files/doc.odt/token/extend?mode=edit", nil)
		r.Header.Set("X-Remote-User", "alice")
		return h.do(r)
	}

	// Still live: nothing to do.
	assert.Equal(t, http.StatusNotModified, extend().Code)

	rec := h.store.Get(tok)
	require.NotNil(t, rec)
	rec.IssuedAt -= (2 * time.Hour).Milliseconds()

	assert.Equal(t, http.StatusOK, extend().Code)

	// The editor's held value works again after the extension.
	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/doc.odt?access_token="+tok, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtendToken_NoToken(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")

	r := httptest.NewRequest(http.MethodPut, "/wopi/files/doc.odt/token/extend", nil)
	r.Header.Set("X-Remote-User", "alice")
	assert.Equal(t, http.StatusUnauthorized, h.do(r).Code)
}

func TestReleaseToken(t *testing.T) {
	h := newHarness(t)
	h.rights.GrantView("alice", "doc.odt")
	h.rights.GrantEdit("alice", "doc.odt")

	h.issueToken(t, "alice", "doc.odt", "edit")
	h.issueToken(t, "alice", "doc.odt", "edit")
	require.Equal(t, 1, h.store.Len())

	release := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/wopi/files/doc.odt/token?mode=edit", nil)
		r.Header.Set("X-Remote-User", "alice")
		return h.do(r)
	}

	w := release()
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["usage"])
	assert.Equal(t, 1, h.store.Len())

	w = release()
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp["usage"])
	assert.Equal(t, 0, h.store.Len())
}

func TestURLEncodedParams(t *testing.T) {
	h := newHarness(t)
	h.props.URLEncodeTokens = true
	h.rebuild()
	h.rights.GrantView("alice", "doc.odt")
	tok := h.issueToken(t, "alice", "doc.odt", "view")

	encTok := base64.RawURLEncoding.EncodeToString([]byte(tok))
	encID := base64.RawURLEncoding.EncodeToString([]byte("doc.odt"))

	w := h.do(httptest.NewRequest(http.MethodGet, "/wopi/files/"+encID+"?access_token="+encTok, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkFileInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "doc.odt", resp.BaseFileName)
}
