package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stephnangue/wopihost/content"
	"github.com/stephnangue/wopihost/helper"
	"github.com/stephnangue/wopihost/logger"
	"github.com/stephnangue/wopihost/token"
	"github.com/stephnangue/wopihost/users"
)

// maxDocumentSize bounds how much the host will accept on a save. A
// body past the cap fails the request; it is never truncated into the
// store.
var maxDocumentSize int64 = 256 << 20

type wopiHandler struct {
	tokens            *token.Manager
	content           content.Store
	discovery         DiscoveryResolver
	users             users.Resolver
	enabled           bool
	urlEncodeTokens   bool
	postMessageOrigin string
	logger            logger.Logger
}

// checkFileInfoResponse is the subset of the CheckFileInfo contract the
// editor consumes. Size is a string on the wire.
type checkFileInfoResponse struct {
	BaseFileName      string `json:"BaseFileName"`
	Size              string `json:"Size"`
	UserCanWrite      bool   `json:"UserCanWrite"`
	UserID            string `json:"UserId"`
	UserFriendlyName  string `json:"UserFriendlyName"`
	LastModifiedTime  string `json:"LastModifiedTime"`
	PostMessageOrigin string `json:"PostMessageOrigin"`
}

type tokenResponse struct {
	AccessToken string `json:"value"`
	URLSrc      string `json:"urlSrc"`
	Timeout     int64  `json:"timeout"`
}

type putFileResponse struct {
	LastModifiedTime string `json:"LastModifiedTime"`
}

func (h *wopiHandler) fileParam(r *http.Request) string {
	return decodeParam(chi.URLParam(r, "id"), h.urlEncodeTokens)
}

func (h *wopiHandler) tokenParam(r *http.Request) string {
	return decodeParam(r.URL.Query().Get("access_token"), h.urlEncodeTokens)
}

func (h *wopiHandler) principal(r *http.Request) string {
	if user := r.Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return token.GuestUser
}

// origin returns the PostMessage origin reported to the editor, either
// the configured override or the request's own origin.
func (h *wopiHandler) origin(r *http.Request) string {
	if h.postMessageOrigin != "" {
		return h.postMessageOrigin
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// authorize runs the two checks every editor-facing endpoint shares:
// the token must be live, and the rights it carries must still hold.
func (h *wopiHandler) authorize(r *http.Request, tok string) bool {
	if !h.tokens.IsValid(tok) {
		return false
	}
	return h.tokens.HasAccess(r.Context(), tok)
}

// handleCheckFileInfo answers the editor's first call after load.
func (h *wopiHandler) handleCheckFileInfo(w http.ResponseWriter, r *http.Request) {
	fileID := h.fileParam(r)
	tok := h.tokenParam(r)

	if !h.authorize(r, tok) {
		respondError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	info, err := h.content.Info(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user := h.tokens.ResolvePrincipal(tok)
	respondOk(w, &checkFileInfoResponse{
		BaseFileName:      info.Name,
		Size:              strconv.FormatInt(info.Size, 10),
		UserCanWrite:      h.tokens.HasWriteAccess(tok),
		UserID:            user,
		UserFriendlyName:  h.users.FriendlyName(user),
		LastModifiedTime:  helper.FormatWopiTime(info.ModTime),
		PostMessageOrigin: h.origin(r),
	})
}

// handleGetFile streams the document's bytes to the editor.
func (h *wopiHandler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := h.fileParam(r)
	tok := h.tokenParam(r)

	if !h.authorize(r, tok) {
		respondError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	data, err := h.content.Read(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", content.MediaTypeFor(fileID))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handlePutFile replaces the document with the editor's save payload.
//
// A save arriving on an invalid token is acknowledged with an empty 200
// and no write. The editor extends the token before saving; a save that
// still races past expiry must not make it lose the user's changes by
// surfacing an error it would retry forever.
func (h *wopiHandler) handlePutFile(w http.ResponseWriter, r *http.Request) {
	fileID := h.fileParam(r)
	tok := h.tokenParam(r)

	if !h.tokens.IsValid(tok) {
		h.logger.Warn("save with invalid token dropped",
			logger.String("file_id", fileID),
		)
		respondOk(w, struct{}{})
		return
	}
	if !h.tokens.HasAccess(r.Context(), tok) || !h.tokens.HasWriteAccess(tok) {
		respondError(w, http.StatusUnauthorized, "access token does not grant write")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "document exceeds the maximum save size")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	author := h.tokens.ResolvePrincipal(tok)
	info, err := h.content.Write(r.Context(), fileID, data, author)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondOk(w, &putFileResponse{
		LastModifiedTime: helper.FormatWopiTime(info.ModTime),
	})
}

// handleGetToken issues (or reuses) a token for the authenticated
// principal and returns the editor URL from discovery alongside it.
func (h *wopiHandler) handleGetToken(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		respondError(w, http.StatusForbidden, "editing is not enabled on this host")
		return
	}

	fileID := h.fileParam(r)
	user := h.principal(r)
	mode := token.ParseMode(r.URL.Query().Get("mode"))

	if !token.ValidPrincipal(user) {
		respondError(w, http.StatusBadRequest, "principal contains reserved characters")
		return
	}

	ft, err := h.tokens.IssueOrReuse(r.Context(), user, fileID, mode)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ft.HasView && !ft.HasEdit {
		// The issuance above counted one usage; give it back so a denied
		// request leaves no live record behind.
		h.tokens.Release(r.Context(), user, fileID, mode)
		respondError(w, http.StatusUnauthorized, "access denied")
		return
	}

	urlSrc, err := h.discovery.URLSrc(r.Context(), fileID)
	if err != nil {
		// Issuance counted one usage; the editor never loads without a
		// urlsrc, so give it back.
		h.tokens.Release(r.Context(), user, fileID, mode)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondOk(w, &tokenResponse{
		AccessToken: ft.Value,
		URLSrc:      urlSrc,
		Timeout:     ft.Timeout,
	})
}

// handleReleaseToken drops one usage of the principal's token.
func (h *wopiHandler) handleReleaseToken(w http.ResponseWriter, r *http.Request) {
	fileID := h.fileParam(r)
	user := h.principal(r)
	mode := token.ParseMode(r.URL.Query().Get("mode"))

	if !token.ValidPrincipal(user) {
		respondError(w, http.StatusBadRequest, "principal contains reserved characters")
		return
	}

	usage := h.tokens.Release(r.Context(), user, fileID, mode)
	respondOk(w, map[string]int{"usage": usage})
}

// handleExtendToken renews the principal's token lifetime ahead of a
// save. The wire value never changes, only the clock resets.
func (h *wopiHandler) handleExtendToken(w http.ResponseWriter, r *http.Request) {
	fileID := h.fileParam(r)
	user := h.principal(r)
	mode := token.ParseMode(r.URL.Query().Get("mode"))

	if !token.ValidPrincipal(user) {
		respondError(w, http.StatusBadRequest, "principal contains reserved characters")
		return
	}

	switch h.tokens.Extend(r.Context(), user, fileID, mode) {
	case token.Extended:
		respondOk(w, map[string]string{"status": "extended"})
	case token.ExtendNotNeeded:
		w.WriteHeader(http.StatusNotModified)
	case token.ExtendNoToken:
		respondError(w, http.StatusUnauthorized, "no token to extend")
	default:
		respondError(w, http.StatusUnauthorized, "access denied")
	}
}
