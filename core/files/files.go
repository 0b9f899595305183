/*Package files serves binary file upload, download and deletion for a fixed
set of file groups.

File names travel base64-encoded in the URL, so arbitrary display names
survive routing. The decoded name becomes part of the storage key below the
group; path traversal is rejected.
*/
package files

import (
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pantrybase/pantrybase/core/access"
	"github.com/pantrybase/pantrybase/core/kss"
	"github.com/pantrybase/pantrybase/core/logger"
)

// maxUploadSize limits a single file upload.
const maxUploadSize = 200 * 1024 * 1024

// Service serves the file routes for one driver.
type Service struct {
	driver kss.Driver
	groups map[string]bool
}

// Builder is a builder helper for the file Service
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Driver is the storage driver. This is mandatory.
	Driver kss.Driver
	// Groups are the permitted file groups. This is mandatory.
	Groups []string
}

// New realizes the file service and adds its routes to the router.
func New(bb *Builder) *Service {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Driver == nil {
		panic("Driver is missing")
	}
	if len(bb.Groups) == 0 {
		panic("Groups are missing")
	}

	s := &Service{
		driver: bb.Driver,
		groups: map[string]bool{},
	}
	for _, group := range bb.Groups {
		s.groups[group] = true
	}
	s.handleRoutes(bb.Router)
	return s
}

func (s *Service) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("file service")
	nillog.Debugln("  handle routes: /files/{group}/{fileName} GET,PUT,DELETE")

	handle := func(handler http.HandlerFunc, methods ...string) {
		router.Handle("/files/{group}/{fileName}", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			handler(w, r)
		}))).Methods(append(methods, http.MethodOptions)...)
	}

	handle(s.getFile, http.MethodGet)
	handle(s.putFile, http.MethodPut)
	handle(s.deleteFile, http.MethodDelete)
}

type errorResponse struct {
	ErrorMessage string `json:"error_message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	jsonData, _ := json.MarshalWithOption(errorResponse{ErrorMessage: message}, json.DisableHTMLEscape())
	w.Write(jsonData)
}

// key resolves the route variables into a storage key. The file name in the
// URL is base64 encoded.
func (s *Service) key(r *http.Request) (string, string, error) {
	params := mux.Vars(r)
	group := params["group"]
	if !s.groups[group] {
		return "", "", errors.New("invalid file group")
	}
	// standard encoding can contain a slash, which does not survive routing,
	// so the url-safe alphabet is accepted as well
	decoded, err := base64.StdEncoding.DecodeString(params["fileName"])
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(params["fileName"])
	}
	if err != nil {
		return "", "", errors.New("file name is not proper base64")
	}
	fileName := string(decoded)
	if fileName == "" || strings.Contains(fileName, "/") || strings.Contains(fileName, "..") {
		return "", "", errors.New("invalid file name")
	}
	return group + "/" + fileName, fileName, nil
}

func (s *Service) getFile(w http.ResponseWriter, r *http.Request) {
	key, fileName, err := s.key(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.driver.Get(r.Context(), key)
	if errors.Is(err, kss.ErrNoSuchKey) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 2401: cannot read file %s", key)
		writeError(w, http.StatusInternalServerError, "Error 2401")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Service) putFile(w http.ResponseWriter, r *http.Request) {
	if err := access.Check(r.Context(), access.PermissionMasterDataEdit); err != nil {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	key, _, err := s.key(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	if err := s.driver.Put(r.Context(), key, data); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 2402: cannot store file %s", key)
		writeError(w, http.StatusInternalServerError, "Error 2402")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := access.Check(r.Context(), access.PermissionMasterDataEdit); err != nil {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	key, _, err := s.key(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.driver.Delete(r.Context(), key); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 2403: cannot delete file %s", key)
		writeError(w, http.StatusInternalServerError, "Error 2403")
		return
	}
	w.WriteHeader(http.StatusOK)
}
