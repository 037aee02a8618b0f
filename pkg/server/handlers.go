package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/versionless"
)

// ============================================================================
// Anchoring
// ============================================================================

func (s *Server) createAnchor(w http.ResponseWriter, r *http.Request) {
	if s.backends.Anchors == nil {
		notServed(w, "anchoring")
		return
	}
	domain, anchorID, value := r.PathValue("domain"), r.PathValue("anchorId"), r.PathValue("value")

	if err := s.backends.Anchors.CreateAnchor(r.Context(), domain, anchorID, value); err != nil {
		writeError(w, err)
		return
	}
	logger.Debug("Created anchor %s on domain %s", anchorID, domain)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) appendAnchor(w http.ResponseWriter, r *http.Request) {
	if s.backends.Anchors == nil {
		notServed(w, "anchoring")
		return
	}
	domain, anchorID, value := r.PathValue("domain"), r.PathValue("anchorId"), r.PathValue("value")

	if err := s.backends.Anchors.AppendAnchor(r.Context(), domain, anchorID, value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getAllVersions(w http.ResponseWriter, r *http.Request) {
	if s.backends.Anchors == nil {
		notServed(w, "anchoring")
		return
	}
	versions, err := s.backends.Anchors.GetAllVersions(r.Context(), r.PathValue("domain"), r.PathValue("anchorId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	writeJSON(w, versions)
}

func (s *Server) getLastVersion(w http.ResponseWriter, r *http.Request) {
	if s.backends.Anchors == nil {
		notServed(w, "anchoring")
		return
	}
	last, err := s.backends.Anchors.GetLastVersion(r.Context(), r.PathValue("domain"), r.PathValue("anchorId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if last == "" {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, last)
}

// ============================================================================
// Bricking
// ============================================================================

func (s *Server) putBrick(w http.ResponseWriter, r *http.Request) {
	if s.backends.Bricks == nil {
		notServed(w, "bricking")
		return
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	hash, err := s.backends.Bricks.PutBrick(r.Context(), r.PathValue("domain"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, hash)
}

func (s *Server) getBrick(w http.ResponseWriter, r *http.Request) {
	if s.backends.Bricks == nil {
		notServed(w, "bricking")
		return
	}
	hash := r.PathValue("hash")
	if !bricks.ValidHash(hash) {
		writeError(w, fault.Newf(fault.DataInput, "invalid brick hash %q", hash))
		return
	}

	data, err := s.backends.Bricks.GetBrick(r.Context(), r.PathValue("domain"), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// ============================================================================
// Versionless
// ============================================================================

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request) {
	if s.backends.Blobs == nil {
		notServed(w, "versionless storage")
		return
	}
	wire, ok := readBody(w, r)
	if !ok {
		return
	}
	data, err := versionless.Decode(wire)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.backends.Blobs.PutBlob(r.Context(), s.config.VersionlessDomain, r.PathValue("path"), data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	if s.backends.Blobs == nil {
		notServed(w, "versionless storage")
		return
	}
	data, err := s.backends.Blobs.GetBlob(r.Context(), s.config.VersionlessDomain, r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write(versionless.Encode(data))
}

// ============================================================================
// Helpers
// ============================================================================

// readBody reads the request body, answering 413 when it exceeds the limit.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		writeError(w, fault.Classify(fault.Network, err, "failed to read request body"))
		return nil, false
	}
	return data, true
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, fault.Classify(fault.Unknown, err, "failed to encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
