package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/roach88/wallet/internal/lifecycle"
	"github.com/roach88/wallet/internal/resource"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

type createRequest struct {
	Fields    map[string]any `json:"fields"`
	IsDefault bool           `json:"isDefault"`
}

type updateRequest struct {
	Fields    map[string]any `json:"fields"`
	IsDefault *bool          `json:"isDefault"`
}

type listResponse struct {
	Records []resource.Record `json:"records"`
}

func pathKind(r *http.Request) (resource.Kind, error) {
	return resource.ParseKind(r.PathValue("kind"))
}

// decodeBody reads a JSON body. Numbers stay json.Number so the validator can
// reject non-integral values.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return resource.NewValidationError("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.svc.List(r.Context(), r.PathValue("owner"), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []resource.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Records: records})
}

func (s *Server) handleGetDefault(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.svc.GetDefault(r.Context(), r.PathValue("owner"), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.svc.Create(r.Context(), r.PathValue("owner"), lifecycle.CreateInput{
		Kind:      kind,
		Fields:    req.Fields,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/owners/%s/records/%s", rec.OwnerID, rec.ID))
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), r.PathValue("owner"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.svc.Update(r.Context(), r.PathValue("owner"), r.PathValue("id"), lifecycle.UpdateInput{
		Fields:    req.Fields,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.SetDefault(r.Context(), r.PathValue("owner"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("owner"), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.Repair(r.Context(), r.PathValue("owner"), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
