package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/service"
)

// AdminController serves operator endpoints: audit queries and personal data requests.
type AdminController struct {
	audit         *service.AuditService
	registrations *service.RegistrationService
}

func NewAdminController(auditSvc *service.AuditService, registrations *service.RegistrationService) *AdminController {
	return &AdminController{audit: auditSvc, registrations: registrations}
}

// QueryAudit returns one page of audit entries.
func (c *AdminController) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := c.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditPageResponse{
		Entries:    fromAuditEntries(page.Entries),
		NextCursor: page.NextCursor,
	})
}

func (c *AdminController) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	reg, err := c.registrations.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromRegistration(reg))
}

func (c *AdminController) ExportRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	export, err := c.registrations.Export(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromExport(export))
}

// EraseRegistration redacts a registration's personal data.
func (c *AdminController) EraseRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := c.registrations.Erase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ErasureResponse{
		RegistrationID:  res.RegistrationID.String(),
		RedactedEntries: res.RedactedEntries,
	})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Subject:      q.Get("subject"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, domainErrors.NewValidationError(p.name, "must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, domainErrors.NewValidationError("limit", "must be a positive integer")
		}
		filter.Limit = limit
	}

	cursor, err := audit.DecodeCursor(q.Get("cursor"))
	if err != nil {
		return filter, err
	}
	filter.After = cursor
	return filter, nil
}
