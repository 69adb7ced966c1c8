package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"castline/internal/domain"
	"castline/internal/engine"
	"castline/internal/engine/auth"
	"castline/internal/repo"
	"castline/internal/report"
	"castline/internal/status"
	"castline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Reports receives exported audits and cascade results. Export requests
	// fail with 400 when it is nil.
	Reports report.Sink
	// Metrics is served at /metrics when set.
	Metrics prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"has_active_bookings"`
	Message string         `json:"message" example:"role r1 has 2 active booking(s)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"count\":2}"`
}

type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// deps is what every route group needs besides the huma API.
type deps struct {
	engine  engine.Engine
	rbac    auth.Service
	reports report.Sink
	auth    AuthConfig
}

// New returns an HTTP handler exposing the castline admin API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(requestLogger(cfg.Auth.logger()))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}
	hcfg := huma.DefaultConfig("Castline Admin API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	d := deps{
		engine:  cfg.Engine,
		rbac:    auth.Service{Config: cfg.Engine.Config},
		reports: cfg.Reports,
		auth:    cfg.Auth,
	}
	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, d)
	registerRoles(group, d)
	registerSubmissions(group, d)
	registerBookings(group, d)
	registerIntegrity(group, d)
	registerMigrations(group, d)
	registerEvents(group, d)
	registerMe(group, d)
	if cfg.Auth.DevTokens {
		registerDevAuth(group, d)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(started))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, auth.ErrActorRequired) || errors.Is(err, engine.ErrActorRequired) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	var hab *engine.HasActiveBookingsError
	if errors.As(err, &hab) {
		return newAPIError(http.StatusConflict, "has_active_bookings", err.Error(), map[string]any{"role_id": hab.RoleID, "count": hab.Count})
	}
	var ite *status.IllegalTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", err.Error(), map[string]any{"kind": ite.Kind, "from": ite.From, "to": ite.To})
	}
	var ci *engine.CascadeIncompleteError
	if errors.As(err, &ci) {
		return newAPIError(http.StatusInternalServerError, "write_incomplete", err.Error(), map[string]any{
			"entity_class": string(ci.Class),
			"succeeded":    ci.Succeeded,
			"failed":       ci.Failed,
		})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, report.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyArchived):
		return newAPIError(http.StatusConflict, "already_archived", err.Error(), nil)
	case errors.Is(err, engine.ErrCannotRestoreProjectArchived):
		return newAPIError(http.StatusConflict, "archived_with_project", err.Error(), nil)
	case errors.Is(err, engine.ErrParentArchived):
		return newAPIError(http.StatusConflict, "parent_archived", err.Error(), nil)
	case errors.Is(err, store.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrMalformed):
		return newAPIError(http.StatusUnprocessableEntity, "malformed_document", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/token"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Castline Admin API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, d deps) {
	e := d.engine
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, d.rbac, "project.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.Project{}
		for _, p := range items {
			if input.Status == "" || string(p.Status) == input.Status {
				out = append(out, p)
			}
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with its roles",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectDetailResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, d.rbac, "project.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		roles, err := e.Repo.ListRolesByProject(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProjectDetailResponse{Project: p, Roles: []RoleResponse{}}
		for _, r := range roles {
			count, _ := e.GetActiveBookingCount(ctx, r.ID)
			resp.Roles = append(resp.Roles, RoleResponse{Role: r, ActiveBookings: count})
		}
		return &struct {
			Body ProjectDetailResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/advance",
		Summary:     "Advance project status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      AdvanceProjectRequest `json:"body"`
	}) (*struct {
		Body engine.ProjectAdvance `json:"body"`
	}, error) {
		to := domain.ProjectStatus(input.Body.Status)
		perm := "project.advance"
		if to == domain.ProjectArchived {
			perm = "project.archive"
		}
		principal, err := requirePermission(ctx, d.rbac, perm)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.AdvanceProject(ctx, input.ProjectID, to, principal.ActorID)
		if err != nil && !(errors.Is(err, engine.ErrCascadeIncomplete) && res.Cascade != nil) {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectAdvance `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive project and cascade to roles, bookings and submissions",
		Description: "Partial failures return 200 with incomplete=true and per-class counts. Re-running completes the cascade.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Export    bool   `query:"export"`
	}) (*struct {
		Body CascadeResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "project.archive")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.CascadeArchiveProject(ctx, input.ProjectID, principal.ActorID)
		if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
			return nil, handleError(err)
		}
		resp := CascadeResponse{CascadeResult: res}
		if input.Export {
			if resp.Location, err = d.export(ctx, "cascade-"+input.ProjectID, res); err != nil {
				return nil, err
			}
		}
		return &struct {
			Body CascadeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRoles(api huma.API, d deps) {
	e := d.engine
	huma.Register(api, huma.Operation{
		OperationID: "get-role",
		Method:      http.MethodGet,
		Path:        "/roles/{role_id}",
		Summary:     "Get role",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoleID string `path:"role_id"`
	}) (*struct {
		Body RoleResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, d.rbac, "role.read"); err != nil {
			return nil, handleError(err)
		}
		r, err := e.Repo.GetRole(ctx, input.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		count, _ := e.GetActiveBookingCount(ctx, r.ID)
		return &struct {
			Body RoleResponse `json:"body"`
		}{Body: RoleResponse{Role: r, ActiveBookings: count}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "role-active-bookings",
		Method:      http.MethodGet,
		Path:        "/roles/{role_id}/active-bookings",
		Summary:     "Count active bookings on a role",
		Description: "Read failures report 0 when roles.booking_count_fail_open is set.",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		RoleID string `path:"role_id"`
	}) (*struct {
		Body ActiveBookingsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, d.rbac, "role.read"); err != nil {
			return nil, handleError(err)
		}
		count, err := e.GetActiveBookingCount(ctx, input.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveBookingsResponse `json:"body"`
		}{Body: ActiveBookingsResponse{RoleID: input.RoleID, Count: count}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-role",
		Method:      http.MethodPost,
		Path:        "/roles/{role_id}/archive",
		Summary:     "Archive a single role",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		RoleID string              `path:"role_id"`
		Body   *ArchiveRoleRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body engine.RoleArchiveResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "role.archive")
		if err != nil {
			return nil, handleError(err)
		}
		reason := ""
		if input.Body != nil {
			reason = strings.TrimSpace(input.Body.Reason)
		}
		res, err := e.ArchiveRole(ctx, input.RoleID, principal.ActorID, reason)
		if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RoleArchiveResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-role",
		Method:      http.MethodPost,
		Path:        "/roles/{role_id}/restore",
		Summary:     "Restore an individually archived role",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		RoleID string `path:"role_id"`
	}) (*struct {
		Body engine.RoleArchiveResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "role.restore")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.RestoreRole(ctx, input.RoleID, principal.ActorID)
		if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RoleArchiveResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerSubmissions(api huma.API, d deps) {
	e := d.engine
	huma.Register(api, huma.Operation{
		OperationID: "set-submission-status",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/status",
		Summary:     "Change submission status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		SubmissionID string                  `path:"submission_id"`
		Body         SubmissionStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		to, err := domain.ParseSubmissionStatus(input.Body.Status)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		principal, err := requirePermission(ctx, d.rbac, "submission.update")
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.SetSubmissionStatus(ctx, input.SubmissionID, to, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "book-submission",
		Method:        http.MethodPost,
		Path:          "/submissions/{submission_id}/book",
		Summary:       "Book a submission",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body domain.Booking `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "submission.update")
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.BookSubmission(ctx, input.SubmissionID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Booking `json:"body"`
		}{Body: b}, nil
	})
}

func registerBookings(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "set-booking-status",
		Method:      http.MethodPost,
		Path:        "/bookings/{booking_id}/status",
		Summary:     "Change booking status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		BookingID string               `path:"booking_id"`
		Body      BookingStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Booking `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "booking.update")
		if err != nil {
			return nil, handleError(err)
		}
		b, err := d.engine.SetBookingStatus(ctx, input.BookingID, domain.BookingStatus(input.Body.Status), principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Booking `json:"body"`
		}{Body: b}, nil
	})
}

func registerIntegrity(api huma.API, d deps) {
	e := d.engine
	huma.Register(api, huma.Operation{
		OperationID: "integrity-audit",
		Method:      http.MethodGet,
		Path:        "/integrity/submissions",
		Summary:     "Audit submission to role references",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Export bool `query:"export"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, d.rbac, "integrity.audit"); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.AuditSubmissionIntegrity(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AuditResponse{Report: rep}
		if input.Export {
			if resp.Location, err = d.export(ctx, "integrity", rep); err != nil {
				return nil, err
			}
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "integrity-repair",
		Method:      http.MethodPost,
		Path:        "/integrity/submissions/repair",
		Summary:     "Apply proposed submission fixes",
		Description: "Fixes come from an exported report or the request body. Stale fixes are skipped and listed.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RepairRequest `json:"body"`
	}) (*struct {
		Body engine.RepairResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "integrity.repair")
		if err != nil {
			return nil, handleError(err)
		}
		fixes := input.Body.Fixes
		if input.Body.Report != "" {
			if d.reports == nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "report sink not configured", nil)
			}
			rep, err := report.LoadIntegrity(ctx, d.reports, input.Body.Report)
			if err != nil {
				return nil, handleError(err)
			}
			fixes = rep.Fixes
		}
		res, err := e.RepairSubmissions(ctx, fixes, principal.ActorID)
		if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RepairResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerMigrations(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "migrate-legacy-statuses",
		Method:      http.MethodPost,
		Path:        "/migrations/legacy-submission-statuses",
		Summary:     "Rewrite retired submission statuses",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DryRun bool `query:"dry_run"`
	}) (*struct {
		Body engine.MigrationSummary `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, d.rbac, "migration.run")
		if err != nil {
			return nil, handleError(err)
		}
		sum, err := d.engine.MigrateLegacySubmissionStatuses(ctx, principal.ActorID, input.DryRun)
		if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.MigrationSummary `json:"body"`
		}{Body: sum}, nil
	})
}

func registerEvents(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, d.rbac, "events.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := d.engine.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerMe(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(d.rbac.Permissions(principal.Roles, principal.Permissions)),
		}}, nil
	})
}

func registerDevAuth(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev/token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(d.auth.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token}}, nil
	})
}

// export writes v to the report sink and returns its location.
func (d deps) export(ctx context.Context, kind string, v any) (string, huma.StatusError) {
	if d.reports == nil {
		return "", newAPIError(http.StatusBadRequest, "bad_request", "report sink not configured", nil)
	}
	loc, err := report.Export(ctx, d.reports, kind, time.Now(), v)
	if err != nil {
		return "", handleError(err)
	}
	return loc, nil
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 500:
		return 500
	}
	return in
}
