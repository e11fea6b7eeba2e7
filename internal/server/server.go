package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mandato/internal/domain"
	"mandato/internal/engine"
	"mandato/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"mandate cannot be accepted from status active"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"active\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Mandato API.
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
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Mandato API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMandates(group, cfg.Engine)
	registerMandateActions(group, cfg.Engine)
	registerPermissions(group, cfg.Engine)
	registerSignatures(group, cfg.Engine)
	registerDashboards(group, cfg.Engine)
	registerProperties(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"mandate_id": ite.MandateID,
			"status":     string(ite.From),
			"action":     string(ite.Action),
		})
	}
	var uae engine.UnauthorizedActorError
	if errors.As(err, &uae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"actor_id": uae.ActorID,
			"action":   uae.Action,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var be engine.BatchError
	if errors.As(err, &be) {
		return newAPIError(http.StatusUnprocessableEntity, "batch_failed", err.Error(), map[string]any{
			"failed":  be.Failed,
			"reasons": be.Reasons,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Mandato API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerMandates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mandates",
		Method:        http.MethodPost,
		Path:          "/mandates",
		Summary:       "Invite an agency over one or more properties",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateMandatesRequest `json:"body"`
	}) (*struct {
		Body struct {
			Items []MandateResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.AgencyID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agency_id is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.BatchCreateOptions{
			OwnerID:        principal.ActorID,
			AgencyID:       input.Body.AgencyID,
			PropertyIDs:    input.Body.PropertyIDs,
			CommissionRate: input.Body.CommissionRate,
			StartDate:      input.Body.StartDate,
			ActorID:        principal.ActorID,
		}
		if input.Body.EndDate != nil {
			opts.EndDate = *input.Body.EndDate
		}
		if input.Body.Notes != nil {
			opts.Notes = *input.Body.Notes
		}
		mandates, err := e.CreateBatch(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []MandateResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]MandateResponse, 0, len(mandates))
		for _, m := range mandates {
			out.Body.Items = append(out.Body.Items, mandateResponse(m))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mandates",
		Method:      http.MethodGet,
		Path:        "/mandates",
		Summary:     "List mandates visible to the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,active,suspended,expired,cancelled"`
		Search string `query:"search"`
		Sort   string `query:"sort" enum:"created_at,start_date,property_title,commission_rate,counterparty"`
		Desc   bool   `query:"desc"`
	}) (*struct {
		Body struct {
			Items []MandateViewResponse `json:"items"`
		} `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.QueryOptions{
			Status: domain.MandateStatus(input.Status),
			Search: input.Search,
			SortBy: engine.SortKey(input.Sort),
			Desc:   input.Desc,
		}
		views, err := e.Query(ctx, principal.ActorID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []MandateViewResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]MandateViewResponse, 0, len(views))
		for _, v := range views {
			out.Body.Items = append(out.Body.Items, viewResponse(v))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mandate",
		Method:      http.MethodGet,
		Path:        "/mandates/{mandate_id}",
		Summary:     "Get a mandate",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		MandateID string `path:"mandate_id"`
	}) (*struct {
		Body MandateResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMandate(ctx, input.MandateID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, ok := m.Role(principal.ActorID); !ok && principal.ActorID != engine.SystemActorID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "actor is not a party to this mandate", nil)
		}
		return &struct {
			Body MandateResponse `json:"body"`
		}{Body: mandateResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-mandate-document",
		Method:      http.MethodPut,
		Path:        "/mandates/{mandate_id}/document",
		Summary:     "Attach the signed mandate document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		MandateID string                `path:"mandate_id"`
		Body      AttachDocumentRequest `json:"body"`
	}) (*struct {
		Body MandateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AttachSignedDocument(ctx, input.MandateID, actorID, input.Body.URL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MandateResponse `json:"body"`
		}{Body: mandateResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-mandate-notes",
		Method:      http.MethodPatch,
		Path:        "/mandates/{mandate_id}/notes",
		Summary:     "Update mandate notes",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		MandateID string             `path:"mandate_id"`
		Body      UpdateNotesRequest `json:"body"`
	}) (*struct {
		Body MandateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateNotes(ctx, input.MandateID, actorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MandateResponse `json:"body"`
		}{Body: mandateResponse(m)}, nil
	})
}

var mandateActions = []struct {
	Action  domain.Action
	Summary string
}{
	{domain.ActionAccept, "Accept a pending mandate"},
	{domain.ActionRefuse, "Refuse a pending mandate"},
	{domain.ActionSuspend, "Suspend an active mandate"},
	{domain.ActionReactivate, "Reactivate a suspended mandate"},
	{domain.ActionTerminate, "Terminate a mandate"},
	{domain.ActionExpire, "Expire a mandate past its end date"},
}

func registerMandateActions(api huma.API, e engine.Engine) {
	for _, entry := range mandateActions {
		action := entry.Action
		huma.Register(api, huma.Operation{
			OperationID: fmt.Sprintf("%s-mandate", action),
			Method:      http.MethodPost,
			Path:        fmt.Sprintf("/mandates/{mandate_id}/%s", action),
			Summary:     entry.Summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			MandateID string `path:"mandate_id"`
		}) (*struct {
			Body MandateResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			m, err := e.Transition(ctx, input.MandateID, action, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body MandateResponse `json:"body"`
			}{Body: mandateResponse(m)}, nil
		})
	}
}

func registerPermissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-mandate-permissions",
		Method:      http.MethodPatch,
		Path:        "/mandates/{mandate_id}/permissions",
		Summary:     "Merge a partial permission update into a mandate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		MandateID string                   `path:"mandate_id"`
		Body      UpdatePermissionsRequest `json:"body"`
	}) (*struct {
		Body MandateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.Permissions) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "permissions is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdatePermissions(ctx, input.MandateID, actorID, input.Body.Permissions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MandateResponse `json:"body"`
		}{Body: mandateResponse(m)}, nil
	})
}

func registerSignatures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sign-mandate",
		Method:      http.MethodPost,
		Path:        "/mandates/{mandate_id}/signatures",
		Summary:     "Record the caller's signature on a mandate",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		MandateID string `path:"mandate_id"`
	}) (*struct {
		Body MandateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RecordSignature(ctx, input.MandateID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MandateResponse `json:"body"`
		}{Body: mandateResponse(m)}, nil
	})
}

func registerDashboards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "mandate-kanban",
		Method:      http.MethodGet,
		Path:        "/mandates/kanban",
		Summary:     "Mandates grouped by effective status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string][]MandateViewResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		columns, err := e.Kanban(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		body := make(map[string][]MandateViewResponse, len(columns))
		for status, views := range columns {
			items := make([]MandateViewResponse, 0, len(views))
			for _, v := range views {
				items = append(items, viewResponse(v))
			}
			body[string(status)] = items
		}
		return &struct {
			Body map[string][]MandateViewResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mandate-kpis",
		Method:      http.MethodGet,
		Path:        "/mandates/kpis",
		Summary:     "Mandate dashboard counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.KPIs `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kpis, err := e.KPIsFor(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.KPIs `json:"body"`
		}{Body: kpis}, nil
	})
}

func registerProperties(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-property",
		Method:        http.MethodPost,
		Path:          "/properties",
		Summary:       "Register a property",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePropertyRequest `json:"body"`
	}) (*struct {
		Body PropertyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.Rent < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "rent must not be negative", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ownerID := principal.ActorID
		if input.Body.OwnerID != nil && *input.Body.OwnerID != "" {
			ownerID = *input.Body.OwnerID
		}
		p := domain.Property{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Title:     input.Body.Title,
			City:      input.Body.City,
			Rent:      input.Body.Rent,
			CreatedAt: nowRFC3339(e),
		}
		if input.Body.ID != nil && *input.Body.ID != "" {
			p.ID = *input.Body.ID
		}
		if err := e.Repo.InsertProperty(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PropertyResponse `json:"body"`
		}{Body: propertyResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-properties",
		Method:      http.MethodGet,
		Path:        "/properties",
		Summary:     "List properties",
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
	}) (*struct {
		Body struct {
			Items []PropertyResponse `json:"items"`
		} `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ownerID := input.OwnerID
		if ownerID == "" {
			ownerID = principal.ActorID
		}
		props, err := e.Repo.ListProperties(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []PropertyResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]PropertyResponse, 0, len(props))
		for _, p := range props {
			out.Body.Items = append(out.Body.Items, propertyResponse(p))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-property-rent",
		Method:      http.MethodPatch,
		Path:        "/properties/{property_id}/rent",
		Summary:     "Update a property's monthly rent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		PropertyID string         `path:"property_id"`
		Body       SetRentRequest `json:"body"`
	}) (*struct {
		Body PropertyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Rent < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "rent must not be negative", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProperty(ctx, input.PropertyID)
		if err != nil {
			return nil, handleError(err)
		}
		if p.OwnerID != principal.ActorID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only the owner can change the rent", nil)
		}
		if err := e.Repo.UpdatePropertyRent(ctx, p.ID, input.Body.Rent); err != nil {
			return nil, handleError(err)
		}
		p.Rent = input.Body.Rent
		return &struct {
			Body PropertyResponse `json:"body"`
		}{Body: propertyResponse(p)}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Register an owner or agency profile",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Kind != "owner" && input.Body.Kind != "agency" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "kind must be owner or agency", nil)
		}
		if input.Body.DisplayName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "display_name is required", nil)
		}
		p := domain.Profile{
			ID:          uuid.NewString(),
			Kind:        input.Body.Kind,
			DisplayName: input.Body.DisplayName,
			CreatedAt:   nowRFC3339(e),
		}
		if input.Body.ID != nil && *input.Body.ID != "" {
			p.ID = *input.Body.ID
		}
		if err := e.Repo.InsertProfile(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
	}, func(ctx context.Context, input *struct {
		Kind string `query:"kind" enum:"owner,agency"`
	}) (*struct {
		Body struct {
			Items []ProfileResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		profiles, err := e.Repo.ListProfiles(ctx, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []ProfileResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]ProfileResponse, 0, len(profiles))
		for _, p := range profiles {
			out.Body.Items = append(out.Body.Items, profileResponse(p))
		}
		return out, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"mandate,property,profile"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body struct {
			Items []EventResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []EventResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out.Body.Items = append(out.Body.Items, eventResponse(evt))
		}
		return out, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Mint an API key for the caller",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plaintext := "mk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   principal.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(plaintext),
			CreatedAt: nowRFC3339(e),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plaintext
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List the caller's API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []APIKeyResponse `json:"items"`
		} `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []APIKeyResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out.Body.Items = append(out.Body.Items, apiKeyResponse(k))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete an API key",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range keys {
			if k.ID == input.KeyID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{
			ActorID: principal.ActorID,
			Source:  principal.Source,
		}
		if profile, err := e.Repo.GetProfile(ctx, principal.ActorID); err == nil {
			resp.Kind = profile.Kind
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func nowRFC3339(e engine.Engine) string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}
