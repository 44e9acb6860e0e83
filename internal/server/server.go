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
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hopline/internal/domain"
	"hopline/internal/engine"
	"hopline/internal/engine/auth"
	"hopline/internal/repo"
	"hopline/internal/trust"
)

// Config for the HTTP API handler.
type Config struct {
	Engine            engine.Engine
	BasePath          string
	Auth              AuthConfig
	RequestsPerMinute int
	MaxBodyBytes      int64
	TrustedProxies    []string
	Logger            *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forward_rejected"`
	Message string         `json:"message" example:"forward on tx-1 rejected: would_create_cycle"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"reason\":\"would_create_cycle\"}"`
}

type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hopline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = cfg.Engine.Log
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
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
	router.Use(requestIDMiddleware)
	router.Use(accessLogMiddleware(log))
	if cfg.RequestsPerMinute > 0 {
		proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		router.Use(rateLimitMiddleware(NewIPRateLimiter(cfg.RequestsPerMinute), proxies))
	}
	if cfg.MaxBodyBytes > 0 {
		router.Use(bodySizeLimitMiddleware(cfg.MaxBodyBytes))
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(data))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyBytesKey{}, data)))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Hopline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAgents(group, cfg.Engine)
	registerForwards(group, cfg.Engine)
	registerChains(group, cfg.Engine)
	registerStakes(group, cfg.Engine)
	registerViolationList(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerTrust(group, cfg.Engine)
	registerDecay(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerAPIKeyList(group, cfg.Engine)
	registerAPIKeyRevoke(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var rejected *engine.ForwardRejectedError
	if errors.As(err, &rejected) {
		return newAPIError(http.StatusConflict, "forward_rejected", err.Error(), map[string]any{
			"reason":            rejected.Result.Reason,
			"implicated_agents": nonNilSlice(rejected.Result.ImplicatedAgents),
		})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrAgentNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrAgentNotActive):
		return newAPIError(http.StatusForbidden, "agent_not_active", msg, nil)
	case errors.Is(err, engine.ErrAgentRevoked):
		return newAPIError(http.StatusConflict, "agent_revoked", msg, nil)
	case errors.Is(err, engine.ErrConcurrentModification):
		return newAPIError(http.StatusConflict, "concurrent_modification", msg, map[string]any{"retryable": true})
	case errors.Is(err, engine.ErrStakeLocked):
		return newAPIError(http.StatusConflict, "stake_locked", msg, nil)
	case errors.Is(err, engine.ErrInsufficientStake):
		return newAPIError(http.StatusConflict, "insufficient_stake", msg, nil)
	case errors.Is(err, engine.ErrChainDepthExceeded):
		return newAPIError(http.StatusUnprocessableEntity, "chain_depth_exceeded", msg, nil)
	case errors.Is(err, engine.ErrReporterInCycle):
		return newAPIError(http.StatusUnprocessableEntity, "reporter_in_cycle", msg, nil)
	case errors.Is(err, engine.ErrNoCycle):
		return newAPIError(http.StatusUnprocessableEntity, "no_cycle", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components != nil && oas.Components.Schemas != nil {
		// Registers the envelope as #/components/schemas/ApiError.
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "")
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
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Hopline API Docs</title>
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

type agentPath struct {
	ID string `path:"id"`
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register agent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermAgentsWrite)
		if err != nil {
			return nil, err
		}
		a, err := e.RegisterAgent(ctx, engine.AgentInput{ID: input.Body.ID, OwnerAddress: input.Body.OwnerAddress, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		items, err := e.ListAgents(ctx, repo.AgentFilters{Status: input.Status, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *agentPath) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		a, err := e.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Change agent status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermAgentsWrite)
		if err != nil {
			return nil, err
		}
		a, err := e.SetAgentStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})
}

func registerForwards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-forward",
		Method:      http.MethodPost,
		Path:        "/forwards/verify",
		Summary:     "Check whether a forward is safe",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body VerifyForwardRequest `json:"body"`
	}) (*struct {
		Body domain.SafetyResult `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		if err := e.EnsureActive(ctx, input.Body.Source, input.Body.Target); err != nil {
			return nil, handleError(err)
		}
		res, err := e.VerifyForward(ctx, input.Body.RootTx, input.Body.Source, input.Body.Target)
		if err != nil {
			return nil, handleError(err)
		}
		res.ImplicatedAgents = nonNilSlice(res.ImplicatedAgents)
		return &struct {
			Body domain.SafetyResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-forward",
		Method:        http.MethodPost,
		Path:          "/forwards",
		Summary:       "Verify and record a forward hop",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordForwardRequest `json:"body"`
	}) (*struct {
		Body HopResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermForwardsWrite)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		if err := e.EnsureActive(ctx, input.Body.Source, input.Body.Target); err != nil {
			return nil, handleError(err)
		}
		hop, err := e.RecordForward(ctx, engine.ForwardInput{
			RootTx:    input.Body.RootTx,
			Source:    input.Body.Source,
			Target:    input.Body.Target,
			HopNumber: input.Body.HopNumber,
			Amount:    amount,
			Force:     input.Body.Force,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HopResponse `json:"body"`
		}{Body: hopResponse(hop)}, nil
	})
}

func registerChains(api huma.API, e engine.Engine) {
	type rootPath struct {
		RootTx string `path:"root_tx"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-chain",
		Method:      http.MethodGet,
		Path:        "/chains/{root_tx}",
		Summary:     "Chain hops, path and cycle state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *rootPath) (*struct {
		Body ChainResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		view, err := e.ChainStatus(ctx, input.RootTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChainResponse `json:"body"`
		}{Body: ChainResponse{
			RootTx: view.RootTx,
			Hops:   mapHops(view.Hops),
			Path:   nonNilSlice(view.Path),
			Cycle:  cycleResponse(view.Cycle),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-chain",
		Method:      http.MethodPost,
		Path:        "/chains/{root_tx}/reconcile",
		Summary:     "Flag a cyclic chain and penalise the loop",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *rootPath) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermViolations)
		if err != nil {
			return nil, err
		}
		rep, err := e.ReconcileChain(ctx, input.RootTx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: reconcileResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-cycle",
		Method:      http.MethodPost,
		Path:        "/chains/{root_tx}/report",
		Summary:     "Report a cyclic chain for a reward",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RootTx string             `path:"root_tx"`
		Body   ReportCycleRequest `json:"body"`
	}) (*struct {
		Body CycleReportResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermViolations)
		if err != nil {
			return nil, err
		}
		res, err := e.ReportCycle(ctx, input.RootTx, input.Body.Reporter, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CycleReportResponse `json:"body"`
		}{Body: CycleReportResponse{
			RootTx:          res.RootTx,
			Reporter:        res.Reporter,
			PointsAwarded:   res.PointsAwarded,
			AlreadyReported: res.AlreadyReported,
			Reconcile:       reconcileResponse(res.Reconcile),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cycles",
		Method:      http.MethodGet,
		Path:        "/cycles",
		Summary:     "Cycle history by root, by agent or most recent",
	}, func(ctx context.Context, input *struct {
		RootTx  string `query:"root_tx"`
		AgentID string `query:"agent_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body CycleHistoryResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		h, err := e.CycleHistory(ctx, engine.CycleHistoryQuery{RootTx: input.RootTx, AgentID: input.AgentID, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		resp := CycleHistoryResponse{Hops: mapHops(h.Hops), Cycles: []CycleRootEntry{}}
		if h.Cycle != nil {
			c := cycleResponse(*h.Cycle)
			resp.Cycle = &c
		}
		for _, c := range h.Cycles {
			resp.Cycles = append(resp.Cycles, CycleRootEntry(c))
		}
		return &struct {
			Body CycleHistoryResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerStakes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stake",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/stake",
		Summary:     "Stake position",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *agentPath) (*struct {
		Body StakeResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		pos, err := e.GetStake(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakeResponse `json:"body"`
		}{Body: stakeResponse(pos)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stake",
		Method:      http.MethodPost,
		Path:        "/agents/{id}/stake",
		Summary:     "Deposit stake",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body StakeRequest `json:"body"`
	}) (*struct {
		Body StakeResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermStakesWrite)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		pos, err := e.Stake(ctx, engine.StakeInput{AgentID: input.ID, Amount: amount, LockDays: input.Body.LockDays, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakeResponse `json:"body"`
		}{Body: stakeResponse(pos)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unstake",
		Method:      http.MethodPost,
		Path:        "/agents/{id}/unstake",
		Summary:     "Withdraw unlocked stake",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body UnstakeRequest `json:"body"`
	}) (*struct {
		Body StakeResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermStakesWrite)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		pos, err := e.Unstake(ctx, engine.UnstakeInput{AgentID: input.ID, Amount: amount, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakeResponse `json:"body"`
		}{Body: stakeResponse(pos)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "report-violation",
		Method:        http.MethodPost,
		Path:          "/violations",
		Summary:       "Record a confirmed violation and slash",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ViolationRequest `json:"body"`
	}) (*struct {
		Body ViolationResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermViolations)
		if err != nil {
			return nil, err
		}
		v, err := e.ReportViolation(ctx, engine.ViolationInput{
			RootTx:   input.Body.RootTx,
			AgentID:  input.Body.AgentID,
			Severity: input.Body.Severity,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ViolationResponse `json:"body"`
		}{Body: violationResponse(v)}, nil
	})
}

func registerViolationList(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-violations",
		Method:      http.MethodGet,
		Path:        "/violations",
		Summary:     "List recorded violations",
	}, func(ctx context.Context, input *struct {
		RootTx  string `query:"root_tx"`
		AgentID string `query:"agent_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ViolationResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		items, err := e.ListViolations(ctx, repo.ViolationFilters{RootTx: input.RootTx, AgentID: input.AgentID, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		out := []ViolationResponse{}
		for _, v := range items {
			out = append(out, violationResponse(v))
		}
		return &struct {
			Body []ViolationResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Ingest a payment outcome",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body PaymentRequest `json:"body"`
	}) (*struct {
		Body PaymentResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermLedgerWrite)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		p, err := e.RecordPayment(ctx, engine.PaymentInput{
			AgentID:       input.Body.AgentID,
			TxHash:        input.Body.TxHash,
			ClientAddress: input.Body.ClientAddress,
			Amount:        amount,
			Status:        input.Body.Status,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentResponse `json:"body"`
		}{Body: paymentResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-feedback",
		Method:        http.MethodPost,
		Path:          "/feedback",
		Summary:       "Ingest client feedback",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body FeedbackRequest `json:"body"`
	}) (*struct {
		Body domain.FeedbackRecord `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermLedgerWrite)
		if err != nil {
			return nil, err
		}
		f, err := e.SubmitFeedback(ctx, engine.FeedbackInput{
			AgentID:       input.Body.AgentID,
			ClientAddress: input.Body.ClientAddress,
			Score:         input.Body.Score,
			Tag1:          input.Body.Tag1,
			Tag2:          input.Body.Tag2,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FeedbackRecord `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rewards",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/rewards",
		Summary:     "Cooperation credits and totals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body RewardsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		sum, err := e.CooperationSummary(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		credits, err := e.ListCredits(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		resp := RewardsResponse{
			AgentID:           sum.AgentID,
			TotalPoints:       sum.TotalPoints,
			TotalMonetary:     sum.TotalMonetary.String(),
			CreditCount:       sum.CreditCount,
			UniqueRewardTypes: sum.UniqueRewardTypes,
			Credits:           []CreditResponse{},
		}
		for _, c := range credits {
			resp.Credits = append(resp.Credits, creditResponse(c))
		}
		return &struct {
			Body RewardsResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "credit-agent",
		Method:        http.MethodPost,
		Path:          "/agents/{id}/rewards",
		Summary:       "Append a cooperation credit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body CreditRequest `json:"body"`
	}) (*struct {
		Body CreditResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, auth.PermLedgerWrite)
		if err != nil {
			return nil, err
		}
		in := engine.CreditInput{
			AgentID:    input.ID,
			RewardType: input.Body.RewardType,
			Points:     input.Body.Points,
			Reference:  input.Body.Reference,
			ActorID:    actorID,
		}
		if input.Body.MonetaryReward != "" {
			m, err := parseAmount("monetary_reward", input.Body.MonetaryReward)
			if err != nil {
				return nil, err
			}
			in.MonetaryReward = &m
		}
		c, err := e.Credit(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreditResponse `json:"body"`
		}{Body: creditResponse(c)}, nil
	})
}

func registerTrust(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-trust",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/trust",
		Summary:     "Trust level with score breakdown",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *agentPath) (*struct {
		Body TrustResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		rep, err := e.GetTrust(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TrustResponse `json:"body"`
		}{Body: trustResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sybil",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/sybil",
		Summary:     "Sybil resistance score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *agentPath) (*struct {
		Body trust.SybilReport `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		rep, err := e.SybilScore(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body trust.SybilReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/snapshots",
		Summary:     "Reputation snapshots, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ReputationSnapshot `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		items, err := e.ListSnapshots(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ReputationSnapshot `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerDecay(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-decay",
		Method:      http.MethodPost,
		Path:        "/decay/run",
		Summary:     "Run one reputation decay pass",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DecayReport `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDecayRun); err != nil {
			return nil, err
		}
		rep, err := e.RunDecayPass(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DecayReport `json:"body"`
		}{Body: rep}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAgentsRead); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string   `json:"actor_id,omitempty"`
			Name    string   `json:"name,omitempty"`
			Scopes  []string `json:"scopes,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		caller, err := requirePermission(ctx, auth.PermAdmin)
		if err != nil {
			return nil, err
		}
		owner := strings.TrimSpace(input.Body.ActorID)
		if owner == "" {
			owner = caller
		}
		key, plain, err := e.CreateAPIKey(ctx, owner, input.Body.Name, input.Body.Scopes)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plain
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeyList(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys for an actor",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		caller, err := requirePermission(ctx, auth.PermAdmin)
		if err != nil {
			return nil, err
		}
		owner := input.ActorID
		if owner == "" {
			owner = caller
		}
		keys, err := e.ListAPIKeys(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		out := []APIKeyResponse{}
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAPIKeyRevoke(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, auth.PermAdmin)
		if err != nil {
			return nil, err
		}
		if err := e.RevokeAPIKey(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
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
		for _, p := range input.Body.Permissions {
			if !auth.Known(p) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown permission", map[string]any{"permission": p})
			}
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Permissions, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	buf, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return buf
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
