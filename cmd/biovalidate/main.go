// Command biovalidate is the thin HTTP host around the core validation
// library. A single handler decodes a table+metadata payload, calls
// validation.Service.Run, and writes the report as JSON; everything interesting
// happens in the root validation package.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/biovalidate/internal/platform/auditlog"
	"github.com/animus-labs/biovalidate/internal/platform/auth"
	"github.com/animus-labs/biovalidate/internal/platform/env"
	"github.com/animus-labs/biovalidate/internal/platform/httpserver"
	"github.com/animus-labs/biovalidate/internal/platform/objectstore"
	authzpolicy "github.com/animus-labs/biovalidate/internal/platform/policy"
	"github.com/animus-labs/biovalidate/internal/platform/postgres"

	"github.com/animus-labs/biovalidate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("biovalidate exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := validation.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := validation.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build validation service: %w", err)
	}
	defer svc.Close()

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load auth config: %w", err)
	}
	authenticator, err := buildAuthenticator(ctx, authCfg)
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}

	var db *sql.DB
	if env.String("DATABASE_URL", "") != "" {
		pgCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return fmt.Errorf("load postgres config: %w", err)
		}
		db, err = postgres.Open(ctx, pgCfg)
		if err != nil {
			logger.Warn("audit database unavailable, continuing without audit trail", "error", err.Error())
		} else {
			defer db.Close()
		}
	}

	var objectClient *minio.Client
	var objectCfg objectstore.Config
	if env.String("BIOVALIDATE_MINIO_ENDPOINT", "") != "" {
		var cfgErr error
		objectCfg, cfgErr = objectstore.ConfigFromEnv()
		if cfgErr != nil {
			return fmt.Errorf("load object store config: %w", cfgErr)
		}
		objectClient, cfgErr = objectstore.NewMinIOClient(objectCfg)
		if cfgErr != nil {
			logger.Warn("object store unavailable, dataset-fetch-by-reference disabled", "error", cfgErr.Error())
			objectClient = nil
		} else if err := objectstore.EnsureBuckets(ctx, objectClient, objectCfg); err != nil {
			logger.Warn("object store buckets could not be provisioned", "error", err.Error())
		}
	}

	authzSpec, err := loadAuthzSpec(env.String("AUTHZ_POLICY_PATH", ""))
	if err != nil {
		return fmt.Errorf("load authorization policy: %w", err)
	}

	host := &host{svc: svc, logger: logger, db: db, objectClient: objectClient, objectCfg: objectCfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("biovalidate"))
	mux.HandleFunc("/readyz", host.readyz())
	mux.HandleFunc("POST /validations", host.handleValidate)

	if oidcSvc, ok := authenticator.(*auth.OIDCService); ok {
		registerOIDCRoutes(mux, oidcSvc)
	}

	middleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     buildAuthorizer(authzSpec),
		SkipPrefixes:  []string{"/healthz", "/readyz", "/auth/"},
	}
	if db != nil {
		middleware.Audit = func(ctx context.Context, event auth.DenyEvent) error {
			return auditlog.InsertAuthDeny(ctx, db, "biovalidate", event)
		}
	}

	handler := httpserver.Wrap(logger, "biovalidate", middleware.Wrap(mux))

	srvCfg := httpserver.Config{
		Service:         "biovalidate",
		Addr:            env.String("BIOVALIDATE_ADDR", ":8080"),
		ShutdownTimeout: 10 * time.Second,
	}
	return httpserver.Run(ctx, logger, srvCfg, handler)
}

// loadAuthzSpec reads an optional attribute-based access-control policy
// spec. When unset, callers fall back to the plain method-vs-role RBAC
// check instead.
func loadAuthzSpec(path string) (*authzpolicy.Spec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorization policy %s: %w", path, err)
	}
	spec, err := authzpolicy.ParseSpec(data)
	if err != nil {
		return nil, fmt.Errorf("parse authorization policy %s: %w", path, err)
	}
	return &spec, nil
}

// buildAuthorizer returns the fine-grained ABAC authorizer when a policy
// spec is configured, evaluating each request's actor and target dataset
// against it; otherwise it falls back to the simple method-vs-role check.
func buildAuthorizer(spec *authzpolicy.Spec) auth.AuthorizeFunc {
	if spec == nil {
		return auth.MethodRoleAuthorizer()
	}
	return func(r *http.Request, identity auth.Identity) error {
		decision, err := authzpolicy.Evaluate(*spec, authzpolicy.Context{
			Actor: authzpolicy.ActorContext{
				Subject: identity.Subject,
				Email:   identity.Email,
				Roles:   identity.Roles,
			},
			Dataset: authzpolicy.DatasetContext{
				DatasetID: r.URL.Query().Get("dataset_id"),
			},
		})
		if err != nil {
			return fmt.Errorf("evaluate authorization policy: %w", err)
		}
		switch decision.Effect {
		case authzpolicy.EffectAllow:
			return nil
		case authzpolicy.EffectRequireApproval:
			return fmt.Errorf("%w: requires human approval (%s)", auth.ErrForbidden, decision.RuleID)
		default:
			return auth.ErrForbidden
		}
	}
}

func buildAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeOIDC:
		return auth.NewOIDCService(ctx, cfg)
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	case auth.ModeDisabled:
		return auth.NewDevAuthenticator(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}

// host holds the dependencies the request handlers need.
type host struct {
	svc          *validation.Service
	logger       *slog.Logger
	db           *sql.DB
	objectClient *minio.Client
	objectCfg    objectstore.Config
}

// readyz reports ready only once every dependency the handler actually
// touches is reachable: the audit database (if configured) and the
// dataset/report object store buckets (if configured). The validation
// service itself has no external dependency to probe once it has loaded.
func (h *host) readyz() http.HandlerFunc {
	var checks []httpserver.ReadinessCheck
	if h.db != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "audit_database",
			Check: func(ctx context.Context) error {
				return h.db.PingContext(ctx)
			},
		})
	}
	if h.objectClient != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "object_store_buckets",
			Check: func(ctx context.Context) error {
				return objectstore.CheckBuckets(ctx, h.objectClient, h.objectCfg)
			},
		})
	}
	return httpserver.ReadyzWithChecks("biovalidate", checks...)
}

// registerOIDCRoutes wires the browser login flow: an operator visiting
// /auth/login is redirected to the identity provider, /auth/callback
// completes the PKCE exchange and sets the session cookie Authenticate
// later reads, and /auth/session lets a client introspect its own
// identity. These routes are unauthenticated by construction; nothing
// behind them is reachable without a valid session or bearer token.
func registerOIDCRoutes(mux *http.ServeMux, svc *auth.OIDCService) {
	if login, err := svc.LoginHandler(); err == nil {
		mux.HandleFunc("GET /auth/login", login)
	}
	if callback, err := svc.CallbackHandler(); err == nil {
		mux.HandleFunc("GET /auth/callback", callback)
	}
	mux.HandleFunc("POST /auth/logout", svc.LogoutHandler())
	mux.HandleFunc("GET /auth/session", svc.SessionHandler())
}

// validateRequest is the wire payload for POST /validations: either the
// table is inlined, or a dataset object reference is given and the table
// is fetched from object storage as one JSON object with the same
// columns/rows shape as the inline table.
type validateRequest struct {
	Table    *inlineTable      `json:"table,omitempty"`
	Dataset  *datasetReference `json:"dataset_ref,omitempty"`
	Metadata validation.Metadata `json:"metadata"`
}

type inlineTable struct {
	Columns []string            `json:"columns"`
	Rows    []validation.Record `json:"rows"`
}

type datasetReference struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
}

func (h *host) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}

	table, err := h.resolveTable(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_table", err)
		return
	}

	report, err := h.svc.Run(r.Context(), table, req.Metadata, validation.Options{})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "config_error", err)
		return
	}

	h.recordAudit(r, report)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(report)
}

func (h *host) resolveTable(ctx context.Context, req validateRequest) (validation.Table, error) {
	if req.Table != nil {
		return validation.Table{Columns: req.Table.Columns, Rows: req.Table.Rows}, nil
	}
	if req.Dataset == nil {
		return validation.Table{}, errors.New("either table or dataset_ref must be provided")
	}
	if h.objectClient == nil {
		return validation.Table{}, errors.New("object store is not configured")
	}

	obj, err := h.objectClient.GetObject(ctx, req.Dataset.Bucket, req.Dataset.Object, minio.GetObjectOptions{})
	if err != nil {
		return validation.Table{}, fmt.Errorf("fetch dataset object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return validation.Table{}, fmt.Errorf("read dataset object: %w", err)
	}

	var payload inlineTable
	if err := json.Unmarshal(data, &payload); err != nil {
		return validation.Table{}, fmt.Errorf("decode dataset object: %w", err)
	}
	return validation.Table{Columns: payload.Columns, Rows: payload.Rows}, nil
}

func (h *host) recordAudit(r *http.Request, report validation.Report) {
	if h.db == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	event := auditlog.ValidationCompleted(
		firstNonEmpty(identity.Subject, "anonymous"),
		report.ValidationID,
		report.DatasetID,
		string(report.FinalDecision),
		requestID,
	)
	event.OccurredAt = time.Now().UTC()
	_, err := auditlog.Insert(r.Context(), h.db, event)
	if err != nil {
		h.logger.Warn("audit insert failed", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": err.Error(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
