package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/domain"
)

// FetchActive implements the C1 contract: NotFound when the row is absent
// or is_active=false, never a bare driver error for that case.
func (s *PostgresStore) FetchActive(ctx context.Context, functionID string) (*domain.Function, error) {
	var fn domain.Function
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_active, requires_api_key, api_key, active_version,
		       package_path, package_hash, file_size, created_at, updated_at
		FROM functions
		WHERE id = $1 AND is_active = true
	`, functionID).Scan(
		&fn.ID, &fn.Name, &fn.IsActive, &fn.RequiresAPIKey, &fn.APIKey, &fn.ActiveVersion,
		&fn.PackagePath, &fn.PackageHash, &fn.FileSize, &fn.CreatedAt, &fn.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("function not found or inactive: %s", functionID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreTransient, "fetch active function", err)
	}
	return &fn, nil
}

// SaveFunction is the administrative upsert of a function descriptor; it is
// not part of the MetadataStore interface or the invocation pipeline, and no
// cmd/novacore subcommand calls it.
func (s *PostgresStore) SaveFunction(ctx context.Context, fn *domain.Function) error {
	if fn.ID == "" || fn.Name == "" {
		return fmt.Errorf("function id and name are required")
	}
	now := time.Now()
	if fn.CreatedAt.IsZero() {
		fn.CreatedAt = now
	}
	fn.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO functions (id, name, is_active, requires_api_key, api_key, active_version,
		                        package_path, package_hash, file_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			requires_api_key = EXCLUDED.requires_api_key,
			api_key = EXCLUDED.api_key,
			active_version = EXCLUDED.active_version,
			package_path = EXCLUDED.package_path,
			package_hash = EXCLUDED.package_hash,
			file_size = EXCLUDED.file_size,
			updated_at = EXCLUDED.updated_at
	`, fn.ID, fn.Name, fn.IsActive, fn.RequiresAPIKey, fn.APIKey, fn.ActiveVersion,
		fn.PackagePath, fn.PackageHash, fn.FileSize, fn.CreatedAt, fn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save function: %w", err)
	}
	return nil
}

// AppendExecutionLog inserts one immutable execution-log row.
func (s *PostgresStore) AppendExecutionLog(ctx context.Context, log *domain.ExecutionLog) error {
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}
	reqHeaders, err := json.Marshal(log.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	respHeaders, err := json.Marshal(log.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}
	console, err := json.Marshal(log.ConsoleLog)
	if err != nil {
		return fmt.Errorf("marshal console log: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_logs (id, function_id, status_code, duration_ms, request_method, request_url,
		                             request_body, request_size, response_body, response_size,
		                             request_headers, response_headers, console_log,
		                             client_addr, user_agent, executed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, log.ID, log.FunctionID, log.StatusCode, log.DurationMS, log.RequestMethod, log.RequestURL,
		log.RequestBody, log.RequestSize, log.ResponseBody, log.ResponseSize,
		reqHeaders, respHeaders, console,
		log.ClientAddr, log.UserAgent, log.ExecutedAt, log.ErrorMessage)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreTransient, "append execution log", err)
	}
	return nil
}
