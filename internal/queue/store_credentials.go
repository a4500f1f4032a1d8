package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"speecheval/internal/quota"
)

var _ quota.Repository = (*Store)(nil)

// AddCredential registers an API key for a provider. Adding a key that is
// already registered returns the existing credential.
func (s *Store) AddCredential(ctx context.Context, provider, label, secret string) (quota.Credential, error) {
	provider = strings.TrimSpace(provider)
	secret = strings.TrimSpace(secret)
	if provider == "" || secret == "" {
		return quota.Credential{}, fmt.Errorf("add credential: provider and secret are required")
	}
	now := formatTime(s.now())
	if _, err := s.exec(ctx,
		`INSERT INTO credentials (id, provider, label, secret, is_active, error_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, 1, 0, ?, ?)
        ON CONFLICT(provider, secret) DO NOTHING`,
		uuid.NewString(), provider, nullableString(label), secret, now, now,
	); err != nil {
		return quota.Credential{}, fmt.Errorf("add credential: %w", err)
	}
	creds, err := s.ListCredentials(ctx, provider)
	if err != nil {
		return quota.Credential{}, err
	}
	for _, cred := range creds {
		if cred.Secret == secret {
			return cred, nil
		}
	}
	return quota.Credential{}, fmt.Errorf("add credential: inserted row not found")
}

// ListCredentials returns every credential for provider with its per-model
// quota flags. An empty provider lists all credentials.
func (s *Store) ListCredentials(ctx context.Context, provider string) ([]quota.Credential, error) {
	ctx = orBackground(ctx)
	query := `SELECT c.id, c.provider, c.label, c.secret, c.is_active, c.error_count, c.created_at,
            q.model, q.exhausted, q.exhausted_date
        FROM credentials c
        LEFT JOIN credential_model_quota q ON q.credential_id = c.id`
	var args []any
	if strings.TrimSpace(provider) != "" {
		query += ` WHERE c.provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY c.created_at ASC, c.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var (
		out   []quota.Credential
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			id, prov, secret string
			label            sql.NullString
			active           int
			errorCount       int
			createdRaw       sql.NullString
			model            sql.NullString
			exhausted        sql.NullInt64
			exhaustedDate    sql.NullString
		)
		if err := rows.Scan(&id, &prov, &label, &secret, &active, &errorCount, &createdRaw,
			&model, &exhausted, &exhaustedDate); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		pos, ok := index[id]
		if !ok {
			cred := quota.Credential{
				ID:         id,
				Provider:   prov,
				Label:      label.String,
				Secret:     secret,
				Active:     active != 0,
				ErrorCount: errorCount,
				Models:     make(map[string]quota.ModelQuota),
			}
			if created, err := parseTimeString(createdRaw.String); err == nil {
				cred.CreatedAt = created
			}
			out = append(out, cred)
			pos = len(out) - 1
			index[id] = pos
		}
		if model.Valid {
			out[pos].Models[model.String] = quota.ModelQuota{
				Exhausted:     exhausted.Valid && exhausted.Int64 != 0,
				ExhaustedDate: exhaustedDate.String,
			}
		}
	}
	return out, rows.Err()
}

// SetModelExhausted records that model's daily quota is spent on credentialID.
func (s *Store) SetModelExhausted(ctx context.Context, credentialID, model, date string) error {
	if err := s.execOnly(ctx,
		`INSERT INTO credential_model_quota (credential_id, model, exhausted, exhausted_date)
        VALUES (?, ?, 1, ?)
        ON CONFLICT(credential_id, model) DO UPDATE SET exhausted = 1, exhausted_date = excluded.exhausted_date`,
		credentialID, model, date,
	); err != nil {
		return fmt.Errorf("set model exhausted: %w", err)
	}
	return nil
}

// ResetExhaustion clears exhaustion flags for every credential of provider.
func (s *Store) ResetExhaustion(ctx context.Context, provider string) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE credential_model_quota SET exhausted = 0, exhausted_date = NULL
        WHERE exhausted = 1 AND credential_id IN (SELECT id FROM credentials WHERE provider = ?)`,
		provider)
	if err != nil {
		return 0, fmt.Errorf("reset exhaustion: %w", err)
	}
	return res.RowsAffected()
}

// IncrementErrorCount adds one to the credential's error count.
func (s *Store) IncrementErrorCount(ctx context.Context, credentialID string) error {
	if err := s.execOnly(ctx,
		`UPDATE credentials SET error_count = error_count + 1, updated_at = ? WHERE id = ?`,
		formatTime(s.now()), credentialID,
	); err != nil {
		return fmt.Errorf("increment credential errors: %w", err)
	}
	return nil
}

// ClearErrorCount resets the credential's error count.
func (s *Store) ClearErrorCount(ctx context.Context, credentialID string) error {
	if err := s.execOnly(ctx,
		`UPDATE credentials SET error_count = 0, updated_at = ? WHERE id = ? AND error_count != 0`,
		formatTime(s.now()), credentialID,
	); err != nil {
		return fmt.Errorf("clear credential errors: %w", err)
	}
	return nil
}

// SetCredentialActive enables or disables a credential.
func (s *Store) SetCredentialActive(ctx context.Context, credentialID string, active bool) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE credentials SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(s.now()), credentialID)
	if err != nil {
		return false, fmt.Errorf("set credential active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
