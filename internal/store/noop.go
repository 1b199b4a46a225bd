package store

import (
	"context"
	"time"
)

// NoopStore is the degraded backend used when persistence is unconfigured
// or unreachable. Writes succeed and vanish, reads return empty results,
// so token dispatch keeps working while history and admin views go dark.
type NoopStore struct{}

func NewNoop() *NoopStore { return &NoopStore{} }

func (n *NoopStore) SaveTransaction(context.Context, TransactionRecord) error { return nil }

func (n *NoopStore) ListTransactions(context.Context, int, int) ([]TransactionRecord, error) {
	return nil, nil
}

func (n *NoopStore) TransactionStats(context.Context) (TransactionStats, error) {
	return TransactionStats{}, nil
}

func (n *NoopStore) UpsertDailyMetrics(context.Context, string, MetricsDelta) error { return nil }

func (n *NoopStore) ListDailyMetrics(context.Context, int) ([]DailyMetrics, error) {
	return nil, nil
}

func (n *NoopStore) CreateAPIClient(context.Context, APIClient) error { return nil }

func (n *NoopStore) FindAPIClientByKey(context.Context, string) (*APIClient, error) {
	return nil, nil
}

func (n *NoopStore) FindAPIClientByID(context.Context, string) (*APIClient, error) {
	return nil, nil
}

func (n *NoopStore) ListAPIClients(context.Context, int, int) ([]APIClient, error) {
	return nil, nil
}

func (n *NoopStore) DeactivateAPIClient(context.Context, string) error { return ErrNotFound }

func (n *NoopStore) UpdateAPIClientKey(context.Context, string, string) error { return ErrNotFound }

func (n *NoopStore) IncrementClientUsage(context.Context, string, time.Time) error { return nil }

func (n *NoopStore) RecordClientUsage(context.Context, []ClientUsage) error { return nil }

func (n *NoopStore) ListClientUsage(context.Context, string, int) ([]ClientUsage, error) {
	return nil, nil
}

func (n *NoopStore) SeedAdminUser(context.Context, string, string) error { return nil }

func (n *NoopStore) AuthenticateAdmin(context.Context, string, string) (*AdminUser, error) {
	return nil, nil
}

func (n *NoopStore) SaveAdminActivity(context.Context, AdminActivity) error { return nil }

func (n *NoopStore) ListAdminActivities(context.Context, int) ([]AdminActivity, error) {
	return nil, nil
}

func (n *NoopStore) GetSetting(context.Context, string) (*Setting, error) { return nil, nil }

func (n *NoopStore) ListSettings(context.Context) ([]Setting, error) { return nil, nil }

func (n *NoopStore) UpsertSetting(context.Context, Setting) error { return nil }

func (n *NoopStore) SeedSettings(context.Context, []Setting) error { return nil }

func (n *NoopStore) Migrate(context.Context) error { return nil }

func (n *NoopStore) Ping(context.Context) error { return nil }

func (n *NoopStore) Backend() string { return "none" }

func (n *NoopStore) Close() error { return nil }
