package security_test

import (
	"context"
	"errors"
	"testing"

	"backend/internal/config"
	"backend/internal/security"

	"go.uber.org/zap"
)

func TestDetermineOverallHealth(t *testing.T) {
	cases := []struct {
		name     string
		statuses []security.HealthStatus
		want     security.HealthStatus
	}{
		{
			name:     "all healthy",
			statuses: []security.HealthStatus{security.HealthHealthy, security.HealthHealthy, security.HealthHealthy},
			want:     security.HealthHealthy,
		},
		{
			name:     "one degraded",
			statuses: []security.HealthStatus{security.HealthHealthy, security.HealthDegraded, security.HealthHealthy},
			want:     security.HealthDegraded,
		},
		{
			name:     "one unhealthy still degraded",
			statuses: []security.HealthStatus{security.HealthHealthy, security.HealthHealthy, security.HealthUnhealthy},
			want:     security.HealthDegraded,
		},
		{
			name:     "two unhealthy",
			statuses: []security.HealthStatus{security.HealthHealthy, security.HealthUnhealthy, security.HealthUnhealthy},
			want:     security.HealthUnhealthy,
		},
		{
			name:     "all unhealthy",
			statuses: []security.HealthStatus{security.HealthUnhealthy, security.HealthUnhealthy, security.HealthUnhealthy},
			want:     security.HealthUnhealthy,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := security.DetermineOverallHealth(tc.statuses...)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCheckAll_HealthyDatabase(t *testing.T) {
	db := setupTestDB(t)
	checker := security.NewHealthChecker(db, zap.NewNop(), config.MonitorConfig{})

	report := checker.CheckAll(context.Background())
	if report.Database.Status != security.HealthHealthy {
		t.Fatalf("expected healthy database, got %s (%s)", report.Database.Status, report.Database.Message)
	}
	if report.Authentication.Status != security.HealthHealthy {
		t.Fatalf("expected healthy authentication, got %s", report.Authentication.Status)
	}
	if report.API.Status != security.HealthHealthy {
		t.Fatalf("expected healthy api with no probes, got %s", report.API.Status)
	}
	if report.Overall != security.HealthHealthy {
		t.Fatalf("expected healthy overall, got %s", report.Overall)
	}
	if report.CheckedAt.IsZero() {
		t.Fatal("expected check timestamp")
	}
}

func TestCheckAPIHealth_ProbeRatios(t *testing.T) {
	db := setupTestDB(t)
	ok := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return errors.New("upstream down") }

	// 1/3 失败 → degraded
	checker := security.NewHealthChecker(db, zap.NewNop(), config.MonitorConfig{})
	checker.AddAPIProbe(security.APIProbe{Name: "a", Check: ok})
	checker.AddAPIProbe(security.APIProbe{Name: "b", Check: ok})
	checker.AddAPIProbe(security.APIProbe{Name: "c", Check: fail})
	result := checker.CheckAPIHealth(context.Background())
	if result.Status != security.HealthDegraded {
		t.Fatalf("expected degraded with minority failures, got %s", result.Status)
	}

	// 2/3 失败 → unhealthy
	checker = security.NewHealthChecker(db, zap.NewNop(), config.MonitorConfig{})
	checker.AddAPIProbe(security.APIProbe{Name: "a", Check: ok})
	checker.AddAPIProbe(security.APIProbe{Name: "b", Check: fail})
	checker.AddAPIProbe(security.APIProbe{Name: "c", Check: fail})
	result = checker.CheckAPIHealth(context.Background())
	if result.Status != security.HealthUnhealthy {
		t.Fatalf("expected unhealthy with majority failures, got %s", result.Status)
	}
	if result.Message == "" {
		t.Fatal("expected failure message")
	}
}

func TestCheckAll_StuckProbeTimesOut(t *testing.T) {
	db := setupTestDB(t)
	checker := security.NewHealthChecker(db, zap.NewNop(), config.MonitorConfig{CheckTimeoutMs: 50})
	checker.AddAPIProbe(security.APIProbe{
		Name: "stuck",
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	report := checker.CheckAll(context.Background())
	if report.API.Status != security.HealthUnhealthy {
		t.Fatalf("expected unhealthy api on timeout, got %s", report.API.Status)
	}
	if report.Overall != security.HealthDegraded {
		t.Fatalf("single unhealthy component must degrade overall, got %s", report.Overall)
	}
}
