package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

type fakeMigrator struct {
	calls []string
	state postgres.MigrationState
	err   error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up")
	if f.err != nil {
		return f.err
	}
	if steps == 0 {
		steps = f.state.Available - f.state.Applied
	}
	f.state.Applied += steps
	f.state.Version = int64(f.state.Applied)
	return nil
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down")
	if f.err != nil {
		return f.err
	}
	f.state.Applied -= steps
	f.state.Version = int64(f.state.Applied)
	return nil
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	f.calls = append(f.calls, "status")
	return f.state, nil
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		direction string
		steps     int
		wantCalls []string
		wantOut   string
	}{
		{
			name:      "up applies all",
			direction: "up",
			wantCalls: []string{"up", "status"},
			wantOut:   "migrate up ok: version=2 applied=2 pending=0\n",
		},
		{
			name:      "down one step",
			direction: " DOWN ",
			steps:     1,
			wantCalls: []string{"down", "status"},
			wantOut:   "migrate down ok: version=0 applied=0 pending=2\n",
		},
		{
			name:      "status only",
			direction: "status",
			wantCalls: []string{"status"},
			wantOut:   "migration status: version=1 applied=1 pending=1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := &fakeMigrator{state: postgres.MigrationState{Version: 1, Applied: 1, Available: 2}}
			var out bytes.Buffer
			require.NoError(t, run(context.Background(), m, tt.direction, tt.steps, &out))
			require.Equal(t, tt.wantCalls, m.calls)
			require.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	m := &fakeMigrator{err: errors.New("lock timeout")}
	err := run(context.Background(), m, "up", 0, &bytes.Buffer{})
	require.ErrorContains(t, err, "migrate up failed: lock timeout")

	err = run(context.Background(), &fakeMigrator{}, "sideways", 0, &bytes.Buffer{})
	require.ErrorContains(t, err, "unsupported direction")
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, run(ctx, store, "up", 0, &out))
	require.Contains(t, out.String(), "pending=0")
	require.NoError(t, run(ctx, store, "status", 0, &out))
}

func TestMainMissingDSNExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_EXIT") == "1" {
		os.Args = []string{"migrate", "-direction=status", "-dsn="}
		_ = os.Unsetenv(envPostgresDSN)
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainMissingDSNExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
