package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "file:loans.db")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "*/10 * * * * *", cfg.Scheduler.OutboxRelaySpec)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, "NEXT_WORKING_DAY", cfg.Business.NonWorkingDayRule)
	assert.Equal(t, 30*time.Second, cfg.GetLockTTL())
	assert.Equal(t, 5*time.Minute, cfg.GetConnMaxLifetime())
	assert.Equal(t, time.UTC, cfg.GetLocation())

	days, err := cfg.GetWorkingDays()
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, days)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "file:loans.db")
	t.Setenv("WORKING_DAYS", "sun, sat")
	t.Setenv("NON_WORKING_DAY_RULE", "same_day")
	t.Setenv("OUTBOX_BATCH_SIZE", "7")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "SAME_DAY", cfg.Business.NonWorkingDayRule)
	assert.Equal(t, 7, cfg.Scheduler.BatchSize)
	days, err := cfg.GetWorkingDays()
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, days)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing database url",
			env:     map[string]string{"DATABASE_URL": ""},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"DATABASE_DRIVER": "mysql"},
			wantErr: "DATABASE_DRIVER",
		},
		{
			name:    "bad cron spec",
			env:     map[string]string{"OUTBOX_RELAY_SPEC": "every now and then"},
			wantErr: "OUTBOX_RELAY_SPEC",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"LOG_LEVEL": "loud"},
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "unknown weekday",
			env:     map[string]string{"WORKING_DAYS": "MON,FUNDAY"},
			wantErr: "WORKING_DAYS",
		},
		{
			name:    "bad lock ttl",
			env:     map[string]string{"REDIS_LOCK_TTL": "soon"},
			wantErr: "REDIS_LOCK_TTL",
		},
		{
			name:    "zero batch size",
			env:     map[string]string{"OUTBOX_BATCH_SIZE": "0"},
			wantErr: "OUTBOX_BATCH_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_DRIVER", "sqlite3")
			t.Setenv("DATABASE_URL", "file:loans.db")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
