package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringi/internal/config"
	"ringi/internal/db"
	"ringi/internal/domain"
	"ringi/internal/repo"
)

func TestMain(m *testing.M) {
	initConfig()
	addPersistentFlags()
	registerCommands()
	os.Exit(m.Run())
}

func TestParseApprovers(t *testing.T) {
	got, err := parseApprovers([]string{"manager=bob", " finance = carol "})
	require.NoError(t, err)
	assert.Equal(t, []domain.Approver{
		{StepID: "manager", AssignedTo: "bob"},
		{StepID: "finance", AssignedTo: "carol"},
	}, got)

	for _, bad := range []string{"manager", "=bob", "manager="} {
		_, err := parseApprovers([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseFormData(t *testing.T) {
	got, err := parseFormData([]string{"amount=1800", "urgent=true", "vendor=ACME Corp", "note="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"amount": float64(1800),
		"urgent": true,
		"vendor": "ACME Corp",
		"note":   "",
	}, got)

	empty, err := parseFormData(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = parseFormData([]string{"novalue"})
	assert.Error(t, err)
}

func TestReadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "def.yml")
	require.NoError(t, os.WriteFile(path, []byte(`name: Purchase
description: Over budget
steps:
  - {id: form, type: input, name: Request form}
  - {id: manager, type: approval, name: Manager}
`), 0o644))
	in, err := readDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "Purchase", in.Name)
	assert.Equal(t, "Over budget", in.Description)
	require.Len(t, in.Steps, 2)
	assert.Equal(t, domain.StepDefinition{ID: "manager", Type: "approval", Name: "Manager"}, in.Steps[1])
}

func TestCheckServeAuth(t *testing.T) {
	assert.NoError(t, checkServeAuth(config.ServerConfig{JWTSecret: "s"}))
	assert.NoError(t, checkServeAuth(config.ServerConfig{AllowLegacyHeaders: true}))
	assert.NoError(t, checkServeAuth(config.ServerConfig{JWTSecret: "s", DevAuth: true}))
	assert.Error(t, checkServeAuth(config.ServerConfig{}))
	assert.Error(t, checkServeAuth(config.ServerConfig{DevAuth: true, AllowLegacyHeaders: true}))
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("server:\n  addr: 127.0.0.1:9000\n"), 0o644))
	t.Setenv("RINGI_WORKSPACE", dir)
	t.Setenv("RINGI_SERVER_JWT_SECRET", "from-env")
	t.Setenv("RINGI_SERVER_DEV_AUTH", "true")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
	assert.True(t, cfg.Server.DevAuth)
	assert.Equal(t, dir, cfg.Database.Workspace)
}

func run(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "ringi %v", args)
}

func TestApprovalRoundTripFromCLI(t *testing.T) {
	dir := t.TempDir()
	ws := []string{"--workspace", dir, "--tenant", "acme"}
	cmd := func(args ...string) []string { return append(args, ws...) }

	run(t, cmd("tenant", "provision", "acme", "--name", "Acme")...)
	for _, u := range []string{"alice", "bob", "carol"} {
		run(t, cmd("user", "add", u, "--name", u)...)
	}
	defPath := filepath.Join(dir, "def.yml")
	require.NoError(t, os.WriteFile(defPath, []byte(`name: Expense
steps:
  - {id: manager, type: approval, name: Manager}
  - {id: finance, type: approval, name: Finance}
`), 0o644))
	run(t, cmd("definition", "import", "--file", defPath, "--publish", "--actor-id", "alice")...)

	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	s, err := repo.Repo{DB: conn}.Tenant("acme")
	require.NoError(t, err)
	ctx := context.Background()
	defs, err := s.ListDefinitions(ctx, domain.DefinitionPublished)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	run(t, cmd("instance", "create", "--definition", defs[0].ID, "--title", "New laptop", "--form", "amount=1800", "--actor-id", "alice")...)
	run(t, cmd("instance", "submit", "WF-1", "--approver", "manager=bob", "--approver", "finance=carol", "--actor-id", "alice")...)

	inst, err := s.GetInstanceByDisplayNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceInProgress, inst.Status)
	assert.Equal(t, float64(1800), inst.FormData["amount"])

	for i, approver := range []string{"bob", "carol"} {
		st, err := s.GetStepByDisplayNumber(ctx, inst.ID, int64(i+1))
		require.NoError(t, err)
		require.Equal(t, domain.StepActive, st.Status)
		run(t, cmd("step", "approve", "WF-1", st.DisplayID(), "--version", fmt.Sprint(st.Version), "--actor-id", approver)...)
	}

	inst, err = s.GetInstanceByDisplayNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceApproved, inst.Status)

	run(t, cmd("comment", "add", "WF-1", "--body", "thanks", "--actor-id", "alice")...)
	comments, err := s.ListComments(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "alice", comments[0].PostedBy)

	run(t, cmd("task", "show", "WF-1", "STEP-1", "--actor-id", "bob")...)
	run(t, cmd("dashboard", "--actor-id", "bob")...)
	rootCmd.SetArgs(cmd("task", "show", "WF-1", "STEP-1", "--actor-id", "carol"))
	assert.Error(t, rootCmd.ExecuteContext(ctx), "only the assignee may view a step")
}
