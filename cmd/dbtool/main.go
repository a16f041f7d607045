package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <arena-smoke> [args]")
	}

	switch os.Args[1] {
	case "arena-smoke":
		arenaSmoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

const (
	sqlstateUniqueViolation = "23505"
	sqlstateCheckViolation  = "23514"
)

// arenaSmoke checks the arena constraints of a migrated database inside one
// transaction that is always rolled back.
func arenaSmoke(args []string) {
	fs := flag.NewFlagSet("arena-smoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	projectID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	if _, err := tx.Exec(ctx, `INSERT INTO arc.projects (id, slug, arc_active, arc_access_level) VALUES ($1, $1, true, 'leaderboard');`, projectID); err != nil {
		fatal(err)
	}

	insert := `INSERT INTO arena.arenas (id, project_id, slug, kind, status, starts_at, ends_at, created_by)
VALUES (gen_random_uuid(), $1, $2, $3, 'active', $4, $5, 'dbtool');`
	if _, err := tx.Exec(ctx, insert, projectID, projectID+"-leaderboard", "ms", nil, nil); err != nil {
		fatal(err)
	}

	steps := []struct {
		name       string
		slug       string
		kind       string
		startsAt   any
		endsAt     any
		sqlstate   string
		constraint string
	}{
		{name: "second ms-family row", slug: projectID + "-2", kind: "legacy_ms", sqlstate: sqlstateUniqueViolation, constraint: "arenas_one_ms_family_per_project"},
		{name: "unknown beside ms", slug: projectID + "-3", kind: "unknown", sqlstate: sqlstateUniqueViolation, constraint: "arenas_one_ms_family_per_project"},
		{name: "duplicate slug", slug: projectID + "-leaderboard", kind: "other", sqlstate: sqlstateUniqueViolation, constraint: "arenas_slug_key"},
		{name: "inverted window", slug: projectID + "-4", kind: "other", startsAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), endsAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), sqlstate: sqlstateCheckViolation, constraint: "arenas_window_check"},
		{name: "other kind is unconstrained", slug: projectID + "-5", kind: "other"},
	}
	for i, st := range steps {
		sp := fmt.Sprintf("sp_smoke_%d", i)
		if _, err := tx.Exec(ctx, `SAVEPOINT `+sp+`;`); err != nil {
			fatal(err)
		}
		_, err := tx.Exec(ctx, insert, projectID, st.slug, st.kind, st.startsAt, st.endsAt)
		if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT `+sp+`;`); rbErr != nil {
			fatal(rbErr)
		}
		if st.sqlstate == "" {
			if err != nil {
				fatalf("%s: unexpected error: %v", st.name, err)
			}
			continue
		}
		if err := expectViolation(err, st.sqlstate, st.constraint); err != nil {
			fatalf("%s: %v", st.name, err)
		}
	}

	var live int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM arena.arenas
WHERE project_id = $1 AND kind IN ('ms', 'legacy_ms') AND status = 'active'
  AND (starts_at IS NULL OR starts_at <= now())
  AND (ends_at IS NULL OR ends_at >= now());`, projectID).Scan(&live); err != nil {
		fatal(err)
	}
	if live != 1 {
		fatalf("expected 1 live arena, got %d", live)
	}

	fmt.Println("[arena-smoke] OK")
}

// expectViolation checks that err is the Postgres error the schema should
// raise.
func expectViolation(err error, sqlstate string, constraint string) error {
	if err == nil {
		return errors.New("expected violation, got success")
	}
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok {
		return fmt.Errorf("expected postgres error, got %w", err)
	}
	if pgErr.Code != sqlstate {
		return fmt.Errorf("sqlstate=%s want %s (%s)", pgErr.Code, sqlstate, pgErr.Message)
	}
	if constraint != "" && pgErr.ConstraintName != constraint {
		return fmt.Errorf("constraint=%s want %s", pgErr.ConstraintName, constraint)
	}
	return nil
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
