package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/pkg/config"
	"github.com/lingora-app/insight-api/pkg/database"
)

// stats_verify cross-checks the materialized statistics tables against the
// raw tables they were derived from. It is meant to run after an aggregation
// pass, from CI or by hand, and exits non-zero when a critical invariant is
// violated. Drift checks that depend on wall-clock timing are reported but do
// not fail the run.

type check struct {
	Name     string
	Critical bool
	run      func(ctx context.Context, db *sqlx.DB) (want, got int64, err error)
}

type result struct {
	Check    check
	Want     int64
	Got      int64
	Match    bool
	Duration time.Duration
	Err      error
}

func main() {
	var (
		timeout time.Duration
		maxAge  time.Duration
	)
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall query deadline")
	flag.DurationVar(&maxAge, "max-age", 24*time.Hour, "oldest acceptable student_stats.last_updated")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	checks := []check{
		{
			Name:     "student_stats coverage for active students",
			Critical: true,
			run: violation(`SELECT COUNT(*) FROM users u
                WHERE u.role = 'STUDENT' AND u.active = TRUE
                  AND NOT EXISTS (SELECT 1 FROM student_stats s WHERE s.student_id = u.id)`),
		},
		{
			Name:     "assignment_stats coverage for active assignments",
			Critical: true,
			run: violation(`SELECT COUNT(*) FROM assignments a
                WHERE a.active = TRUE
                  AND NOT EXISTS (SELECT 1 FROM assignment_stats s WHERE s.assignment_id = a.id)`),
		},
		{
			Name:     "at most one unresolved flag per student",
			Critical: true,
			run: violation(`SELECT COUNT(*) FROM (
                  SELECT student_id FROM needs_help_records
                  WHERE resolved = FALSE
                  GROUP BY student_id HAVING COUNT(*) > 1) d`),
		},
		{
			Name:     "flag severity values within the known set",
			Critical: true,
			run: violation(`SELECT COUNT(*) FROM needs_help_records
                WHERE severity NOT IN ('RECENT', 'WARNING', 'CRITICAL')`),
		},
		{
			Name:     "student_stats rates and counters within bounds",
			Critical: true,
			run: violation(`SELECT COUNT(*) FROM student_stats
                WHERE completion_rate < 0 OR completion_rate > 100
                   OR accuracy_rate < 0 OR accuracy_rate > 100
                   OR average_score < 0
                   OR completed_assignments > total_assignments
                   OR completed_assignments + in_progress_assignments > total_assignments
                   OR total_correct_answers > total_answers`),
		},
		{
			Name:     "assignment_stats student split adds up",
			Critical: true,
			run: violation(`SELECT COUNT(*) FROM assignment_stats
                WHERE completed_students + in_progress_students + not_started_students <> total_students
                   OR total_correct_answers > total_answers`),
		},
		{
			Name:     "school_stats total_students matches live roster",
			Critical: false,
			run: snapshotField("total_students",
				`SELECT COUNT(*) FROM users WHERE role = 'STUDENT' AND active = TRUE`),
		},
		{
			Name:     "school_stats total_teachers matches live roster",
			Critical: false,
			run: snapshotField("total_teachers",
				`SELECT COUNT(*) FROM users WHERE role = 'TEACHER' AND active = TRUE`),
		},
		{
			Name:     "school_stats students_needing_help matches unresolved flags",
			Critical: false,
			run: snapshotField("students_needing_help",
				`SELECT COUNT(*) FROM needs_help_records WHERE resolved = FALSE`),
		},
		{
			Name:     "attempts reference known students and assignments",
			Critical: false,
			run: violation(`SELECT COUNT(*) FROM progress_attempts p
                WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = p.student_id)
                   OR NOT EXISTS (SELECT 1 FROM assignments a WHERE a.id = p.assignment_id)`),
		},
		{
			Name:     "student_stats freshness",
			Critical: false,
			run: func(ctx context.Context, db *sqlx.DB) (int64, int64, error) {
				cutoff := time.Now().UTC().Add(-maxAge)
				var stale int64
				err := db.GetContext(ctx, &stale,
					`SELECT COUNT(*) FROM student_stats WHERE last_updated < $1`, cutoff)
				return 0, stale, err
			},
		},
	}

	var (
		results      []result
		breaking     int
		optionalDiff int
	)
	for _, ch := range checks {
		start := time.Now()
		want, got, err := ch.run(ctx, db)
		res := result{
			Check:    ch,
			Want:     want,
			Got:      got,
			Match:    err == nil && want == got,
			Duration: time.Since(start),
			Err:      err,
		}
		if !res.Match {
			if ch.Critical {
				breaking++
			} else {
				optionalDiff++
			}
		}
		results = append(results, res)
	}

	printReport(results)

	fmt.Printf("Critical violations: %d, Drift warnings: %d\n", breaking, optionalDiff)
	if breaking > 0 {
		os.Exit(1)
	}
}

// violation wraps a query whose result counts invariant-breaking rows; the
// expected count is always zero.
func violation(query string) func(ctx context.Context, db *sqlx.DB) (int64, int64, error) {
	return func(ctx context.Context, db *sqlx.DB) (int64, int64, error) {
		var got int64
		err := db.GetContext(ctx, &got, query)
		return 0, got, err
	}
}

// snapshotField compares a column of the latest school_stats row against a
// live recount. Snapshots lag the raw tables by up to one aggregation
// interval, so these checks report drift instead of failing the run.
func snapshotField(column, liveQuery string) func(ctx context.Context, db *sqlx.DB) (int64, int64, error) {
	return func(ctx context.Context, db *sqlx.DB) (int64, int64, error) {
		var live int64
		if err := db.GetContext(ctx, &live, liveQuery); err != nil {
			return 0, 0, err
		}
		var stored int64
		query := fmt.Sprintf(`SELECT %s FROM school_stats ORDER BY stat_date DESC LIMIT 1`, column)
		if err := db.GetContext(ctx, &stored, query); err != nil {
			return 0, 0, err
		}
		return live, stored, nil
	}
}

func printReport(results []result) {
	fmt.Println("Stats Verify Report")
	fmt.Println("===================")
	for _, res := range results {
		status := "OK"
		if res.Err != nil {
			status = "ERROR"
		} else if !res.Match {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s\n", status, res.Check.Name)
		if res.Err != nil {
			fmt.Printf("  Error: %v (%s)\n", res.Err, res.Duration)
			continue
		}
		fmt.Printf("  Want: %d | Got: %d | Critical: %t (%s)\n", res.Want, res.Got, res.Check.Critical, res.Duration)
	}
}
