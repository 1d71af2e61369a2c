package service

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/schedule"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// maxBatchContent is the global content budget per commit. Media URLs are
// reused round-robin, so the budget is effectively unbounded.
const maxBatchContent = 1_000_000

type BatchService interface {
	Preflight(ctx context.Context, req *transfer.BatchRequest) (*transfer.PreflightResult, error)
	Commit(ctx context.Context, req *transfer.BatchRequest) (*transfer.BatchResult, error)
}

type batchService struct {
	db     *sql.DB
	pr     repository.PostRepository
	report ReportWriter
	cfg    config.Config
	rng    *rand.Rand
}

func NewBatchService(db *sql.DB, pr repository.PostRepository, report ReportWriter, cfg config.Config) BatchService {
	return &batchService{
		db:     db,
		pr:     pr,
		report: report,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// batchDay is the per-day context shared by preflight and commit.
type batchDay struct {
	day       time.Time
	requested int
	window    schedule.Window
	randomWin schedule.Window
}

func (s *batchService) expand(req *transfer.BatchRequest) ([]batchDay, *time.Location, time.Duration, error) {
	plan, err := schedule.ParseWeeklyPlan(req.WeeklyPlan)
	if err != nil {
		return nil, nil, 0, err
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("invalid end_date: %w", err)
	}
	days, err := schedule.DayList(start, end)
	if err != nil {
		return nil, nil, 0, err
	}

	loc := schedule.Location(req.Timezone)
	spacing := s.cfg.Scheduler.MinSpacing
	if req.MinSpacingMinutes > 0 {
		spacing = time.Duration(req.MinSpacingMinutes) * time.Minute
	}

	winStart := fmt.Sprintf("%02d:00", s.cfg.Scheduler.DayStartHour)
	winEnd := fmt.Sprintf("%02d:00", s.cfg.Scheduler.DayEndHour)
	randStart, randEnd := winStart, winEnd
	if req.RandomWindowStart != "" {
		randStart = req.RandomWindowStart
	}
	if req.RandomWindowEnd != "" {
		randEnd = req.RandomWindowEnd
	}

	var out []batchDay
	for _, d := range days {
		requested := plan.For(d)
		if requested <= 0 {
			continue
		}
		w, err := schedule.DayWindow(d, loc, winStart, winEnd)
		if err != nil {
			return nil, nil, 0, err
		}
		rw, err := schedule.DayWindow(d, loc, randStart, randEnd)
		if err != nil {
			return nil, nil, 0, err
		}
		out = append(out, batchDay{day: d, requested: requested, window: w, randomWin: rw})
	}
	return out, loc, spacing, nil
}

func (s *batchService) candidates(bd batchDay, randomize bool) []time.Time {
	if randomize {
		return schedule.RandomSpread(bd.randomWin, bd.requested, s.rng)
	}
	return schedule.Spread(bd.window, bd.requested)
}

// Preflight simulates placement with optional autoshift; nothing is inserted.
func (s *batchService) Preflight(ctx context.Context, req *transfer.BatchRequest) (*transfer.PreflightResult, error) {
	days, _, spacing, err := s.expand(req)
	if err != nil {
		return nil, err
	}

	res := &transfer.PreflightResult{
		Slots:             []string{},
		Conflicts:         []string{},
		MinSpacingMinutes: int(spacing / time.Minute),
		Autoshift:         req.AutoshiftEnabled(),
		Timezone:          req.Timezone,
		DailyLimit:        s.cfg.Scheduler.DailyLimit,
		Window: transfer.WindowInfo{
			StartHour: s.cfg.Scheduler.DayStartHour,
			EndHour:   s.cfg.Scheduler.DayEndHour,
		},
	}

	for _, bd := range days {
		existing, err := s.pr.ListActiveTimesInWindow(ctx, req.AccountID, bd.window.Start, bd.window.End)
		if err != nil {
			return nil, err
		}

		proposed := s.candidates(bd, req.Randomize)

		var placed, conflicts []time.Time
		if req.AutoshiftEnabled() {
			placed, conflicts = schedule.Autoshift(bd.window, proposed, existing, spacing)
		} else {
			for _, t := range proposed {
				if schedule.HasConflict(t, existing, spacing) {
					conflicts = append(conflicts, t)
				} else {
					placed = append(placed, t)
				}
			}
		}
		for _, t := range placed {
			res.Slots = append(res.Slots, t.Format(time.RFC3339))
		}
		for _, t := range conflicts {
			res.Conflicts = append(res.Conflicts, t.Format(time.RFC3339))
		}
	}
	return res, nil
}

// batchKey condenses the placement-relevant request content into the
// idempotency key prefix. The same request always maps onto the same
// client_request_id keys, so a resubmission lands on the existing rows.
func batchKey(req *transfer.BatchRequest) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%d|%t|%s|%s",
		req.AccountID, req.StartDate, req.EndDate, req.WeeklyPlan, req.Timezone,
		req.MinSpacingMinutes, req.Randomize, req.RandomWindowStart, req.RandomWindowEnd)
	for _, m := range req.MediaURLs {
		fmt.Fprintf(h, "|%s", m)
	}
	return h.Sum64()
}

// Commit creates posts per the weekly plan across the date range. Placement
// respects the daily cap and spacing; an override frees capacity by canceling
// the newest bookings in the window. Inserts are idempotent on
// batch_<key>_<index> keys derived from the request content, so resubmitting
// the same batch updates rather than duplicates.
func (s *batchService) Commit(ctx context.Context, req *transfer.BatchRequest) (*transfer.BatchResult, error) {
	days, loc, spacing, err := s.expand(req)
	if err != nil {
		return nil, err
	}

	dailyLimit := s.cfg.Scheduler.DailyLimit
	res := &transfer.BatchResult{
		CreatedIDs:        []int64{},
		PerDay:            []transfer.PerDayResult{},
		Skipped:           []transfer.SkipEntry{},
		DailyLimit:        dailyLimit,
		Timezone:          req.Timezone,
		Autoshift:         req.AutoshiftEnabled(),
		MinSpacingMinutes: int(spacing / time.Minute),
		Window: transfer.WindowInfo{
			StartHour: s.cfg.Scheduler.DayStartHour,
			EndHour:   s.cfg.Scheduler.DayEndHour,
		},
	}

	media := req.MediaURLs
	mediaAt := func(i int) string {
		if len(media) == 0 {
			return ""
		}
		return media[i%len(media)]
	}

	contentRemaining := maxBatchContent
	key := batchKey(req)
	idxGlobal := 0

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, bd := range days {
		dateStr := bd.day.Format("2006-01-02")

		existingCount, err2 := s.pr.CountActiveInWindow(ctx, req.AccountID, bd.window.Start, bd.window.End)
		if err2 != nil {
			err = err2
			return nil, err
		}
		room := dailyLimit - existingCount
		if room < 0 {
			room = 0
		}

		if req.OverrideConflicts && existingCount+bd.requested > dailyLimit && existingCount > 0 {
			needToFree := existingCount + bd.requested - dailyLimit
			if _, err2 := s.pr.CancelNewestInWindow(ctx, tx, req.AccountID, bd.window.Start, bd.window.End, needToFree); err2 != nil {
				err = err2
				return nil, err
			}
			room = dailyLimit
		}

		proposed := s.candidates(bd, req.Randomize)

		toTry := bd.requested
		if room < toTry {
			toTry = room
		}
		if contentRemaining < toTry {
			toTry = contentRemaining
		}
		if toTry > len(proposed) {
			toTry = len(proposed)
		}
		candidates := proposed[:toTry]

		for i, t := range proposed[toTry:] {
			res.Skipped = append(res.Skipped, skipEntry(dateStr, "daily_cap", t, loc,
				mediaAt(res.Created+i), fmt.Sprintf("Limit %d/day", dailyLimit)))
		}

		if toTry <= 0 {
			res.PerDay = append(res.PerDay, transfer.PerDayResult{Date: dateStr, Requested: bd.requested, Created: 0})
			continue
		}

		existing, err2 := s.pr.ListActiveTimesInWindow(ctx, req.AccountID, bd.window.Start, bd.window.End)
		if err2 != nil {
			err = err2
			return nil, err
		}

		var placed []time.Time
		if req.AutoshiftEnabled() {
			var unplaced []time.Time
			placed, unplaced = schedule.Autoshift(bd.window, candidates, existing, spacing)
			for i, t := range unplaced {
				res.Skipped = append(res.Skipped, skipEntry(dateStr, "no_slot", t, loc,
					mediaAt(res.Created+i), "Could not fit within window with spacing"))
			}
		} else {
			for i, t := range candidates {
				if schedule.HasConflict(t, existing, spacing) {
					res.Skipped = append(res.Skipped, skipEntry(dateStr, "conflict", t, loc,
						mediaAt(res.Created+i), "Conflicts with existing post"))
					continue
				}
				placed = append(placed, t)
			}
		}

		dayCreated := 0
		for _, t := range placed {
			mediaURL := mediaAt(res.Created)
			if mediaURL == "" {
				mediaURL = "/media/placeholder.png"
			}
			clientRequestID := fmt.Sprintf("batch_%d_%06d", key, idxGlobal)
			idxGlobal++

			post := &models.Post{
				AccountID:       req.AccountID,
				Platform:        "instagram",
				PostType:        models.PostTypePhoto,
				MediaURL:        mediaURL,
				Caption:         "",
				ScheduledAt:     t,
				ClientRequestID: sql.NullString{String: clientRequestID, Valid: true},
			}
			up, err2 := s.pr.Upsert(ctx, tx, post)
			if err2 != nil {
				err = err2
				return nil, err
			}
			res.CreatedIDs = append(res.CreatedIDs, up.ID)
			res.Created++
			dayCreated++
			contentRemaining--
			if contentRemaining <= 0 {
				break
			}
		}

		res.PerDay = append(res.PerDay, transfer.PerDayResult{Date: dateStr, Requested: bd.requested, Created: dayCreated})
		if contentRemaining <= 0 {
			break
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(res.Skipped) > 0 && s.report != nil {
		reportURL, rerr := s.report.WriteSkipReport(ctx, res.Skipped)
		if rerr != nil {
			// Posts were created; a missing report is not worth failing over.
			slog.Info("skip report upload failed", "error", rerr.Error())
		} else {
			res.SkippedReportURL = reportURL
		}
	}

	return res, nil
}

func skipEntry(date, reason string, t time.Time, loc *time.Location, mediaURL, note string) transfer.SkipEntry {
	return transfer.SkipEntry{
		Date:              date,
		Reason:            reason,
		IntendedLocalTime: t.In(loc).Format(time.RFC3339),
		IntendedUTCTime:   t.UTC().Format(time.RFC3339),
		MediaURL:          mediaURL,
		Note:              note,
	}
}
